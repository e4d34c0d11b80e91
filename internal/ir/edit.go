package ir

import "dexsmith/internal/dex"

// Edit balloons code, hands the body to fn, and syncs the result back into
// code when fn succeeds. On any failure the code units are left untouched.
//
// This is the convenience form of the balloon/mutate/sync cycle for callers
// that edit one method in isolation; the driver keeps the two halves apart
// so it can stage and parallelize them.
func Edit(code *dex.Code, fn func(*Body) error) error {
	b, err := Balloon(code)
	if err != nil {
		return err
	}
	if err := fn(b); err != nil {
		return err
	}
	return b.Sync(code)
}
