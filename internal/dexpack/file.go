package dexpack

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"dexsmith/internal/dex"
)

// Load reads a .dxp container from disk and rebuilds its scope.
func Load(path string) (*dex.Scope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dexpack: %w", err)
	}
	defer f.Close()

	var payload Payload
	dec := msgpack.NewDecoder(f)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("dexpack: %s: failed to decode: %w", path, err)
	}
	scope, err := Decode(&payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scope, nil
}

// Save writes a scope as a .dxp container. The file is written to a
// temporary sibling first and renamed into place so a crash mid-write
// never leaves a truncated container behind.
func Save(path string, scope *dex.Scope) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("dexpack: %w", err)
	}
	f, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return fmt.Errorf("dexpack: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	enc := msgpack.NewEncoder(f)
	if err := enc.Encode(Encode(scope)); err != nil {
		f.Close()
		return fmt.Errorf("dexpack: %s: failed to encode: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("dexpack: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("dexpack: %w", err)
	}
	return nil
}
