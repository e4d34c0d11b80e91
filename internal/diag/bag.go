package diag

import (
	"sort"

	"fortio.org/safecast"
)

// Bag collects diagnostics up to a fixed limit. Passes report into a bag so
// a pathological input cannot flood the output.
type Bag struct {
	items []Diagnostic
	max   uint16
}

func NewBag(max int) *Bag {
	capped, err := safecast.Conv[uint16](max)
	if err != nil {
		capped = ^uint16(0)
	}
	return &Bag{
		items: make([]Diagnostic, 0, capped),
		max:   capped,
	}
}

// Add appends a diagnostic, honoring the limit. It returns false when the
// diagnostic was dropped because the bag is full.
func (b *Bag) Add(d Diagnostic) bool {
	if len(b.items) >= int(b.max) {
		return false
	}
	b.items = append(b.items, d)
	return true
}

func (b *Bag) Cap() uint16 {
	return b.max
}

// HasErrors reports whether the bag holds at least one SevError diagnostic.
func (b *Bag) HasErrors() bool {
	for i := range b.items {
		if b.items[i].Severity >= SevError {
			return true
		}
	}
	return false
}

// HasWarnings reports whether the bag holds at least one diagnostic of
// warning severity or above.
func (b *Bag) HasWarnings() bool {
	for i := range b.items {
		if b.items[i].Severity >= SevWarning {
			return true
		}
	}
	return false
}

func (b *Bag) Len() int {
	return len(b.items)
}

// Items returns a read-only view of the collected diagnostics. The slice
// aliases the bag's internal storage; do not modify it.
func (b *Bag) Items() []Diagnostic {
	return b.items
}

// Merge appends another bag's diagnostics, raising the limit if needed so
// nothing already collected is lost.
func (b *Bag) Merge(other *Bag) {
	if other == nil {
		return
	}
	newTotal, err := safecast.Conv[uint16](len(b.items) + len(other.items))
	if err != nil {
		newTotal = ^uint16(0)
	}
	if newTotal > b.max {
		b.max = newTotal
	}
	b.items = append(b.items, other.items...)
}

// Sort orders diagnostics by class, method, address, severity (descending)
// and code, for deterministic output.
func (b *Bag) Sort() {
	sort.SliceStable(b.items, func(i, j int) bool {
		di, dj := b.items[i], b.items[j]
		if di.Primary.Class != dj.Primary.Class {
			return di.Primary.Class < dj.Primary.Class
		}
		if di.Primary.Method != dj.Primary.Method {
			return di.Primary.Method < dj.Primary.Method
		}
		if di.Primary.Addr != dj.Primary.Addr {
			return di.Primary.Addr < dj.Primary.Addr
		}
		if di.Severity != dj.Severity {
			return di.Severity > dj.Severity
		}
		return di.Code < dj.Code
	})
}

// Dedup drops diagnostics that repeat an earlier code+site pair.
func (b *Bag) Dedup() {
	type key struct {
		code Code
		site Site
	}
	seen := make(map[key]bool, len(b.items))
	newitems := b.items[:0]
	for _, d := range b.items {
		k := key{code: d.Code, site: d.Primary}
		if seen[k] {
			continue
		}
		seen[k] = true
		newitems = append(newitems, d)
	}
	b.items = newitems
}
