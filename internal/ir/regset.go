package ir

// RegSet is a bit set over register numbers.
type RegSet struct {
	words []uint64
}

// NewRegSet returns an empty set sized for n registers.
func NewRegSet(n int) RegSet {
	return RegSet{words: make([]uint64, (n+63)/64)}
}

func (s *RegSet) grow(reg uint16) {
	need := int(reg)/64 + 1
	for len(s.words) < need {
		s.words = append(s.words, 0)
	}
}

// Add inserts reg into the set.
func (s *RegSet) Add(reg uint16) {
	s.grow(reg)
	s.words[reg/64] |= 1 << (reg % 64)
}

// Remove deletes reg from the set.
func (s *RegSet) Remove(reg uint16) {
	if int(reg)/64 < len(s.words) {
		s.words[reg/64] &^= 1 << (reg % 64)
	}
}

// Has reports whether reg is in the set.
func (s RegSet) Has(reg uint16) bool {
	if int(reg)/64 >= len(s.words) {
		return false
	}
	return s.words[reg/64]&(1<<(reg%64)) != 0
}

// Union folds other into the set and reports whether it changed.
func (s *RegSet) Union(other RegSet) bool {
	changed := false
	for i, w := range other.words {
		if w == 0 {
			continue
		}
		for len(s.words) <= i {
			s.words = append(s.words, 0)
		}
		if s.words[i]|w != s.words[i] {
			s.words[i] |= w
			changed = true
		}
	}
	return changed
}

// Clone returns an independent copy.
func (s RegSet) Clone() RegSet {
	return RegSet{words: append([]uint64(nil), s.words...)}
}

// Equal reports whether both sets hold the same registers.
func (s RegSet) Equal(other RegSet) bool {
	long, short := s.words, other.words
	if len(short) > len(long) {
		long, short = short, long
	}
	for i, w := range short {
		if w != long[i] {
			return false
		}
	}
	for _, w := range long[len(short):] {
		if w != 0 {
			return false
		}
	}
	return true
}

// Empty reports whether no register is set.
func (s RegSet) Empty() bool {
	for _, w := range s.words {
		if w != 0 {
			return false
		}
	}
	return true
}
