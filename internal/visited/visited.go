// Package visited tracks visited node labels during graph traversal.
package visited

// Set tracks visited labels using a bitset plus a dirty list for O(visited)
// reset instead of O(capacity).
type Set struct {
	bits  []uint64
	dirty []uint32
}

// New creates a set sized for the given number of labels.
func New(capacity int) *Set {
	return &Set{
		bits:  make([]uint64, (capacity+63)/64),
		dirty: make([]uint32, 0, 128),
	}
}

// Visit marks a label as visited.
func (s *Set) Visit(label uint32) {
	word := int(label >> 6)
	mask := uint64(1) << (label & 63)

	if word >= len(s.bits) {
		s.grow(word + 1)
	}

	if s.bits[word]&mask == 0 {
		s.bits[word] |= mask
		s.dirty = append(s.dirty, label)
	}
}

// Visited reports whether a label has been visited.
func (s *Set) Visited(label uint32) bool {
	word := int(label >> 6)
	if word >= len(s.bits) {
		return false
	}
	return s.bits[word]&(uint64(1)<<(label&63)) != 0
}

// Reset clears every label visited since the last reset.
func (s *Set) Reset() {
	for _, label := range s.dirty {
		s.bits[label>>6] &^= uint64(1) << (label & 63)
	}
	s.dirty = s.dirty[:0]
}

func (s *Set) grow(words int) {
	next := len(s.bits) * 2
	if next < words {
		next = words
	}
	bits := make([]uint64, next)
	copy(bits, s.bits)
	s.bits = bits
}
