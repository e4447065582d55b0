package ftype

import "net/netip"

// CIDRSet matches addresses against a collection of prefixes using a binary
// trie per address family. Lookups cost one step per address bit.
type CIDRSet struct {
	v4  *cidrNode
	v6  *cidrNode
	len int
}

type cidrNode struct {
	terminal bool
	child    [2]*cidrNode
}

// NewCIDRSet builds a set from the given prefixes.
func NewCIDRSet(prefixes ...netip.Prefix) *CIDRSet {
	s := &CIDRSet{v4: &cidrNode{}, v6: &cidrNode{}}
	for _, p := range prefixes {
		s.Add(p)
	}
	return s
}

// Add inserts a prefix. Invalid prefixes are ignored.
func (s *CIDRSet) Add(p netip.Prefix) {
	if !p.IsValid() {
		return
	}

	p = p.Masked()
	addr := p.Addr()
	root := s.v6
	if addr.Is4() {
		root = s.v4
	}

	raw := addr.AsSlice()
	node := root
	for i := 0; i < p.Bits(); i++ {
		if node.terminal {
			// A shorter prefix already covers this one.
			return
		}
		b := bitAt(raw, i)
		if node.child[b] == nil {
			node.child[b] = &cidrNode{}
		}
		node = node.child[b]
	}

	node.terminal = true
	node.child = [2]*cidrNode{}
	s.len++
}

// Contains reports whether any prefix in the set contains addr.
func (s *CIDRSet) Contains(addr netip.Addr) bool {
	if s == nil || !addr.IsValid() {
		return false
	}

	addr = addr.Unmap()
	node := s.v6
	if addr.Is4() {
		node = s.v4
	}

	raw := addr.AsSlice()
	for i := 0; i < len(raw)*8; i++ {
		if node.terminal {
			return true
		}
		node = node.child[bitAt(raw, i)]
		if node == nil {
			return false
		}
	}

	return node.terminal
}

// Len returns the number of inserted prefixes that were not already covered.
func (s *CIDRSet) Len() int {
	if s == nil {
		return 0
	}
	return s.len
}

func bitAt(raw []byte, i int) int {
	return int(raw[i/8]>>(7-uint(i%8))) & 1
}
