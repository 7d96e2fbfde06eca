package p2p

import "sync"

// AddrSet is the ordered, de-duplicated list of textual listener addresses.
type AddrSet struct {
	mu    sync.Mutex
	addrs []string
}

// Add appends addr unless it is already present. It reports whether the set
// changed.
func (s *AddrSet) Add(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.addrs {
		if a == addr {
			return false
		}
	}
	s.addrs = append(s.addrs, addr)
	return true
}

// List returns a copy of the addresses in insertion order.
func (s *AddrSet) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.addrs))
	copy(out, s.addrs)
	return out
}

// First returns the earliest added address.
func (s *AddrSet) First() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.addrs) == 0 {
		return "", false
	}
	return s.addrs[0], true
}
