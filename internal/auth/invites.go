package auth

import "sync"

// Invites maps invite passwords to their Unix expiry. Entries are kept in
// memory only and disappear on restart.
type Invites struct {
	mu sync.Mutex
	m  map[string]int64
}

// NewInvites creates an empty invite table.
func NewInvites() *Invites {
	return &Invites{m: make(map[string]int64)}
}

// Put stores (or replaces) an invite.
func (i *Invites) Put(password string, expires int64) {
	i.mu.Lock()
	i.m[password] = expires
	i.mu.Unlock()
}

// Valid reports whether password is a known invite with now <= expiry.
func (i *Invites) Valid(password string, now int64) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	exp, ok := i.m[password]
	return ok && now <= exp
}

// Prune removes invites that expired before now and returns how many were
// removed.
func (i *Invites) Prune(now int64) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for pw, exp := range i.m {
		if now > exp {
			delete(i.m, pw)
			n++
		}
	}
	return n
}
