/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

package account

// Registry owns the account pool in configuration order. Accounts are never
// removed; a permanently invalid account just stops being selectable.
type Registry struct {
	accounts []*Account
}

// NewRegistry builds a registry from configured specs.
func NewRegistry(specs []Spec) *Registry {
	accounts := make([]*Account, 0, len(specs))
	for _, s := range specs {
		accounts = append(accounts, New(s))
	}
	return &Registry{accounts: accounts}
}

// All returns the accounts in insertion order. The slice is shared; callers
// must not reorder it.
func (r *Registry) All() []*Account {
	return r.accounts
}

// Len returns the pool size.
func (r *Registry) Len() int {
	return len(r.accounts)
}

// ByDomain finds an account by its upstream domain.
func (r *Registry) ByDomain(domain string) (*Account, bool) {
	for _, a := range r.accounts {
		if a.Domain == domain {
			return a, true
		}
	}
	return nil, false
}

// ValidCount returns how many accounts are still usable.
func (r *Registry) ValidCount() int {
	n := 0
	for _, a := range r.accounts {
		if a.Valid() {
			n++
		}
	}
	return n
}
