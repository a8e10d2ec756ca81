// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package state holds short-lived secrets, such as a backup passphrase,
// that several steps of one command need.
package state

import "sync"

// Passphrase caches a secret after its first successful lookup. It keeps a
// byte slice so the value can be zeroed once the command is done. The zero
// value is ready to use.
type Passphrase struct {
	mu    sync.Mutex
	value []byte
}

// Resolve returns a copy of the cached secret, calling fetch to obtain it
// the first time. A failed fetch is not cached.
func (p *Passphrase) Resolve(fetch func() ([]byte, error)) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.value == nil {
		v, err := fetch()
		if err != nil {
			return nil, err
		}
		p.value = make([]byte, len(v))
		copy(p.value, v)
		Wipe(v)
	}
	out := make([]byte, len(p.value))
	copy(out, p.value)
	return out, nil
}

// Clear wipes the cached secret.
func (p *Passphrase) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	Wipe(p.value)
	p.value = nil
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
