// Copyright 2025 The Ozmem Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package entropy implements the kernel's cryptographically secure
// pseudorandom number generator.
//
// The pool derives a fixed-size secret key by hashing every entropy sample
// ever mixed in together with the prior key, and produces output by running a
// ChaCha20 keystream under that key with a strictly increasing nonce. Draws
// block until a minimum amount of entropy has been mixed in; drawing from an
// under-seeded generator is a worse outcome than stalling boot.
package entropy

import (
	"crypto/sha256"
	"encoding/binary"
	"math/bits"

	"golang.org/x/crypto/chacha20"

	"ozmem.dev/ozmem/pkg/fatal"
	"ozmem.dev/ozmem/pkg/sync"
)

const (
	// KeySize is the size in bytes of the pool's secret key.
	KeySize = sha256.Size

	// MinEntropyBytes is the amount of entropy that must be mixed in before
	// Draw produces output.
	MinEntropyBytes = 32

	// MaxAddSize is the per-call maximum for AddEntropy. Larger samples
	// indicate a confused caller, not a bigger seed.
	MaxAddSize = 256

	// MaxDrawSize is the per-call maximum for Draw.
	MaxDrawSize = 1 << 16

	// nonceOverflow is the start of the reserved nonce range. A counter that
	// reaches it would eventually repeat under the current key, so crossing
	// it is an invariant violation rather than a wrap.
	nonceOverflow = uint64(1) << 63
)

// Pool is a seedable CSPRNG. It is safe for concurrent use: AddEntropy calls
// are totally ordered with respect to each other, and concurrent Draws
// serialize only for nonce assignment, performing keystream work with no lock
// held.
//
// The zero value is not usable; call NewPool.
type Pool struct {
	// mixMu serializes AddEntropy calls so that every sample observes the
	// key produced by the previous mix.
	mixMu sync.Mutex

	// mu guards the fields below. Critical sections under mu are short and
	// never block, mirroring an interrupt-safe spinlock in the kernel
	// setting.
	mu        sync.Mutex
	cond      *sync.Cond // signaled when seeded becomes true
	key       [KeySize]byte
	nonce     uint64
	added     uint64 // total entropy bytes mixed in; only increases
	seeded    bool
	destroyed bool
}

// NewPool returns a Pool whose key is derived from seed. seed may be empty;
// in either case Draw blocks until MinEntropyBytes of entropy have been mixed
// in via AddEntropy.
func NewPool(seed []byte) *Pool {
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	h := sha256.New()
	h.Write(seed)
	sum := h.Sum(nil)
	copy(p.key[:], sum)
	wipe(sum)
	return p
}

// AddEntropy mixes data into the pool's key by replacing the key with
// H(data ‖ key). It returns a violation if len(data) exceeds MaxAddSize.
//
// Crossing the minimum-entropy threshold wakes every context blocked in Draw.
func (p *Pool) AddEntropy(data []byte) error {
	if len(data) > MaxAddSize {
		return fatal.Newf("entropy.AddEntropy", fatal.ErrOversized, "%d bytes > max %d", len(data), MaxAddSize)
	}

	p.mixMu.Lock()
	defer p.mixMu.Unlock()

	// Assemble data ‖ key in a fixed buffer so every byte of key material
	// touched here can be wiped on the way out.
	var buf [MaxAddSize + KeySize]byte
	defer wipe(buf[:])
	n := copy(buf[:], data)

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return fatal.New("entropy.AddEntropy", fatal.ErrBadState)
	}
	n += copy(buf[n:], p.key[:])
	p.mu.Unlock()

	sum := sha256.Sum256(buf[:n])
	defer wipe(sum[:])

	p.mu.Lock()
	copy(p.key[:], sum[:])
	p.added += uint64(len(data))
	if !p.seeded && p.added >= MinEntropyBytes {
		p.seeded = true
		p.cond.Broadcast()
	}
	p.mu.Unlock()
	return nil
}

// Draw fills b with pseudorandom bytes. If the pool has not yet accumulated
// MinEntropyBytes of entropy, the calling goroutine blocks until it has;
// there is no timeout. It returns a violation if len(b) exceeds MaxDrawSize
// or the nonce space is exhausted.
func (p *Pool) Draw(b []byte) error {
	if len(b) > MaxDrawSize {
		return fatal.Newf("entropy.Draw", fatal.ErrOversized, "%d bytes > max %d", len(b), MaxDrawSize)
	}

	// Take a key snapshot and claim a nonce under the fine lock; the
	// keystream computation below runs with no lock held so independent
	// draws overlap.
	var key [KeySize]byte
	defer wipe(key[:])

	p.mu.Lock()
	for !p.seeded && !p.destroyed {
		p.cond.Wait()
	}
	if p.destroyed {
		p.mu.Unlock()
		return fatal.New("entropy.Draw", fatal.ErrBadState)
	}
	ctr := p.nonce
	p.nonce++
	copy(key[:], p.key[:])
	p.mu.Unlock()

	if ctr >= nonceOverflow {
		return fatal.Newf("entropy.Draw", fatal.ErrNonceExhausted, "counter %#x", ctr)
	}

	var nonce [chacha20.NonceSize]byte
	defer wipe(nonce[:])
	binary.LittleEndian.PutUint64(nonce[4:], ctr)

	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// Key and nonce sizes are fixed above, so this cannot happen.
		return fatal.New("entropy.Draw", err)
	}
	wipe(b)
	c.XORKeyStream(b, b)
	return nil
}

// RandomInt returns a uniformly distributed value in [0, bound) via rejection
// sampling over a minimally sized bit mask; the rejection probability is
// below one half, so the expected number of retries is O(1). bound must be
// nonzero.
func (p *Pool) RandomInt(bound uint64) (uint64, error) {
	if bound == 0 {
		return 0, fatal.Newf("entropy.RandomInt", fatal.ErrOversized, "zero bound")
	}
	if bound == 1 {
		return 0, nil
	}
	mask := uint64(1)<<bits.Len64(bound-1) - 1
	var raw [8]byte
	defer wipe(raw[:])
	for {
		if err := p.Draw(raw[:]); err != nil {
			return 0, err
		}
		if v := binary.LittleEndian.Uint64(raw[:]) & mask; v < bound {
			return v, nil
		}
	}
}

// Read implements io.Reader. It is a thin adapter over Draw, splitting large
// reads into MaxDrawSize pieces.
func (p *Pool) Read(b []byte) (int, error) {
	n := len(b)
	for len(b) > 0 {
		chunk := b
		if len(chunk) > MaxDrawSize {
			chunk = chunk[:MaxDrawSize]
		}
		if err := p.Draw(chunk); err != nil {
			return n - len(b), err
		}
		b = b[len(chunk):]
	}
	return n, nil
}

// EntropyAdded returns the total number of entropy bytes mixed in so far.
func (p *Pool) EntropyAdded() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.added
}

// Seeded returns true if the pool has reached its minimum entropy and Draw
// will not block.
func (p *Pool) Seeded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seeded
}

// Destroy overwrites the pool's key material and permanently disables the
// pool. Any context blocked in Draw is woken and fails with a violation.
func (p *Pool) Destroy() {
	p.mu.Lock()
	wipe(p.key[:])
	p.destroyed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// wipe overwrites b with zeroes. Key and nonce material is passed through
// wipe on every exit path rather than left for the collector.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
