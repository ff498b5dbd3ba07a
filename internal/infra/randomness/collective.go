// Package randomness provides seed sources for the ledger's genetic
// selectors. Seeds are opaque and not cryptographically unpredictable.
package randomness

import (
	"context"
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/blake2b"

	"kittyledger/pkg/domain"
)

var (
	_ domain.RandomnessSource = (*Collective)(nil)
	_ domain.RandomnessSource = Fixed(nil)
)

// DefaultWindow is the number of recent block hashes mixed into a seed.
const DefaultWindow = 81

// Collective derives seeds from a rolling window of recent block hashes.
// Each block hash chains the previous one with the block number, so the
// sequence is fully determined by the genesis hash.
type Collective struct {
	mu     sync.Mutex
	window [][]byte
	size   int
	block  uint64
	last   []byte
}

// NewCollective returns a source whose first block hash is derived from genesis.
// A non-positive size falls back to DefaultWindow.
func NewCollective(genesis []byte, size int) *Collective {
	if size <= 0 {
		size = DefaultWindow
	}
	first := blake2b.Sum256(genesis)
	c := &Collective{size: size, last: first[:]}
	c.window = append(c.window, c.last)
	return c
}

// Advance moves the source to the next block and returns its number.
func (c *Collective) Advance() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block++
	var num [8]byte
	binary.LittleEndian.PutUint64(num[:], c.block)
	h, _ := blake2b.New256(nil)
	_, _ = h.Write(c.last)
	_, _ = h.Write(num[:])
	c.last = h.Sum(nil)
	c.window = append(c.window, c.last)
	if len(c.window) > c.size {
		c.window = c.window[len(c.window)-c.size:]
	}
	return c.block
}

// Block returns the current block number.
func (c *Collective) Block() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

// Seed mixes every hash in the window, oldest first, into one 32-byte seed.
func (c *Collective) Seed(_ context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	var idx [1]byte
	for i, block := range c.window {
		idx[0] = byte(i)
		_, _ = h.Write(idx[:])
		_, _ = h.Write(block)
	}
	return h.Sum(nil), nil
}

// Fixed always returns the same seed.
type Fixed []byte

// Seed returns a copy of the fixed seed.
func (f Fixed) Seed(context.Context) ([]byte, error) {
	return append([]byte(nil), f...), nil
}
