package paylink

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"
)

// VerificationCache keeps payment-check answers per (order, transaction, slug)
// for a short window and coalesces concurrent checks of the same tuple into one
// processor call. Negative answers are kept too, so a reload inside the window
// reads as "not confirmed yet" without another outbound request.
type VerificationCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cachedVerification
	pending map[string]chan struct{}
}

type cachedVerification struct {
	result  VerificationResult
	expires time.Time
}

func (e cachedVerification) live(now time.Time) bool {
	return now.Before(e.expires)
}

// NewVerificationCache returns an empty cache whose entries live for ttl
func NewVerificationCache(ttl time.Duration) *VerificationCache {
	return &VerificationCache{
		ttl:     ttl,
		entries: make(map[string]cachedVerification),
		pending: make(map[string]chan struct{}),
	}
}

// GenerateVerificationKey hashes a verification tuple into a cache key.
// Each field is length-prefixed so ("ab","c") and ("a","bc") differ.
func GenerateVerificationKey(orderID OrderID, txID, slug string) string {
	h := sha256.New()
	var size [8]byte
	for _, part := range []string{string(orderID), txID, slug} {
		binary.LittleEndian.PutUint64(size[:], uint64(len(part)))
		h.Write(size[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CacheStatus is the outcome of CheckAndMark
type CacheStatus int

const (
	// StatusNotFound: the caller now owns the check and must Complete or Fail it
	StatusNotFound CacheStatus = iota
	// StatusCached: a live answer was returned
	StatusCached
	// StatusInFlight: another caller is checking; wait on the returned channel
	StatusInFlight
)

// CheckAndMark looks the key up and, when there is neither a live answer nor a
// check in progress, registers the caller as the owner of a new check. The
// returned channel is closed when the owning check finishes.
func (c *VerificationCache) CheckAndMark(key string) (CacheStatus, *VerificationResult, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result := c.lookupLocked(key, time.Now()); result != nil {
		return StatusCached, result, nil
	}
	if done, ok := c.pending[key]; ok {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	c.pending[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult blocks until done is closed or ctx ends. A nil result means the
// owning check failed and nothing was stored.
func (c *VerificationCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*VerificationResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		return c.Get(key), nil
	}
}

// Get returns the live answer for key, or nil
func (c *VerificationCache) Get(key string) *VerificationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(key, time.Now())
}

// Complete stores the answer, releases waiters and sweeps stale entries
func (c *VerificationCache) Complete(key string, result VerificationResult, done chan struct{}) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cachedVerification{result: result, expires: now.Add(c.ttl)}
	c.releaseLocked(key, done)

	for k, e := range c.entries {
		if !e.live(now) {
			delete(c.entries, k)
		}
	}
}

// Fail releases waiters without storing anything, so the next caller checks again
func (c *VerificationCache) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(key, done)
}

// Delete drops a stored answer. A check in progress is not affected.
func (c *VerificationCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored answers, stale ones included
func (c *VerificationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *VerificationCache) lookupLocked(key string, now time.Time) *VerificationResult {
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if !e.live(now) {
		delete(c.entries, key)
		return nil
	}
	result := e.result
	return &result
}

func (c *VerificationCache) releaseLocked(key string, done chan struct{}) {
	if c.pending[key] == done {
		delete(c.pending, key)
	}
	close(done)
}
