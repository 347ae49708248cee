// Package idgenerator hands out non-zero uint32 identifiers for sessions,
// games and database requests.
package idgenerator

import "sync/atomic"

// IdGenerator generates increasing uint32 IDs in a concurrency-safe manner.
// Zero is reserved as "no id" and is never returned; when the counter wraps
// around it continues at 1.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator whose first Id() returns
// startValue+1 (or 1 if that would be zero).
//
// Parameters:
//   - startValue: The value to initialize the counter to
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next ID. It is safe for concurrent use by multiple
// goroutines and never returns 0.
//
// Returns:
//   - The next non-zero uint32 ID
func (g *IdGenerator) Id() uint32 {
	for {
		if id := g.id.Add(1); id != 0 {
			return id
		}
	}
}

// Last returns the most recently issued ID, or the start value if none has
// been issued yet.
func (g *IdGenerator) Last() uint32 {
	return g.id.Load()
}
