package cellarray

import (
	"sync"
)

// Column is a named, replaceable cell column. Each Replace bumps the
// generation so holders of derived state can tell they are out of date.
type Column struct {
	mu   sync.RWMutex
	name string
	arr  *CellArray
	gen  uint64
}

// NewColumn retains arr and starts at generation 1.
func NewColumn(name string, arr *CellArray) *Column {
	arr.Retain()
	return &Column{name: name, arr: arr, gen: 1}
}

// Name returns the column name.
func (c *Column) Name() string {
	return c.name
}

// Generation returns the current generation.
func (c *Column) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Snapshot returns the current array with an extra reference, and its generation.
func (c *Column) Snapshot() (*CellArray, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.arr.Retain()
	return c.arr, c.gen
}

// Replace swaps in arr and returns the new generation.
func (c *Column) Replace(arr *CellArray) uint64 {
	arr.Retain()

	c.mu.Lock()
	old := c.arr
	c.arr = arr
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	old.Release()
	return gen
}

// Release drops the column's reference to its array.
func (c *Column) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.arr != nil {
		c.arr.Release()
		c.arr = nil
	}
}
