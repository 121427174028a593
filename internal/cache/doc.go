// Package cache provides a generic, size-bounded LRU cache.
//
//	c := cache.New[string, []uint32](64)
//	words, hit, err := c.GetOrCompute(key, compile)
//
// Failed computations are not stored.
//
// # Thread Safety
//
// Cache is safe for concurrent use. It must not be copied after creation
// (it contains a mutex).
package cache
