// Package cache holds small in-process caches used by event log adapters,
// such as remembering where a stream version starts in a JetStream stream or
// the retention configured for a stream.
//
// [LRU] evicts the least recently used entry once Size is reached and drops
// entries whose TTL passed when they are read. All operations run on one
// goroutine, so it is safe for concurrent use; call Close to stop it.
//
//	c := cache.NewLRU(cache.LRUOpts{Size: 4096})
//	defer c.Close()
//	seeks := cache.NewTyped[uint64](c)
//	seeks.Put("seek:es.resource-1@250", 1042, cache.WithTTL(time.Minute))
//
// [Nop] never stores anything; it disables caching.
package cache
