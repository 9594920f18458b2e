// Package sf deduplicates concurrent calls that share a key.
//
// While a call for a key is in flight, later callers with the same key wait
// for it and receive its result instead of running their own:
//
//	var seeks sf.Group[uint64]
//	seq, shared, err := seeks.Do(key, func() (uint64, error) {
//	    return binarySearch(ctx, key)
//	})
package sf
