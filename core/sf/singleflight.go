package sf

import "golang.org/x/sync/singleflight"

// Group is a typed singleflight.Group. The zero value is ready to use.
type Group[T any] struct {
	g singleflight.Group
}

// Do runs fn once per key at a time. shared reports whether the result was
// handed to more than one caller.
func (s *Group[T]) Do(key string, fn func() (T, error)) (v T, shared bool, err error) {
	out, err, shared := s.g.Do(key, func() (any, error) {
		return fn()
	})
	if out != nil {
		v = out.(T)
	}
	return v, shared, err
}

// Forget makes the next Do for key run fn even if a call is still in flight.
func (s *Group[T]) Forget(key string) { s.g.Forget(key) }
