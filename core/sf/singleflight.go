package sf

import "golang.org/x/sync/singleflight"

// Singleflight deduplicates concurrent function calls with the same key.
// Only the first caller executes the function; others wait and receive
// the same result.
type Singleflight[T any] struct {
	group singleflight.Group
}

// Do executes fn for the given key, deduplicating concurrent calls. shared
// reports whether the result was handed to more than one caller.
func (s *Singleflight[T]) Do(key string, fn func() (T, error)) (v T, shared bool, err error) {
	res, err, shared := s.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		return v, shared, err
	}
	return res.(T), shared, nil
}

// Forget drops key so the next Do call executes fn again.
func (s *Singleflight[T]) Forget(key string) { s.group.Forget(key) }

func New[T any]() *Singleflight[T] {
	return &Singleflight[T]{}
}
