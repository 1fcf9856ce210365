// Package cache provides the key-value memoization stores used by the
// event-sourcing repository to deduplicate loads within one unit of work.
//
// The package defines two interfaces:
//
//   - [Cache]: Untyped cache storing values as any
//   - [TypedCache]: Generic type-safe wrapper via [NewTyped]
//
// # Implementations
//
//   - [Map]: unbounded, meant to be created per command or request
//   - [LRU]: bounded, safe for concurrent use, optional TTL per entry
//
// # Scoping
//
// A cache can be carried by a context so that every repository call made
// while handling one command shares it:
//
//	ctx = cache.NewContext(ctx, cache.NewMap())
//	order, err := orders.Load(ctx, id) // memoized
//
// Entries are never invalidated by a commit. A second load of the same key
// in the same scope after a commit returns the memoized instance.
//
// # TTL Support
//
// Use [WithTTL] to set per-entry expiration on an [LRU]:
//
//	cache.Put("session", data, cache.WithTTL(30*time.Minute))
package cache
