// Package sf provides a generic single-flight mechanism for deduplicating
// concurrent function calls with the same key.
//
// The repository uses it so that concurrent loads of the same aggregate with
// the same options build the aggregate at most once:
//
//	g := sf.New[Aggregate]()
//	agg, _, err := g.Do(key, func() (Aggregate, error) {
//	    return build(ctx)
//	})
package sf
