// Package swrcache implements a client-resident, stale-while-revalidate data cache.
// Entries are addressed by composite keys (resource parts + optional pagination window),
// carry a per-key monotonic revision and are written only through atomic store operations.
//
// Components:
//   - Store[V]: keyed entries with status, staleness, subscribers and idle eviction.
//   - Query engine: Store.Query coalesces identical in-flight fetches and writes results
//     with a revision check, so a slow read never overwrites a newer write.
//   - Pager[V]: pagination window over a resource with page controls.
//   - Mutation[V, Vars, R]: snapshot / optimistic apply / confirm / rollback per key.
//   - channel.Binding (sub-package): realtime events translated into store invalidations.
//
// Keys:
//
//	todo:1        - resource parts "todo", "1"
//	users@0/10    - resource "users", page 0, size 10
//
// Optimistic write pattern:
//
//	m, _ := swrcache.NewMutation(store, swrcache.MutationOptions[Todo, Patch, Todo]{
//	    Mutate:     api.PatchTodo,
//	    Optimistic: func(cur Todo, _ bool, p Patch) Todo { cur.Done = p.Done; return cur },
//	})
//	_, err := m.Mutate(ctx, swrcache.MustKey("todo", "1"), Patch{Done: true}) // rolled back on error
package swrcache
