// Package cache provides the two-tier, dependency-aware cache used by the
// entity engine.
//
// # Tiers
//
// A Service wraps the persistent tier (a Store shared across requests and,
// with the redis backend, across processes). Each request opens a Scope with
// Service.Begin or Service.Run. The scope owns the memory tier: values put in
// it are visible immediately to the rest of the request and are queued for
// write-back.
//
//	err := svc.Run(ctx, func(ctx context.Context) error {
//		scope, _ := cache.ScopeFromContext(ctx)
//		rows, err := cache.GetOrFetch(ctx, scope, "files", loadFiles, fileName)
//		...
//	})
//
// # Dependencies
//
// Every key carries the set of entity types its value embeds. The set only
// grows. Scope.Invalidate removes every key whose set intersects the changed
// types, from both tiers, together with the aggregate keys (changes and
// problems by default) that summarize all entity types. The key to dependency
// mapping is itself persisted under DependencyIndexKey.
//
// # Write-back
//
// When a scope closes it persists at most Config.MaxItemsToCache pending
// entries, in the order they were first stored. Entries past the bound are
// kept in memory for the rest of the request only.
//
// # Keys
//
// KeySerializer turns a namespace and arguments into a key. The default
// serializer hashes a canonical rendering of the arguments with xxhash, so
// every key under a namespace shares the "namespace::" prefix that aggregate
// invalidation matches on.
package cache
