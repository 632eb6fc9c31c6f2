package engine

import (
	"context"
	"slices"

	"github.com/goliatone/go-entity-engine/audit"
	"github.com/goliatone/go-entity-engine/cache"
	"github.com/goliatone/go-entity-engine/entity"
)

// RecentChanges returns the newest change records, optionally restricted to
// owned entity types. Results are cached under the changes aggregate, which
// every write invalidates.
func (e *Engine) RecentChanges(ctx context.Context, maxRows int, owned ...entity.Name) ([]audit.ChangeRecord, error) {
	if e.audit == nil {
		return nil, nil
	}
	names := make([]string, len(owned))
	for i, name := range owned {
		names[i] = name.String()
	}
	key := e.keys.SerializeKey(cache.AggregateChanges, "recent", maxRows, names)

	return e.cachedChanges(ctx, key, func(ctx context.Context) ([]audit.ChangeRecord, error) {
		return e.audit.Changes(ctx, maxRows, owned...)
	})
}

// EntityChanges returns the history of one row, newest first.
func (e *Engine) EntityChanges(ctx context.Context, name entity.Name, id any) ([]audit.ChangeRecord, error) {
	if _, err := e.specification(name); err != nil {
		return nil, err
	}
	if e.audit == nil {
		return nil, nil
	}
	key := e.keys.SerializeKey(cache.AggregateChanges, "entity", name.String(), entity.FormatID(id))

	return e.cachedChanges(ctx, key, func(ctx context.Context) ([]audit.ChangeRecord, error) {
		return e.audit.EntityChanges(ctx, name, id)
	})
}

func (e *Engine) cachedChanges(ctx context.Context, key string, fetch func(context.Context) ([]audit.ChangeRecord, error)) ([]audit.ChangeRecord, error) {
	scope, done := e.scope(ctx)
	defer done()
	if scope == nil {
		return fetch(ctx)
	}

	cached, err := cache.GetOrFetch(ctx, scope, key, fetch)
	if err != nil {
		return nil, err
	}
	// persistent hits decode times in the local zone
	records := slices.Clone(cached)
	for i := range records {
		records[i].UpdatedOn = records[i].UpdatedOn.UTC()
	}
	return records, nil
}
