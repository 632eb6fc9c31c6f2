package engine

import (
	"context"

	"github.com/goliatone/go-entity-engine/cache"
	"github.com/goliatone/go-entity-engine/entity"
	"github.com/goliatone/go-entity-engine/mapper"
	"github.com/uptrace/bun"
)

// GetObject loads one row by entity key, through the entity's object loader
// when one is configured. Single rows are not cached; only the select-all of
// GetObjects and the change and problem aggregates go through the cache.
func (e *Engine) GetObject(ctx context.Context, name entity.Name, id any) (entity.Row, error) {
	spec, err := e.specification(name)
	if err != nil {
		return nil, err
	}

	if loader := spec.ObjectLoader(); loader != nil {
		row, err := loader.LoadObject(ctx, id)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, entity.NewNotFoundError(name, id)
		}
		return row, nil
	}
	return e.selectOne(ctx, spec, id)
}

// GetObjects loads the rows matching query. The unfiltered select-all is
// cached under the entity's cache key and depends on the entity and its
// declared upstream entities. Cached result sets are shared; callers must not
// modify them.
func (e *Engine) GetObjects(ctx context.Context, name entity.Name, query entity.Query, opts entity.QueryOptions) (*entity.ResultSet, error) {
	spec, err := e.specification(name)
	if err != nil {
		return nil, err
	}

	load := func(ctx context.Context) (*entity.ResultSet, error) {
		if loader := spec.ObjectsLoader(); loader != nil {
			rs, err := loader.LoadObjects(ctx, query, opts)
			if err != nil {
				return nil, err
			}
			if rs == nil {
				rs = entity.NewResultSet()
			}
			return rs, nil
		}
		return e.selectMany(ctx, spec, query, opts)
	}

	if len(query) > 0 || !opts.IsZero() {
		return load(ctx)
	}

	scope, done := e.scope(ctx)
	defer done()
	if scope == nil {
		return load(ctx)
	}
	deps := append([]entity.Name{name}, spec.DependsOn()...)
	return cache.GetOrFetch(ctx, scope, spec.CacheKey(), load, deps...)
}

// ExistsEntity reports whether a row with the entity key id exists. More than
// one match is an integrity error.
func (e *Engine) ExistsEntity(ctx context.Context, name entity.Name, id any) (bool, error) {
	spec, err := e.specification(name)
	if err != nil {
		return false, err
	}
	key, err := encodeKey(spec, id)
	if err != nil || key == nil {
		return false, err
	}

	count, err := e.db.NewSelect().
		TableExpr("?", bun.Ident(spec.Table())).
		Where("? = ?", bun.Ident(spec.TableKey()), key).
		Count(ctx)
	if err != nil {
		return false, dbError(err, "count", spec)
	}
	if count > 1 {
		return false, entity.NewIntegrityError(
			"duplicate key in "+spec.Table(),
			map[string]any{"entity": name.String(), "id": entity.FormatID(id), "rows": count},
		)
	}
	return count == 1, nil
}

// ExistsEntities checks many keys with one statement. The result has an entry
// for every id, keyed by its entity.FormatID form.
func (e *Engine) ExistsEntities(ctx context.Context, name entity.Name, ids []any) (map[string]bool, error) {
	spec, err := e.specification(name)
	if err != nil {
		return nil, err
	}

	result := make(map[string]bool, len(ids))
	keys := make([]any, 0, len(ids))
	for _, id := range ids {
		result[entity.FormatID(id)] = false
		key, err := encodeKey(spec, id)
		if err != nil {
			return nil, err
		}
		if key != nil {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return result, nil
	}

	var rows []map[string]any
	err = e.db.NewSelect().
		TableExpr("?", bun.Ident(spec.Table())).
		Column(spec.TableKey()).
		Where("? IN (?)", bun.Ident(spec.TableKey()), bun.In(keys)).
		Scan(ctx, &rows)
	if err != nil {
		return nil, dbError(err, "check existence of", spec)
	}

	keyField, _ := spec.Field(spec.EntityKeyField())
	for _, row := range rows {
		id := entity.FormatID(mapper.DecodeValue(keyField, row[spec.TableKey()]))
		if _, asked := result[id]; asked {
			result[id] = true
		}
	}
	return result, nil
}

func (e *Engine) selectOne(ctx context.Context, spec *entity.Specification, id any) (entity.Row, error) {
	key, err := encodeKey(spec, id)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, entity.NewNotFoundError(spec.Name(), id)
	}

	var rows []map[string]any
	err = e.db.NewSelect().
		TableExpr("?", bun.Ident(spec.Table())).
		Where("? = ?", bun.Ident(spec.TableKey()), key).
		Limit(1).
		Scan(ctx, &rows)
	if err != nil {
		return nil, dbError(err, "select", spec)
	}
	if len(rows) == 0 {
		return nil, entity.NewNotFoundError(spec.Name(), id)
	}
	return mapper.Decode(spec, rows[0]), nil
}

func (e *Engine) selectMany(ctx context.Context, spec *entity.Specification, query entity.Query, opts entity.QueryOptions) (*entity.ResultSet, error) {
	conds, err := buildConditions(spec, query)
	if err != nil {
		return nil, err
	}

	q := e.db.NewSelect().TableExpr("?", bun.Ident(spec.Table()))
	q = applyConditions(q, conds, opts.Combine)
	if q, err = e.applyOptions(q, spec, opts); err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, dbError(err, "select", spec)
	}

	rs := entity.NewResultSet()
	for _, row := range rows {
		rs.Append(spec.EntityKeyField(), mapper.Decode(spec, row))
	}
	return rs, nil
}

// encodeKey returns the physical key for id, nil when id is null-like.
func encodeKey(spec *entity.Specification, id any) (any, error) {
	field, ok := spec.Field(spec.EntityKeyField())
	if !ok {
		field = entity.Field{Name: spec.EntityKeyField(), Column: spec.TableKey(), Kind: entity.KindID}
	}
	return mapper.EncodeValue(field, id)
}
