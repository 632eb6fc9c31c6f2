package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/goliatone/go-entity-engine/audit"
	"github.com/goliatone/go-entity-engine/cache"
	"github.com/goliatone/go-entity-engine/entity"
	"github.com/goliatone/go-entity-engine/mapper"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// CreateEntity inserts a row and returns its entity key. Required fields are
// checked before anything else runs; a missing one fails with no insert, no
// change record and no cache invalidation.
func (e *Engine) CreateEntity(ctx context.Context, name entity.Name, data entity.Row) (any, error) {
	spec, err := e.writableSpecification(name)
	if err != nil {
		return nil, err
	}
	if missing := missingRequired(spec, data); len(missing) > 0 {
		return nil, entity.NewMissingRequiredFieldError(name, missing)
	}

	scope, done := e.scope(ctx)
	defer done()
	ctx = cache.WithScope(ctx, scope)

	data = data.Clone()
	if data == nil {
		data = entity.Row{}
	}
	if pre := spec.Preprocessor(); pre != nil {
		if data, err = pre.Preprocess(ctx, data, nil, entity.ActionCreate); err != nil {
			return nil, err
		}
	}

	row := make(entity.Row, len(data))
	for field, value := range data {
		if _, ok := spec.Field(field); ok {
			row[field] = value
		}
	}
	if len(row) == 0 {
		return nil, entity.NewInvalidArgumentError(
			"no mapped field in data for "+name.String(),
			map[string]any{"entity": name.String()},
		)
	}

	actor := ActorFromContext(ctx)
	now := e.now().UTC()
	stampCreate(spec, row, actor, now)

	physical, err := mapper.Encode(spec, row)
	if err != nil {
		return nil, err
	}
	id, err := e.insert(ctx, spec, physical)
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "entity created",
		slog.String("entity", name.String()),
		slog.String("id", entity.FormatID(id)),
	)

	e.report(ctx, spec, audit.NewDiff(name, id, actor, now).Created())
	e.invalidate(ctx, scope, name)

	if post := spec.Postprocessor(); post != nil {
		reloaded, err := e.GetObject(ctx, name, id)
		if err != nil {
			return id, err
		}
		if err := post.Postprocess(ctx, data, reloaded, entity.ActionCreate); err != nil {
			return id, err
		}
		e.invalidate(ctx, scope, name)
	}
	return id, nil
}

// UpdateEntity writes the fields of data whose value differs from the stored
// row, plus every field in fieldsToTouch, and returns the reloaded row. Each
// written field gets one change record and its <field>UpdatedOn/By and
// many-to-one group stamps. Touched fields missing from data keep their
// stored value.
func (e *Engine) UpdateEntity(ctx context.Context, name entity.Name, id any, data entity.Row, fieldsToTouch ...string) (entity.Row, error) {
	spec, err := e.writableSpecification(name)
	if err != nil {
		return nil, err
	}

	scope, done := e.scope(ctx)
	defer done()
	ctx = cache.WithScope(ctx, scope)

	current, err := e.GetObject(ctx, name, id)
	if err != nil {
		return nil, err
	}

	data = data.Clone()
	if data == nil {
		data = entity.Row{}
	}
	if pre := spec.Preprocessor(); pre != nil {
		if data, err = pre.Preprocess(ctx, data, current.Clone(), entity.ActionUpdate); err != nil {
			return nil, err
		}
		if data == nil {
			data = entity.Row{}
		}
	}

	touched := make(map[string]bool, len(fieldsToTouch))
	for _, field := range fieldsToTouch {
		if _, err := lookupField(spec, field); err != nil {
			return nil, err
		}
		touched[field] = true
		if !data.Has(field) {
			data[field] = current[field]
		}
	}

	actor := ActorFromContext(ctx)
	now := e.now().UTC()
	diff := audit.NewDiff(name, id, actor, now)
	changes := entity.Row{}
	valueChanged := false

	fields := make([]string, 0, len(data))
	for field := range data {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, fieldName := range fields {
		field, ok := spec.Field(fieldName)
		if !ok || isStampField(spec, fieldName) {
			continue
		}
		newValue, err := mapper.Canonical(field, data[fieldName])
		if err != nil {
			return nil, err
		}
		oldValue, stored := current[fieldName]
		differs := !sameValue(oldValue, newValue)
		if !touched[fieldName] && !(stored && differs) {
			continue
		}

		changes[fieldName] = newValue
		diff = diff.Change(fieldName, oldValue, newValue)
		valueChanged = valueChanged || differs

		stampField(spec, changes, fieldName, actor, now)
		for _, group := range spec.ManyToOneGroups(fieldName) {
			stampField(spec, changes, group, actor, now)
		}
	}

	if len(changes) == 0 {
		return current, nil
	}
	if valueChanged || touched[spec.EntityKeyField()] {
		stampEntity(spec, changes, actor, now)
	}

	newID := id
	if value, ok := changes[spec.EntityKeyField()]; ok && value != nil && !sameValue(current[spec.EntityKeyField()], value) {
		newID = value
		diff = diff.ForID(newID)
	}

	physical, err := mapper.Encode(spec, changes)
	if err != nil {
		return nil, err
	}
	key, err := encodeKey(spec, id)
	if err != nil {
		return nil, err
	}
	if _, err := e.db.NewUpdate().
		Model(&physical).
		TableExpr("?", bun.Ident(spec.Table())).
		Where("? = ?", bun.Ident(spec.TableKey()), key).
		Exec(ctx); err != nil {
		return nil, dbError(err, "update", spec)
	}
	e.logger.InfoContext(ctx, "entity updated",
		slog.String("entity", spec.Name().String()),
		slog.String("id", entity.FormatID(newID)),
		slog.Int("fields", diff.Len()),
	)

	e.report(ctx, spec, diff)
	e.invalidate(ctx, scope, spec.Name())

	row, err := e.GetObject(ctx, spec.Name(), newID)
	if err != nil {
		return nil, err
	}
	if post := spec.Postprocessor(); post != nil {
		if err := post.Postprocess(ctx, data, row, entity.ActionUpdate); err != nil {
			return row, err
		}
		e.invalidate(ctx, scope, spec.Name())
		if row, err = e.GetObject(ctx, spec.Name(), newID); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// TouchEntity bumps the stamps of field, or of the entity key when field is
// empty, without changing any value.
func (e *Engine) TouchEntity(ctx context.Context, name entity.Name, id any, field string) (entity.Row, error) {
	if field == "" {
		spec, err := e.specification(name)
		if err != nil {
			return nil, err
		}
		field = spec.EntityKeyField()
	}
	return e.UpdateEntity(ctx, name, id, entity.Row{}, field)
}

// DeleteEntity removes one row. The entity must enable deletes, the row must
// exist and exactly one row must be removed.
func (e *Engine) DeleteEntity(ctx context.Context, name entity.Name, id any) error {
	spec, err := e.specification(name)
	if err != nil {
		return err
	}
	if !spec.DeleteEnabled() {
		return entity.NewInvalidArgumentError(
			"delete is not enabled for "+name.String(),
			map[string]any{"entity": name.String()},
		)
	}

	exists, err := e.ExistsEntity(ctx, name, id)
	if err != nil {
		return err
	}
	if !exists {
		return entity.NewNotFoundError(name, id)
	}

	key, err := encodeKey(spec, id)
	if err != nil {
		return err
	}
	res, err := e.db.NewDelete().
		TableExpr("?", bun.Ident(spec.Table())).
		Where("? = ?", bun.Ident(spec.TableKey()), key).
		Exec(ctx)
	if err != nil {
		return dbError(err, "delete", spec)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return dbError(err, "delete", spec)
	}
	if affected != 1 {
		return entity.NewIntegrityError(
			"delete removed an unexpected number of rows from "+spec.Table(),
			map[string]any{"entity": name.String(), "id": entity.FormatID(id), "rows": affected},
		)
	}
	e.logger.InfoContext(ctx, "entity deleted",
		slog.String("entity", name.String()),
		slog.String("id", entity.FormatID(id)),
	)

	scope, done := e.scope(ctx)
	defer done()

	e.report(ctx, spec, audit.NewDiff(name, id, ActorFromContext(ctx), e.now()).Deleted())
	e.invalidate(ctx, scope, name)
	return nil
}

// insert runs the insert and returns the entity key, generated by the
// database unless physical already carries one.
func (e *Engine) insert(ctx context.Context, spec *entity.Specification, physical map[string]any) (any, error) {
	keyField, ok := spec.Field(spec.EntityKeyField())
	if !ok {
		keyField = entity.Field{Name: spec.EntityKeyField(), Column: spec.TableKey(), Kind: entity.KindID}
	}

	if supplied := physical[spec.TableKey()]; supplied != nil {
		if _, err := e.db.NewInsert().
			Model(&physical).
			TableExpr("?", bun.Ident(spec.Table())).
			Exec(ctx); err != nil {
			return nil, dbError(err, "insert", spec)
		}
		return mapper.DecodeValue(keyField, supplied), nil
	}
	delete(physical, spec.TableKey())

	var id int64
	if _, err := e.db.NewInsert().
		Model(&physical).
		TableExpr("?", bun.Ident(spec.Table())).
		Returning("?", bun.Ident(spec.TableKey())).
		Exec(ctx, &id); err != nil {
		return nil, dbError(err, "insert", spec)
	}
	if id == 0 {
		return nil, goerrors.New("insert into "+spec.Table()+" returned no key", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"entity": spec.Name().String()})
	}
	return id, nil
}

func missingRequired(spec *entity.Specification, data entity.Row) []string {
	var missing []string
	for _, field := range spec.RequiredForCreation() {
		if v, ok := data[field]; !ok || v == nil {
			missing = append(missing, field)
		}
	}
	return missing
}

func sameValue(a, b any) bool {
	as, aok := entity.FormatValue(a)
	bs, bok := entity.FormatValue(b)
	return aok == bok && as == bs
}
