package engine

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/goliatone/go-entity-engine/entity"
	"github.com/goliatone/go-entity-engine/mapper"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type condition struct {
	expr string
	args []any
}

// buildConditions turns a query into SQL conditions, one per field, in field
// name order so equal queries produce equal statements.
func buildConditions(spec *entity.Specification, query entity.Query) ([]condition, error) {
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)

	conds := make([]condition, 0, len(names))
	for _, name := range names {
		field, err := lookupField(spec, name)
		if err != nil {
			return nil, err
		}
		column := bun.Ident(field.Column)

		value := query[name]
		if values, isList := listValues(value); isList {
			encoded := make([]any, 0, len(values))
			for _, v := range values {
				physical, err := mapper.EncodeValue(field, v)
				if err != nil {
					return nil, err
				}
				encoded = append(encoded, physical)
			}
			if len(encoded) == 0 {
				conds = append(conds, condition{expr: "1 = 0"})
				continue
			}
			conds = append(conds, condition{expr: "? IN (?)", args: []any{column, bun.In(encoded)}})
			continue
		}

		physical, err := mapper.EncodeValue(field, value)
		if err != nil {
			return nil, err
		}
		if physical == nil {
			conds = append(conds, condition{expr: "? IS NULL", args: []any{column}})
			continue
		}
		conds = append(conds, condition{expr: "? = ?", args: []any{column, physical}})
	}
	return conds, nil
}

func applyConditions(q *bun.SelectQuery, conds []condition, combine entity.Combine) *bun.SelectQuery {
	if len(conds) == 0 {
		return q
	}
	return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
		for _, c := range conds {
			if combine == entity.CombineOr {
				q = q.WhereOr(c.expr, c.args...)
			} else {
				q = q.Where(c.expr, c.args...)
			}
		}
		return q
	})
}

func (e *Engine) applyOptions(q *bun.SelectQuery, spec *entity.Specification, opts entity.QueryOptions) (*bun.SelectQuery, error) {
	if len(opts.Fields) > 0 {
		columns := []string{spec.TableKey()}
		for _, name := range opts.Fields {
			field, err := lookupField(spec, name)
			if err != nil {
				return nil, err
			}
			if field.Column != spec.TableKey() {
				columns = append(columns, field.Column)
			}
		}
		q = q.Column(columns...)
	}

	for _, order := range opts.Order {
		name, direction := strings.TrimPrefix(order, "-"), "ASC"
		if strings.HasPrefix(order, "-") {
			direction = "DESC"
		}
		field, err := lookupField(spec, name)
		if err != nil {
			return nil, err
		}
		q = q.OrderExpr("? "+direction, bun.Ident(field.Column))
	}

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		// sqlite rejects OFFSET without LIMIT
		if opts.Limit <= 0 && e.db.Dialect().Name() == dialect.SQLite {
			q = q.Limit(math.MaxInt32)
		}
		q = q.Offset(opts.Offset)
	}
	return q, nil
}

func lookupField(spec *entity.Specification, name string) (entity.Field, error) {
	field, ok := spec.Field(name)
	if !ok {
		return entity.Field{}, entity.NewInvalidArgumentError(
			fmt.Sprintf("entity %s has no field %q", spec.Name(), name),
			map[string]any{"entity": spec.Name().String(), "field": name},
		)
	}
	return field, nil
}

// listValues reports whether v is a membership filter and returns its items.
// Byte slices are scalar values.
func listValues(v any) ([]any, bool) {
	switch list := v.(type) {
	case nil, []byte:
		return nil, false
	case []any:
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
