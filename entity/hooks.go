package entity

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// Action tells write hooks which operation produced the data.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionSuggest Action = "suggest"
)

// Combine selects how query filters are joined.
type Combine string

const (
	CombineAnd Combine = "and"
	CombineOr  Combine = "or"
)

// Query filters rows by abstract field. A nil value matches NULL, a slice
// value matches any of its elements, anything else matches by equality.
type Query map[string]any

// QueryOptions shape a generic select.
type QueryOptions struct {
	// Fields restricts the projection. The entity key is always selected.
	Fields []string
	// Order lists abstract fields, prefix with "-" for descending.
	Order   []string
	Limit   int
	Offset  int
	Combine Combine
}

// IsZero reports options that do not change a select-all.
func (o QueryOptions) IsZero() bool {
	return len(o.Fields) == 0 && len(o.Order) == 0 && o.Limit == 0 && o.Offset == 0
}

// ObjectLoader replaces the generic primary key select. A nil row with a nil
// error means not found.
type ObjectLoader interface {
	LoadObject(ctx context.Context, id any) (Row, error)
}

// ObjectsLoader replaces the generic filtered select.
type ObjectsLoader interface {
	LoadObjects(ctx context.Context, query Query, opts QueryOptions) (*ResultSet, error)
}

// Preprocessor rewrites data before it is mapped to columns. existing is nil
// on create.
type Preprocessor interface {
	Preprocess(ctx context.Context, data Row, existing Row, action Action) (Row, error)
}

// Postprocessor runs after a successful write with the reloaded row.
type Postprocessor interface {
	Postprocess(ctx context.Context, data Row, row Row, action Action) error
}

type ObjectLoaderFunc func(ctx context.Context, id any) (Row, error)

func (f ObjectLoaderFunc) LoadObject(ctx context.Context, id any) (Row, error) { return f(ctx, id) }

type ObjectsLoaderFunc func(ctx context.Context, query Query, opts QueryOptions) (*ResultSet, error)

func (f ObjectsLoaderFunc) LoadObjects(ctx context.Context, query Query, opts QueryOptions) (*ResultSet, error) {
	return f(ctx, query, opts)
}

type PreprocessorFunc func(ctx context.Context, data Row, existing Row, action Action) (Row, error)

func (f PreprocessorFunc) Preprocess(ctx context.Context, data Row, existing Row, action Action) (Row, error) {
	return f(ctx, data, existing, action)
}

type PostprocessorFunc func(ctx context.Context, data Row, row Row, action Action) error

func (f PostprocessorFunc) Postprocess(ctx context.Context, data Row, row Row, action Action) error {
	return f(ctx, data, row, action)
}

// Hooks maps the names used in configuration to hook implementations.
// Registration is safe from multiple goroutines; resolution happens once
// when the Registry is built.
type Hooks struct {
	byName *xsync.MapOf[string, any]
}

func NewHooks() *Hooks {
	return &Hooks{byName: xsync.NewMapOf[string, any]()}
}

// Register binds name to hook. The hook must implement at least one of
// ObjectLoader, ObjectsLoader, Preprocessor or Postprocessor.
func (h *Hooks) Register(name string, hook any) error {
	if name == "" {
		return NewConfigurationError("hook name is required")
	}
	switch hook.(type) {
	case ObjectLoader, ObjectsLoader, Preprocessor, Postprocessor:
	default:
		return NewConfigurationError(fmt.Sprintf("hook %q implements no hook interface", name),
			map[string]any{"hook": name, "type": fmt.Sprintf("%T", hook)})
	}
	if _, loaded := h.byName.LoadOrStore(name, hook); loaded {
		return NewConfigurationError(fmt.Sprintf("hook %q already registered", name), map[string]any{"hook": name})
	}
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (h *Hooks) MustRegister(name string, hook any) *Hooks {
	if err := h.Register(name, hook); err != nil {
		panic(err)
	}
	return h
}

func (h *Hooks) lookup(name string) (any, bool) {
	if h == nil {
		return nil, false
	}
	return h.byName.Load(name)
}

func resolveHook[T any](hooks *Hooks, entityName, setting, hookName string) (T, error) {
	var zero T
	if hookName == "" {
		return zero, nil
	}
	meta := map[string]any{"entity": entityName, "setting": setting, "hook": hookName}
	raw, ok := hooks.lookup(hookName)
	if !ok {
		return zero, NewConfigurationError(fmt.Sprintf("entity %s: unknown hook %q in %s", entityName, hookName, setting), meta)
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, NewConfigurationError(fmt.Sprintf("entity %s: hook %q cannot serve %s", entityName, hookName, setting), meta)
	}
	return typed, nil
}
