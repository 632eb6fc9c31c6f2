package problems

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goliatone/go-entity-engine/entity"
)

// CodeMissingRequired marks a stored row whose required-for-creation field is null.
const CodeMissingRequired = "missing_required_field"

// Engine is the part of the entity engine the built-in providers use.
type Engine interface {
	Registry() *entity.Registry
	GetObjects(ctx context.Context, name entity.Name, query entity.Query, opts entity.QueryOptions) (*entity.ResultSet, error)
	UpdateEntity(ctx context.Context, name entity.Name, id any, data entity.Row, fieldsToTouch ...string) (entity.Row, error)
}

// MissingRequiredProvider reports rows that lost a value the entity requires
// on creation, usually through raw SQL or an older schema. A fix writes the
// configured default for the field; fields without a default are reported as
// not fixable.
type MissingRequiredProvider struct {
	engine   Engine
	defaults map[string]map[string]any
	logger   *slog.Logger
}

type MissingRequiredOption func(*MissingRequiredProvider)

// WithDefault sets the value a fix writes into field of entityName.
func WithDefault(entityName, field string, value any) MissingRequiredOption {
	return func(p *MissingRequiredProvider) {
		if p.defaults[entityName] == nil {
			p.defaults[entityName] = make(map[string]any)
		}
		p.defaults[entityName][field] = value
	}
}

func WithProviderLogger(logger *slog.Logger) MissingRequiredOption {
	return func(p *MissingRequiredProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewMissingRequiredProvider(engine Engine, opts ...MissingRequiredOption) *MissingRequiredProvider {
	p := &MissingRequiredProvider{
		engine:   engine,
		defaults: make(map[string]map[string]any),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MissingRequiredProvider) Name() string { return "missing_required" }

func (p *MissingRequiredProvider) GetProblems(ctx context.Context) ([]EntityProblem, error) {
	var out []EntityProblem
	err := p.scan(ctx, func(spec *entity.Specification, id string, _ entity.Row, missing []string) error {
		for _, field := range missing {
			out = append(out, p.problem(spec, id, field))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortProblems(out)
	return out, nil
}

// AutoFixProblems writes the default of every missing field that has one,
// one update per row.
func (p *MissingRequiredProvider) AutoFixProblems(ctx context.Context, simulate bool) ([]EntityProblem, error) {
	var out []EntityProblem
	err := p.scan(ctx, func(spec *entity.Specification, id string, row entity.Row, missing []string) error {
		patch := entity.Row{}
		var fixable []EntityProblem
		for _, field := range missing {
			problem := p.problem(spec, id, field)
			if !problem.Fixable {
				continue
			}
			patch[field] = p.defaults[spec.Name().String()][field]
			fixable = append(fixable, problem)
		}
		if len(patch) == 0 {
			return nil
		}

		if !simulate {
			if _, err := p.engine.UpdateEntity(ctx, spec.Name(), row[spec.EntityKeyField()], patch); err != nil {
				return err
			}
			for i := range fixable {
				fixable[i].Fixed = true
			}
			p.logger.InfoContext(ctx, "required fields restored",
				slog.String("entity", spec.Name().String()),
				slog.String("id", id),
				slog.Int("fields", len(patch)),
			)
		}
		out = append(out, fixable...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortProblems(out)
	return out, nil
}

// scan calls visit for every stored row of a writable entity that has at
// least one required field set to null.
func (p *MissingRequiredProvider) scan(ctx context.Context, visit func(spec *entity.Specification, id string, row entity.Row, missing []string) error) error {
	registry := p.engine.Registry()
	for _, name := range registry.Names() {
		spec, err := registry.Specification(name)
		if err != nil {
			return err
		}
		required := spec.RequiredForCreation()
		if !spec.Writable() || len(required) == 0 {
			continue
		}
		// hooks may not serve null filters
		if spec.ObjectsLoader() != nil {
			continue
		}

		query := make(entity.Query, len(required))
		for _, field := range required {
			query[field] = nil
		}
		rs, err := p.engine.GetObjects(ctx, name, query, entity.QueryOptions{
			Combine: entity.CombineOr,
			Order:   []string{spec.EntityKeyField()},
		})
		if err != nil {
			return err
		}

		for _, row := range rs.Rows {
			var missing []string
			for _, field := range required {
				if row[field] == nil {
					missing = append(missing, field)
				}
			}
			if len(missing) == 0 {
				continue
			}
			if err := visit(spec, entity.FormatID(row[spec.EntityKeyField()]), row, missing); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *MissingRequiredProvider) problem(spec *entity.Specification, id, field string) EntityProblem {
	_, fixable := p.defaults[spec.Name().String()][field]
	return EntityProblem{
		Provider: p.Name(),
		Entity:   spec.Name().String(),
		EntityID: id,
		Field:    field,
		Code:     CodeMissingRequired,
		Message:  fmt.Sprintf("%s %s has no value for required field %s", spec.Name(), id, field),
		Severity: SeverityError,
		Fixable:  fixable,
	}
}
