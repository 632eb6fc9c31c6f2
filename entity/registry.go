package entity

import (
	"fmt"
	"regexp"
	"slices"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ColumnMapping maps one abstract field to a physical column. Kind is
// optional and inferred from the field name when empty.
type ColumnMapping struct {
	Field  string `mapstructure:"field" json:"field" yaml:"field"`
	Column string `mapstructure:"column" json:"column" yaml:"column"`
	Kind   string `mapstructure:"kind" json:"kind,omitempty" yaml:"kind,omitempty"`
}

func (m ColumnMapping) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Field, validation.Required, validation.Match(identifierPattern)),
		validation.Field(&m.Column, validation.Required, validation.Match(identifierPattern)),
		validation.Field(&m.Kind, validation.By(func(v any) error {
			if s, _ := v.(string); s != "" {
				if _, ok := ParseFieldKind(s); !ok {
					return fmt.Errorf("unknown field kind %q", s)
				}
			}
			return nil
		})),
	)
}

// ManyToOneGroup lists fields that share one <group>UpdatedOn/<group>UpdatedBy stamp.
type ManyToOneGroup struct {
	Group  string   `mapstructure:"group" json:"group" yaml:"group"`
	Fields []string `mapstructure:"fields" json:"fields" yaml:"fields"`
}

// RawSpecification is the configuration form of an entity.
type RawSpecification struct {
	Name                           string           `mapstructure:"name" json:"name" yaml:"name"`
	TableName                      string           `mapstructure:"table_name" json:"table_name" yaml:"table_name"`
	TableKey                       string           `mapstructure:"table_key" json:"table_key" yaml:"table_key"`
	EntityKeyField                 string           `mapstructure:"entity_key_field" json:"entity_key_field" yaml:"entity_key_field"`
	UpdateColumns                  []ColumnMapping  `mapstructure:"update_columns" json:"update_columns" yaml:"update_columns"`
	RequiredColumnsForCreation     []string         `mapstructure:"required_columns_for_creation" json:"required_columns_for_creation" yaml:"required_columns_for_creation"`
	ManyToOneUpdateColumns         []ManyToOneGroup `mapstructure:"many_to_one_update_columns" json:"many_to_one_update_columns" yaml:"many_to_one_update_columns"`
	ReportChanges                  bool             `mapstructure:"report_changes" json:"report_changes" yaml:"report_changes"`
	GetObjectFunction              string           `mapstructure:"get_object_function" json:"get_object_function" yaml:"get_object_function"`
	GetObjectsFunction             string           `mapstructure:"get_objects_function" json:"get_objects_function" yaml:"get_objects_function"`
	DatabaseBoundDataPreprocessor  string           `mapstructure:"database_bound_data_preprocessor" json:"database_bound_data_preprocessor" yaml:"database_bound_data_preprocessor"`
	DatabaseBoundDataPostprocessor string           `mapstructure:"database_bound_data_postprocessor" json:"database_bound_data_postprocessor" yaml:"database_bound_data_postprocessor"`
	EnableDeleteAction             bool             `mapstructure:"enable_delete_action" json:"enable_delete_action" yaml:"enable_delete_action"`
	DependsOnEntities              []string         `mapstructure:"depends_on_entities" json:"depends_on_entities" yaml:"depends_on_entities"`
	CacheKey                       string           `mapstructure:"cache_key" json:"cache_key" yaml:"cache_key"`
	ReadOnly                       bool             `mapstructure:"read_only" json:"read_only" yaml:"read_only"`
}

func (r RawSpecification) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Match(identifierPattern)),
		validation.Field(&r.TableName, validation.Match(identifierPattern)),
		validation.Field(&r.TableKey, validation.Match(identifierPattern)),
		validation.Field(&r.EntityKeyField, validation.When(!r.ReadOnly, validation.Required)),
		validation.Field(&r.UpdateColumns, validation.When(!r.ReadOnly, validation.Required)),
	)
}

// Registry holds every loaded Specification. It is built once and is safe
// for concurrent reads.
type Registry struct {
	specs map[Name]*Specification
	names []Name
}

// Register turns raw configuration into a Registry, resolving named hooks
// against hooks. Any unknown hook, duplicate entity, duplicate field or
// missing field map fails with a configuration error.
func Register(raws []RawSpecification, hooks *Hooks) (*Registry, error) {
	reg := &Registry{specs: make(map[Name]*Specification, len(raws))}
	byName := make(map[string]*Specification, len(raws))

	for _, raw := range raws {
		if err := raw.Validate(); err != nil {
			return nil, configValidationError(raw.Name, err)
		}
		if _, dup := byName[raw.Name]; dup {
			return nil, NewConfigurationError(fmt.Sprintf("duplicate entity %q", raw.Name), map[string]any{"entity": raw.Name})
		}

		spec, err := buildSpecification(raw, hooks)
		if err != nil {
			return nil, err
		}
		byName[raw.Name] = spec
		reg.specs[spec.name] = spec
		reg.names = append(reg.names, spec.name)
	}

	// dependencies are resolved after every name is known
	for _, raw := range raws {
		spec := byName[raw.Name]
		for _, dep := range raw.DependsOnEntities {
			target, ok := byName[dep]
			if !ok {
				return nil, NewConfigurationError(
					fmt.Sprintf("entity %s depends on unknown entity %q", raw.Name, dep),
					map[string]any{"entity": raw.Name, "dependency": dep},
				)
			}
			if !slices.Contains(spec.dependsOn, target.name) {
				spec.dependsOn = append(spec.dependsOn, target.name)
			}
		}
	}

	sort.Slice(reg.names, func(i, j int) bool { return reg.names[i].name < reg.names[j].name })
	return reg, nil
}

func buildSpecification(raw RawSpecification, hooks *Hooks) (*Specification, error) {
	meta := map[string]any{"entity": raw.Name}

	spec := &Specification{
		name:          Name{name: raw.Name},
		table:         raw.TableName,
		tableKey:      raw.TableKey,
		keyField:      raw.EntityKeyField,
		cacheKey:      raw.CacheKey,
		fields:        make(map[string]Field, len(raw.UpdateColumns)+1),
		byColumn:      make(map[string]string, len(raw.UpdateColumns)+1),
		manyToOne:     make(map[string][]string, len(raw.ManyToOneUpdateColumns)),
		reportChanges: raw.ReportChanges,
		deleteEnabled: raw.EnableDeleteAction,
		writable:      !raw.ReadOnly,
	}
	if spec.table == "" {
		spec.table = DefaultTableName(raw.Name)
	}
	if spec.cacheKey == "" {
		spec.cacheKey = DefaultCacheKey(raw.Name)
	}
	if spec.keyField == "" {
		spec.keyField = "id"
	}

	for _, mapping := range raw.UpdateColumns {
		if _, dup := spec.fields[mapping.Field]; dup {
			return nil, NewConfigurationError(fmt.Sprintf("entity %s maps field %q twice", raw.Name, mapping.Field), meta)
		}
		if other, dup := spec.byColumn[mapping.Column]; dup {
			return nil, NewConfigurationError(
				fmt.Sprintf("entity %s maps column %q to both %q and %q", raw.Name, mapping.Column, other, mapping.Field), meta)
		}
		kind, ok := ParseFieldKind(mapping.Kind)
		if !ok {
			kind = InferFieldKind(mapping.Field, spec.keyField)
		}
		spec.fields[mapping.Field] = Field{Name: mapping.Field, Column: mapping.Column, Kind: kind}
		spec.byColumn[mapping.Column] = mapping.Field
		spec.fieldOrder = append(spec.fieldOrder, mapping.Field)
	}

	if keyField, ok := spec.fields[spec.keyField]; ok {
		if spec.tableKey == "" {
			spec.tableKey = keyField.Column
		} else if keyField.Column != spec.tableKey {
			return nil, NewConfigurationError(
				fmt.Sprintf("entity %s maps key field %q to %q but table_key is %q", raw.Name, spec.keyField, keyField.Column, spec.tableKey), meta)
		}
	} else {
		if spec.tableKey == "" {
			spec.tableKey = "id"
		}
		if _, taken := spec.byColumn[spec.tableKey]; taken {
			return nil, NewConfigurationError(
				fmt.Sprintf("entity %s: table_key %q is mapped to another field", raw.Name, spec.tableKey), meta)
		}
		spec.fields[spec.keyField] = Field{Name: spec.keyField, Column: spec.tableKey, Kind: KindID}
		spec.byColumn[spec.tableKey] = spec.keyField
		spec.fieldOrder = append([]string{spec.keyField}, spec.fieldOrder...)
	}

	for _, field := range raw.RequiredColumnsForCreation {
		if _, ok := spec.fields[field]; !ok {
			return nil, NewConfigurationError(fmt.Sprintf("entity %s requires unmapped field %q", raw.Name, field), meta)
		}
		spec.required = append(spec.required, field)
	}

	for _, group := range raw.ManyToOneUpdateColumns {
		if group.Group == "" || len(group.Fields) == 0 {
			return nil, NewConfigurationError(fmt.Sprintf("entity %s has an empty many-to-one group", raw.Name), meta)
		}
		for _, field := range group.Fields {
			if _, ok := spec.fields[field]; !ok {
				return nil, NewConfigurationError(
					fmt.Sprintf("entity %s: many-to-one group %q lists unmapped field %q", raw.Name, group.Group, field), meta)
			}
		}
		spec.manyToOne[group.Group] = slices.Clone(group.Fields)
	}

	var err error
	if spec.objectLoader, err = resolveHook[ObjectLoader](hooks, raw.Name, "get_object_function", raw.GetObjectFunction); err != nil {
		return nil, err
	}
	if spec.objectsLoader, err = resolveHook[ObjectsLoader](hooks, raw.Name, "get_objects_function", raw.GetObjectsFunction); err != nil {
		return nil, err
	}
	if spec.preprocessor, err = resolveHook[Preprocessor](hooks, raw.Name, "database_bound_data_preprocessor", raw.DatabaseBoundDataPreprocessor); err != nil {
		return nil, err
	}
	if spec.postprocessor, err = resolveHook[Postprocessor](hooks, raw.Name, "database_bound_data_postprocessor", raw.DatabaseBoundDataPostprocessor); err != nil {
		return nil, err
	}

	return spec, nil
}

func configValidationError(name string, err error) error {
	verr := goerrors.FromOzzoValidation(err, "invalid entity configuration")
	cfgErr := NewConfigurationError(fmt.Sprintf("invalid configuration for entity %q", name), map[string]any{"entity": name})
	if verr != nil {
		cfgErr.ValidationErrors = verr.ValidationErrors
		cfgErr.Source = err
	}
	return cfgErr
}

// Lookup resolves a configured entity name.
func (r *Registry) Lookup(name string) (Name, bool) {
	n := Name{name: name}
	_, ok := r.specs[n]
	return n, ok
}

// MustName is Lookup for names known at compile time; it panics when the
// entity is not configured.
func (r *Registry) MustName(name string) Name {
	n, ok := r.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("entity %q is not configured", name))
	}
	return n
}

// Specification returns the descriptor of name.
func (r *Registry) Specification(name Name) (*Specification, error) {
	spec, ok := r.specs[name]
	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("entity %q is not configured", name.name), map[string]any{"entity": name.name})
	}
	return spec, nil
}

// Names returns every configured entity sorted by name.
func (r *Registry) Names() []Name {
	return slices.Clone(r.names)
}

func (r *Registry) Len() int { return len(r.specs) }
