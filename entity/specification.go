package entity

import (
	"slices"
)

// Name identifies a configured entity type. Values only come from a
// Registry, so a Name always refers to a loaded specification.
type Name struct {
	name string
}

func (n Name) String() string { return n.name }

func (n Name) IsZero() bool { return n.name == "" }

// Field binds an abstract field to its physical column.
type Field struct {
	Name   string
	Column string
	Kind   FieldKind
}

// Specification is the immutable descriptor of one entity type. It is built
// once by Register and shared read-only.
type Specification struct {
	name          Name
	table         string
	tableKey      string
	keyField      string
	cacheKey      string
	fields        map[string]Field
	fieldOrder    []string
	byColumn      map[string]string
	required      []string
	manyToOne     map[string][]string
	reportChanges bool
	deleteEnabled bool
	writable      bool
	dependsOn     []Name

	objectLoader  ObjectLoader
	objectsLoader ObjectsLoader
	preprocessor  Preprocessor
	postprocessor Postprocessor
}

func (s *Specification) Name() Name { return s.name }

func (s *Specification) Table() string { return s.table }

// TableKey is the physical primary key column.
func (s *Specification) TableKey() string { return s.tableKey }

// EntityKeyField is the abstract field mapped to TableKey.
func (s *Specification) EntityKeyField() string { return s.keyField }

// CacheKey is the logical key of the cached select-all result.
func (s *Specification) CacheKey() string { return s.cacheKey }

func (s *Specification) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

func (s *Specification) FieldByColumn(column string) (Field, bool) {
	name, ok := s.byColumn[column]
	if !ok {
		return Field{}, false
	}
	return s.fields[name], true
}

// Fields returns every mapped field in configuration order.
func (s *Specification) Fields() []Field {
	out := make([]Field, 0, len(s.fieldOrder))
	for _, name := range s.fieldOrder {
		out = append(out, s.fields[name])
	}
	return out
}

func (s *Specification) RequiredForCreation() []string { return slices.Clone(s.required) }

// ManyToOneGroups returns the companion groups that field belongs to.
func (s *Specification) ManyToOneGroups(field string) []string {
	var groups []string
	for group, members := range s.manyToOne {
		if slices.Contains(members, field) {
			groups = append(groups, group)
		}
	}
	slices.Sort(groups)
	return groups
}

func (s *Specification) ReportChanges() bool { return s.reportChanges }

func (s *Specification) DeleteEnabled() bool { return s.deleteEnabled }

// Writable reports whether create and update are enabled.
func (s *Specification) Writable() bool { return s.writable }

// DependsOn lists upstream entity types whose writes invalidate this entity's
// cached results.
func (s *Specification) DependsOn() []Name { return slices.Clone(s.dependsOn) }

func (s *Specification) ObjectLoader() ObjectLoader { return s.objectLoader }

func (s *Specification) ObjectsLoader() ObjectsLoader { return s.objectsLoader }

func (s *Specification) Preprocessor() Preprocessor { return s.preprocessor }

func (s *Specification) Postprocessor() Postprocessor { return s.postprocessor }
