package engine

import (
	"time"

	"github.com/goliatone/go-entity-engine/audit"
	"github.com/goliatone/go-entity-engine/entity"
)

const (
	fieldCreatedOn = "createdOn"
	fieldCreatedBy = "createdBy"
	fieldUpdatedOn = "updatedOn"
	fieldUpdatedBy = "updatedBy"

	suffixUpdatedOn = "UpdatedOn"
	suffixUpdatedBy = "UpdatedBy"
)

// stampCreate fills the creation bookkeeping fields the entity maps and the
// caller did not supply.
func stampCreate(spec *entity.Specification, data entity.Row, actor audit.Actor, now time.Time) {
	for _, field := range []string{fieldCreatedOn, fieldUpdatedOn} {
		setIfMapped(spec, data, field, now, false)
	}
	if actor.UserID != "" {
		for _, field := range []string{fieldCreatedBy, fieldUpdatedBy} {
			setIfMapped(spec, data, field, actor.UserID, false)
		}
	}
}

// stampField sets the <prefix>UpdatedOn and <prefix>UpdatedBy companions of
// a changed field or many-to-one group, when they are mapped.
func stampField(spec *entity.Specification, changes entity.Row, prefix string, actor audit.Actor, now time.Time) {
	setIfMapped(spec, changes, prefix+suffixUpdatedOn, now, true)
	if actor.UserID != "" {
		setIfMapped(spec, changes, prefix+suffixUpdatedBy, actor.UserID, true)
	}
}

func stampEntity(spec *entity.Specification, changes entity.Row, actor audit.Actor, now time.Time) {
	setIfMapped(spec, changes, fieldUpdatedOn, now, true)
	if actor.UserID != "" {
		setIfMapped(spec, changes, fieldUpdatedBy, actor.UserID, true)
	}
}

func setIfMapped(spec *entity.Specification, row entity.Row, field string, value any, overwrite bool) {
	if _, ok := spec.Field(field); !ok {
		return
	}
	if !overwrite && row.Has(field) {
		return
	}
	row[field] = value
}

// isStampField reports bookkeeping fields that are never diffed themselves.
func isStampField(spec *entity.Specification, field string) bool {
	switch field {
	case fieldCreatedOn, fieldCreatedBy, fieldUpdatedOn, fieldUpdatedBy:
		return true
	}
	for _, suffix := range []string{suffixUpdatedOn, suffixUpdatedBy} {
		if len(field) > len(suffix) && field[len(field)-len(suffix):] == suffix {
			base := field[:len(field)-len(suffix)]
			if _, ok := spec.Field(base); ok {
				return true
			}
			if isGroup(spec, base) {
				return true
			}
		}
	}
	return false
}

func isGroup(spec *entity.Specification, name string) bool {
	for _, field := range spec.Fields() {
		for _, group := range spec.ManyToOneGroups(field.Name) {
			if group == name {
				return true
			}
		}
	}
	return false
}
