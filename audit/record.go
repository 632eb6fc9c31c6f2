// Package audit records field level changes made through the entity engine
// and answers historical queries over them.
package audit

import (
	"time"

	"github.com/goliatone/go-entity-engine/entity"
)

const (
	// FieldNewEntry is the synthetic field of the record written on create.
	FieldNewEntry = "newEntry"
	// FieldEntryDeleted is the synthetic field of the record written on delete.
	FieldEntryDeleted = "entryDeleted"
	// MaxValueLength is the longest old or new value kept in a record.
	// Longer values are dropped from the record, the record itself is kept.
	MaxValueLength = 65536
)

// ChangeRecord is one append-only entry of the change log.
type ChangeRecord struct {
	ID        int64     `json:"id"`
	Entity    string    `json:"changed_entity"`
	Field     string    `json:"changed_field"`
	EntityID  string    `json:"changed_id_value"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  *string   `json:"new_value,omitempty"`
	UpdatedOn time.Time `json:"updated_on"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
}

// Actor identifies who made a change and from where. Both fields are optional.
type Actor struct {
	UserID    string
	IPAddress string
}

func (r ChangeRecord) complete() bool {
	return r.Entity != "" && r.Field != "" && r.EntityID != ""
}

// Diff accumulates the change records of one write. Every method returns a
// new Diff; the receiver is never modified.
type Diff struct {
	entity   string
	entityID string
	actor    Actor
	at       time.Time
	records  []ChangeRecord
}

// NewDiff starts a diff for one entity row. at is stored in UTC.
func NewDiff(name entity.Name, id any, actor Actor, at time.Time) Diff {
	return Diff{
		entity:   name.String(),
		entityID: entity.FormatID(id),
		actor:    actor,
		at:       at.UTC(),
	}
}

// Change records field moving from oldValue to newValue. Equal values still
// produce a record; touches rely on that.
func (d Diff) Change(field string, oldValue, newValue any) Diff {
	return d.with(field, oldValue, newValue)
}

// Created records the synthetic newEntry change.
func (d Diff) Created() Diff {
	return d.with(FieldNewEntry, nil, d.entityID)
}

// Deleted records the synthetic entryDeleted change.
func (d Diff) Deleted() Diff {
	return d.with(FieldEntryDeleted, d.entityID, nil)
}

// ForID rebinds the diff, including records already added, to another id.
// Used when an update changes the primary key.
func (d Diff) ForID(id any) Diff {
	next := d
	next.entityID = entity.FormatID(id)
	next.records = make([]ChangeRecord, len(d.records))
	for i, r := range d.records {
		r.EntityID = next.entityID
		next.records[i] = r
	}
	return next
}

func (d Diff) Len() int { return len(d.records) }

// Records returns a copy of the accumulated records.
func (d Diff) Records() []ChangeRecord {
	out := make([]ChangeRecord, len(d.records))
	copy(out, d.records)
	return out
}

func (d Diff) with(field string, oldValue, newValue any) Diff {
	next := d
	next.records = make([]ChangeRecord, len(d.records), len(d.records)+1)
	copy(next.records, d.records)
	next.records = append(next.records, ChangeRecord{
		Entity:    d.entity,
		Field:     field,
		EntityID:  d.entityID,
		OldValue:  valuePointer(oldValue),
		NewValue:  valuePointer(newValue),
		UpdatedOn: d.at,
		UpdatedBy: d.actor.UserID,
		IPAddress: d.actor.IPAddress,
	})
	return next
}

func valuePointer(v any) *string {
	s, ok := entity.FormatValue(v)
	if !ok {
		return nil
	}
	return &s
}
