package auditinfra

import (
	"context"
	"time"

	"github.com/goliatone/go-entity-engine/audit"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// DefaultTable is the table the change log lives in unless configured otherwise.
const DefaultTable = "changes"

type changeModel struct {
	bun.BaseModel `bun:"table:changes,alias:c"`

	ID             int64     `bun:"id,pk,autoincrement"`
	ChangedEntity  string    `bun:"changed_entity,notnull"`
	ChangedField   string    `bun:"changed_field,notnull"`
	ChangedIDValue string    `bun:"changed_id_value,notnull"`
	NewValue       *string   `bun:"new_value"`
	OldValue       *string   `bun:"old_value"`
	UpdatedOn      time.Time `bun:"updated_on,notnull"`
	UpdatedBy      *string   `bun:"updated_by"`
	IPAddress      *string   `bun:"ip_address"`
}

// BunStore implements audit.Store on any bun database.
type BunStore struct {
	db    bun.IDB
	table string
}

var _ audit.Store = (*BunStore)(nil)

// NewBunStore stores records in table, DefaultTable when empty.
func NewBunStore(db bun.IDB, table string) *BunStore {
	if table == "" {
		table = DefaultTable
	}
	return &BunStore{db: db, table: table}
}

// CreateSchema creates the change table and its lookup index if missing.
func (s *BunStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*changeModel)(nil)).
		ModelTableExpr("?", bun.Ident(s.table)).
		IfNotExists().
		Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "create change log table")
	}

	if _, err := s.db.NewCreateIndex().
		Model((*changeModel)(nil)).
		ModelTableExpr("?", bun.Ident(s.table)).
		Index(s.table + "_entity_idx").
		Column("changed_entity", "changed_id_value").
		IfNotExists().
		Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "create change log index")
	}
	return nil
}

func (s *BunStore) Append(ctx context.Context, records []audit.ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}

	models := make([]changeModel, 0, len(records))
	for _, r := range records {
		models = append(models, toModel(r))
	}

	if _, err := s.db.NewInsert().
		Model(&models).
		ModelTableExpr("?", bun.Ident(s.table)).
		Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "append change records").
			WithMetadata(map[string]any{"table": s.table, "records": len(records)})
	}
	return nil
}

func (s *BunStore) ListByEntity(ctx context.Context, entityName, entityID string) ([]audit.ChangeRecord, error) {
	var models []changeModel
	err := s.db.NewSelect().
		Model(&models).
		ModelTableExpr("? AS c", bun.Ident(s.table)).
		Where("c.changed_entity = ?", entityName).
		Where("c.changed_id_value = ?", entityID).
		OrderExpr("c.updated_on DESC, c.id DESC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "list entity changes").
			WithMetadata(map[string]any{"entity": entityName, "id": entityID})
	}
	return fromModels(models), nil
}

func (s *BunStore) ListRecent(ctx context.Context, limit int, entities []string) ([]audit.ChangeRecord, error) {
	var models []changeModel
	q := s.db.NewSelect().
		Model(&models).
		ModelTableExpr("? AS c", bun.Ident(s.table)).
		OrderExpr("c.updated_on DESC, c.id DESC").
		Limit(limit)
	if len(entities) > 0 {
		q = q.Where("c.changed_entity IN (?)", bun.In(entities))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "list recent changes")
	}
	return fromModels(models), nil
}

func toModel(r audit.ChangeRecord) changeModel {
	return changeModel{
		ChangedEntity:  r.Entity,
		ChangedField:   r.Field,
		ChangedIDValue: r.EntityID,
		NewValue:       r.NewValue,
		OldValue:       r.OldValue,
		UpdatedOn:      r.UpdatedOn.UTC(),
		UpdatedBy:      optional(r.UpdatedBy),
		IPAddress:      optional(r.IPAddress),
	}
}

func fromModels(models []changeModel) []audit.ChangeRecord {
	out := make([]audit.ChangeRecord, 0, len(models))
	for _, m := range models {
		out = append(out, audit.ChangeRecord{
			ID:        m.ID,
			Entity:    m.ChangedEntity,
			Field:     m.ChangedField,
			EntityID:  m.ChangedIDValue,
			OldValue:  m.OldValue,
			NewValue:  m.NewValue,
			UpdatedOn: m.UpdatedOn.UTC(),
			UpdatedBy: deref(m.UpdatedBy),
			IPAddress: deref(m.IPAddress),
		})
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
