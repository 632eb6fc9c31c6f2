package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-entity-engine/audit"
	"github.com/goliatone/go-entity-engine/cache"
	"github.com/goliatone/go-entity-engine/entity"
	"github.com/goliatone/go-entity-engine/internal/auditinfra"
	"github.com/goliatone/go-entity-engine/pkg/testsupport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

const (
	createFiles = `CREATE TABLE files (
		file_id INTEGER PRIMARY KEY AUTOINCREMENT,
		original_file_name TEXT,
		mime_type TEXT,
		size INTEGER,
		sha1 TEXT,
		tags TEXT,
		is_public INTEGER,
		created_on TEXT,
		created_by TEXT,
		updated_on TEXT,
		updated_by TEXT
	)`
	createMailings = `CREATE TABLE mailings (
		id INTEGER PRIMARY KEY,
		subject TEXT,
		status TEXT,
		status_updated_on TEXT,
		status_updated_by TEXT,
		sender TEXT,
		recipient TEXT,
		addresses_updated_on TEXT,
		addresses_updated_by TEXT,
		updated_on TEXT
	)`
	createNotes = `CREATE TABLE notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		body TEXT,
		owner_id INTEGER
	)`
)

type fixture struct {
	db      *bun.DB
	engine  *Engine
	cache   *cache.Service
	file    entity.Name
	mailing entity.Name
	note    entity.Name
	logs    *bytes.Buffer
}

func entitySpecs() []entity.RawSpecification {
	return []entity.RawSpecification{
		{
			Name:           "file",
			TableName:      "files",
			TableKey:       "file_id",
			EntityKeyField: "id",
			UpdateColumns: []entity.ColumnMapping{
				{Field: "id", Column: "file_id"},
				{Field: "originalFileName", Column: "original_file_name"},
				{Field: "mimeType", Column: "mime_type"},
				{Field: "size", Column: "size", Kind: "int"},
				{Field: "sha1", Column: "sha1"},
				{Field: "tags", Column: "tags", Kind: "array"},
				{Field: "isPublic", Column: "is_public"},
				{Field: "createdOn", Column: "created_on"},
				{Field: "createdBy", Column: "created_by"},
				{Field: "updatedOn", Column: "updated_on"},
				{Field: "updatedBy", Column: "updated_by"},
			},
			RequiredColumnsForCreation: []string{"originalFileName", "mimeType", "size", "sha1"},
			ReportChanges:              true,
			EnableDeleteAction:         true,
		},
		{
			Name:           "mailing",
			EntityKeyField: "id",
			UpdateColumns: []entity.ColumnMapping{
				{Field: "id", Column: "id"},
				{Field: "subject", Column: "subject"},
				{Field: "status", Column: "status"},
				{Field: "statusUpdatedOn", Column: "status_updated_on"},
				{Field: "statusUpdatedBy", Column: "status_updated_by"},
				{Field: "sender", Column: "sender"},
				{Field: "recipient", Column: "recipient"},
				{Field: "addressesUpdatedOn", Column: "addresses_updated_on"},
				{Field: "addressesUpdatedBy", Column: "addresses_updated_by"},
				{Field: "updatedOn", Column: "updated_on"},
			},
			ManyToOneUpdateColumns: []entity.ManyToOneGroup{
				{Group: "addresses", Fields: []string{"sender", "recipient"}},
			},
			ReportChanges:     true,
			DependsOnEntities: []string{"file"},
		},
		{
			Name:           "note",
			EntityKeyField: "id",
			UpdateColumns: []entity.ColumnMapping{
				{Field: "id", Column: "id"},
				{Field: "body", Column: "body", Kind: "text"},
				{Field: "ownerId", Column: "owner_id"},
			},
			EnableDeleteAction: true,
		},
	}
}

func newFixture(t *testing.T, hooks *entity.Hooks, mutate ...func([]entity.RawSpecification)) *fixture {
	t.Helper()
	return newFixtureWithAudit(t, nil, hooks, mutate...)
}

// newFixtureWithAudit uses store for change records, or a bun store on the
// fixture database when store is nil.
func newFixtureWithAudit(t *testing.T, store audit.Store, hooks *entity.Hooks, mutate ...func([]entity.RawSpecification)) *fixture {
	t.Helper()

	specs := entitySpecs()
	for _, m := range mutate {
		m(specs)
	}
	reg, err := entity.Register(specs, hooks)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	db := testsupport.OpenDB(t, createFiles, createMailings, createNotes)

	if store == nil {
		bunStore := auditinfra.NewBunStore(db, "")
		if err := bunStore.CreateSchema(context.Background()); err != nil {
			t.Fatalf("create change schema: %v", err)
		}
		store = bunStore
	}
	log := audit.NewLog(store, audit.WithClock(func() time.Time { return fixedNow }))

	svc, err := cache.NewService(cache.NopStore{}, cache.DefaultConfig(), cache.WithRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("cache service: %v", err)
	}

	logs := &bytes.Buffer{}
	return &fixture{
		db:      db,
		engine:  New(db, reg, svc, log, WithClock(func() time.Time { return fixedNow }), WithLogger(slog.New(slog.NewTextHandler(logs, nil)))),
		logs:    logs,
		cache:   svc,
		file:    reg.MustName("file"),
		mailing: reg.MustName("mailing"),
		note:    reg.MustName("note"),
	}
}

// scoped returns a context carrying an open cache scope.
func (f *fixture) scoped(t *testing.T) (context.Context, *cache.Scope) {
	t.Helper()
	ctx := context.Background()
	scope := f.cache.Begin(ctx)
	t.Cleanup(func() { scope.Close(ctx) })
	return cache.WithScope(ctx, scope), scope
}

func (f *fixture) changes(t *testing.T, name entity.Name, id any) []audit.ChangeRecord {
	t.Helper()
	records, err := f.engine.audit.EntityChanges(context.Background(), name, id)
	if err != nil {
		t.Fatalf("entity changes: %v", err)
	}
	return records
}

func (f *fixture) seedMailing(t *testing.T) {
	t.Helper()
	testsupport.Exec(t, f.db, `INSERT INTO mailings (id, subject, status, sender, recipient, updated_on)
		VALUES (7, 'Hello', 'draft', 'a@example.com', 'b@example.com', '2020-01-01 00:00:00')`)
}

func (f *fixture) seedFiles(t *testing.T) {
	t.Helper()
	testsupport.Exec(t, f.db,
		`INSERT INTO files (file_id, original_file_name, mime_type, size, sha1, tags, is_public) VALUES (1, 'a.png', 'image/png', 100, 's1', 'red|blue', 1)`,
		`INSERT INTO files (file_id, original_file_name, mime_type, size, sha1, tags, is_public) VALUES (2, 'b.txt', 'text/plain', 50, NULL, '', 0)`,
		`INSERT INTO files (file_id, original_file_name, mime_type, size, sha1, tags, is_public) VALUES (3, 'c.png', 'image/png', 300, 's3', NULL, 0)`,
	)
}

func validFile() entity.Row {
	return entity.Row{
		"originalFileName": "a.png",
		"mimeType":         "image/png",
		"size":             1024,
		"sha1":             "da39a3ee",
	}
}

func TestCreateEntity_MissingRequiredFields(t *testing.T) {
	f := newFixture(t, nil)
	ctx, scope := f.scoped(t)

	if _, err := f.engine.GetObjects(ctx, f.file, nil, entity.QueryOptions{}); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	_, err := f.engine.CreateEntity(ctx, f.file, entity.Row{"originalFileName": "a.png"})
	if !entity.IsMissingRequiredField(err) {
		t.Fatalf("expected missing required field error, got %v", err)
	}
	if n := testsupport.Count(t, f.db, "files"); n != 0 {
		t.Fatalf("expected no insert, got %d rows", n)
	}
	if n := testsupport.Count(t, f.db, "changes"); n != 0 {
		t.Fatalf("expected no change records, got %d", n)
	}
	if _, ok := cache.Lookup[*entity.ResultSet](ctx, scope, "files"); !ok {
		t.Fatal("expected files cache entry to survive a rejected create")
	}
}

func TestCreateEntity_InsertsAuditsAndInvalidates(t *testing.T) {
	f := newFixture(t, nil)
	ctx, scope := f.scoped(t)
	ctx = WithActor(ctx, audit.Actor{UserID: "alice", IPAddress: "10.0.0.1"})

	if _, err := f.engine.GetObjects(ctx, f.file, nil, entity.QueryOptions{}); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	id, err := f.engine.CreateEntity(ctx, f.file, validFile())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	newID, ok := id.(int64)
	if !ok || newID <= 0 {
		t.Fatalf("expected positive int64 id, got %#v", id)
	}

	if _, ok := cache.Lookup[*entity.ResultSet](ctx, scope, "files"); ok {
		t.Fatal("expected files cache entry invalidated")
	}

	row, err := f.engine.GetObject(ctx, f.file, newID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if row["size"] != int64(1024) || row["mimeType"] != "image/png" {
		t.Fatalf("unexpected row %#v", row)
	}
	if created, _ := row["createdOn"].(time.Time); !created.Equal(fixedNow) {
		t.Fatalf("expected createdOn stamped, got %v", row["createdOn"])
	}
	if row["createdBy"] != "alice" || row["updatedBy"] != "alice" {
		t.Fatalf("expected actor stamps, got %v / %v", row["createdBy"], row["updatedBy"])
	}

	records := f.changes(t, f.file, newID)
	if len(records) != 1 {
		t.Fatalf("expected one change record, got %d", len(records))
	}
	rec := records[0]
	if rec.Field != audit.FieldNewEntry || rec.Entity != "file" || rec.EntityID != entity.FormatID(newID) {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.UpdatedBy != "alice" || rec.IPAddress != "10.0.0.1" {
		t.Fatalf("expected actor on record, got %+v", rec)
	}
}

func TestCreateEntity_NoMappedField(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.engine.CreateEntity(context.Background(), f.note, entity.Row{"unknown": "x"})
	if !entity.IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestCreateEntity_NullLikeValues(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.engine.CreateEntity(ctx, f.note, entity.Row{"body": "0", "ownerId": "0"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	row, err := f.engine.GetObject(ctx, f.note, id)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if row["body"] != "0" {
		t.Fatalf("expected free text zero preserved, got %#v", row["body"])
	}
	if row["ownerId"] != nil {
		t.Fatalf("expected id-like zero to be null, got %#v", row["ownerId"])
	}
	if n := testsupport.Count(t, f.db, "changes"); n != 0 {
		t.Fatalf("expected no change records for unaudited entity, got %d", n)
	}
}

func TestCreateEntity_Hooks(t *testing.T) {
	var seen entity.Row
	hooks := entity.NewHooks().
		MustRegister("file.normalize", entity.PreprocessorFunc(func(_ context.Context, data, existing entity.Row, action entity.Action) (entity.Row, error) {
			if action == entity.ActionCreate && existing != nil {
				t.Errorf("expected no existing row on create")
			}
			if s, ok := data["mimeType"].(string); ok {
				data["mimeType"] = strings.ToLower(s)
			}
			return data, nil
		})).
		MustRegister("file.after", entity.PostprocessorFunc(func(_ context.Context, _ entity.Row, row entity.Row, _ entity.Action) error {
			seen = row
			return nil
		}))

	f := newFixture(t, hooks, func(specs []entity.RawSpecification) {
		specs[0].DatabaseBoundDataPreprocessor = "file.normalize"
		specs[0].DatabaseBoundDataPostprocessor = "file.after"
	})

	data := validFile()
	data["mimeType"] = "IMAGE/PNG"
	id, err := f.engine.CreateEntity(context.Background(), f.file, data)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if seen == nil || seen["id"] != id {
		t.Fatalf("expected post hook to receive reloaded row, got %#v", seen)
	}
	if seen["mimeType"] != "image/png" {
		t.Fatalf("expected preprocessed mime type, got %v", seen["mimeType"])
	}
}

func TestTouchEntity_StampsWithoutChangingValues(t *testing.T) {
	f := newFixture(t, nil)
	f.seedMailing(t)
	ctx := WithActor(context.Background(), audit.Actor{UserID: "alice"})

	row, err := f.engine.TouchEntity(ctx, f.mailing, 7, "status")
	if err != nil {
		t.Fatalf("touch: %v", err)
	}

	if row["status"] != "draft" || row["subject"] != "Hello" || row["sender"] != "a@example.com" {
		t.Fatalf("expected values unchanged, got %#v", row)
	}
	if stamped, _ := row["statusUpdatedOn"].(time.Time); !stamped.Equal(fixedNow) {
		t.Fatalf("expected statusUpdatedOn stamped, got %v", row["statusUpdatedOn"])
	}
	if row["statusUpdatedBy"] != "alice" {
		t.Fatalf("expected statusUpdatedBy stamped, got %v", row["statusUpdatedBy"])
	}
	if updated, _ := row["updatedOn"].(time.Time); !updated.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected updatedOn untouched, got %v", row["updatedOn"])
	}
	if row["addressesUpdatedOn"] != nil {
		t.Fatalf("expected group stamp untouched, got %v", row["addressesUpdatedOn"])
	}

	records := f.changes(t, f.mailing, 7)
	if len(records) != 1 {
		t.Fatalf("expected one change record, got %d", len(records))
	}
	rec := records[0]
	if rec.Field != "status" || rec.OldValue == nil || rec.NewValue == nil || *rec.OldValue != *rec.NewValue || *rec.NewValue != "draft" {
		t.Fatalf("unexpected touch record %+v", rec)
	}
}

func TestTouchEntity_DefaultsToEntityKey(t *testing.T) {
	f := newFixture(t, nil)
	f.seedMailing(t)

	row, err := f.engine.TouchEntity(context.Background(), f.mailing, 7, "")
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if updated, _ := row["updatedOn"].(time.Time); !updated.Equal(fixedNow) {
		t.Fatalf("expected updatedOn bumped, got %v", row["updatedOn"])
	}
	if row["status"] != "draft" {
		t.Fatalf("expected status unchanged, got %v", row["status"])
	}
}

func TestUpdateEntity_OneRecordPerChangedField(t *testing.T) {
	f := newFixture(t, nil)
	f.seedMailing(t)
	ctx := WithActor(context.Background(), audit.Actor{UserID: "bob"})

	row, err := f.engine.UpdateEntity(ctx, f.mailing, 7, entity.Row{
		"subject":   "Hello again",
		"status":    "sent",
		"recipient": "c@example.com",
		"sender":    "a@example.com",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if row["subject"] != "Hello again" || row["status"] != "sent" || row["recipient"] != "c@example.com" {
		t.Fatalf("unexpected row %#v", row)
	}
	if stamped, _ := row["addressesUpdatedOn"].(time.Time); !stamped.Equal(fixedNow) {
		t.Fatalf("expected group stamp, got %v", row["addressesUpdatedOn"])
	}
	if row["addressesUpdatedBy"] != "bob" || row["statusUpdatedBy"] != "bob" {
		t.Fatalf("expected actor stamps, got %v / %v", row["addressesUpdatedBy"], row["statusUpdatedBy"])
	}
	if updated, _ := row["updatedOn"].(time.Time); !updated.Equal(fixedNow) {
		t.Fatalf("expected updatedOn bumped, got %v", row["updatedOn"])
	}

	records := f.changes(t, f.mailing, 7)
	if len(records) != 3 {
		t.Fatalf("expected 3 change records, got %d: %+v", len(records), records)
	}
	byField := make(map[string]audit.ChangeRecord, len(records))
	for _, r := range records {
		byField[r.Field] = r
	}
	want := map[string][2]string{
		"subject":   {"Hello", "Hello again"},
		"status":    {"draft", "sent"},
		"recipient": {"b@example.com", "c@example.com"},
	}
	for field, values := range want {
		rec, ok := byField[field]
		if !ok {
			t.Fatalf("missing record for %s", field)
		}
		if *rec.OldValue != values[0] || *rec.NewValue != values[1] {
			t.Fatalf("%s: expected %q -> %q, got %q -> %q", field, values[0], values[1], *rec.OldValue, *rec.NewValue)
		}
	}
}

func TestUpdateEntity_ZeroIntIsStoredAsNull(t *testing.T) {
	f := newFixture(t, nil)
	f.seedFiles(t)
	ctx := context.Background()

	row, err := f.engine.UpdateEntity(ctx, f.file, 1, entity.Row{"size": 0})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if row["size"] != nil {
		t.Fatalf("expected size to read back as null, got %#v", row["size"])
	}
	n, err := f.db.NewSelect().TableExpr("files").Where("file_id = 1 AND size IS NULL").Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected NULL stored, got %d matching rows (%v)", n, err)
	}

	records := f.changes(t, f.file, 1)
	if len(records) != 1 || records[0].Field != "size" {
		t.Fatalf("expected one size record, got %+v", records)
	}
	if records[0].OldValue == nil || *records[0].OldValue != "100" || records[0].NewValue != nil {
		t.Fatalf("expected 100 -> null, got %v -> %v", records[0].OldValue, records[0].NewValue)
	}
}

// downStore is an audit.Store whose writes always fail.
type downStore struct{}

func (downStore) Append(context.Context, []audit.ChangeRecord) error {
	return errors.New("changes table locked")
}

func (downStore) ListByEntity(context.Context, string, string) ([]audit.ChangeRecord, error) {
	return nil, errors.New("changes table locked")
}

func (downStore) ListRecent(context.Context, int, []string) ([]audit.ChangeRecord, error) {
	return nil, errors.New("changes table locked")
}

func TestCreateEntity_AuditUnavailable(t *testing.T) {
	f := newFixtureWithAudit(t, downStore{}, nil)
	ctx := context.Background()

	id, err := f.engine.CreateEntity(ctx, f.file, validFile())
	if err != nil {
		t.Fatalf("create must not fail when change records cannot be written: %v", err)
	}
	if id != int64(1) {
		t.Fatalf("expected id 1, got %#v", id)
	}
	if n := testsupport.Count(t, f.db, "files"); n != 1 {
		t.Fatalf("expected the row inserted, got %d rows", n)
	}
	if !strings.Contains(f.logs.String(), "change records not written") {
		t.Fatalf("expected a warning to be logged, got %q", f.logs.String())
	}
}

func TestUpdateEntity_AuditUnavailable(t *testing.T) {
	f := newFixtureWithAudit(t, downStore{}, nil)
	f.seedFiles(t)
	ctx := context.Background()

	row, err := f.engine.UpdateEntity(ctx, f.file, 2, entity.Row{"mimeType": "text/markdown"})
	if err != nil {
		t.Fatalf("update must not fail when change records cannot be written: %v", err)
	}
	if row["mimeType"] != "text/markdown" {
		t.Fatalf("expected mimeType updated, got %v", row["mimeType"])
	}

	stored, err := f.engine.GetObject(ctx, f.file, 2)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored["mimeType"] != "text/markdown" {
		t.Fatalf("expected update persisted, got %v", stored["mimeType"])
	}
	if !strings.Contains(f.logs.String(), "change records not written") {
		t.Fatalf("expected a warning to be logged, got %q", f.logs.String())
	}
}

func TestUpdateEntity_NothingChanged(t *testing.T) {
	f := newFixture(t, nil)
	f.seedMailing(t)

	row, err := f.engine.UpdateEntity(context.Background(), f.mailing, 7, entity.Row{"status": "draft"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if row["statusUpdatedOn"] != nil {
		t.Fatalf("expected no stamp, got %v", row["statusUpdatedOn"])
	}
	if n := testsupport.Count(t, f.db, "changes"); n != 0 {
		t.Fatalf("expected no records, got %d", n)
	}
}

func TestUpdateEntity_UnauditedEntity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.engine.CreateEntity(ctx, f.note, entity.Row{"body": "first"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.UpdateEntity(ctx, f.note, id, entity.Row{"body": "second"}); err != nil {
		t.Fatal(err)
	}
	if n := testsupport.Count(t, f.db, "changes"); n != 0 {
		t.Fatalf("expected zero records, got %d", n)
	}
}

func TestUpdateEntity_KeyChange(t *testing.T) {
	f := newFixture(t, nil)
	f.seedMailing(t)
	ctx := context.Background()

	row, err := f.engine.UpdateEntity(ctx, f.mailing, 7, entity.Row{"id": 70})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if row["id"] != int64(70) {
		t.Fatalf("expected reloaded row under new id, got %#v", row["id"])
	}
	if exists, _ := f.engine.ExistsEntity(ctx, f.mailing, 7); exists {
		t.Fatal("expected old id gone")
	}
	records := f.changes(t, f.mailing, 70)
	if len(records) != 1 || records[0].Field != "id" {
		t.Fatalf("expected one id change under the new id, got %+v", records)
	}
}

func TestUpdateEntity_NotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.engine.UpdateEntity(context.Background(), f.mailing, 99, entity.Row{"status": "x"})
	if !entity.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateEntity_UnknownTouchField(t *testing.T) {
	f := newFixture(t, nil)
	f.seedMailing(t)

	_, err := f.engine.TouchEntity(context.Background(), f.mailing, 7, "nope")
	if !entity.IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestDeleteEntity(t *testing.T) {
	f := newFixture(t, nil)
	f.seedFiles(t)
	ctx := context.Background()

	if err := f.engine.DeleteEntity(ctx, f.file, 42); !entity.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if n := testsupport.Count(t, f.db, "changes"); n != 0 {
		t.Fatalf("expected no records after failed delete, got %d", n)
	}

	if err := f.engine.DeleteEntity(ctx, f.file, 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	exists, err := f.engine.ExistsEntity(ctx, f.file, 2)
	if err != nil || exists {
		t.Fatalf("expected deleted row gone, exists=%v err=%v", exists, err)
	}
	records := f.changes(t, f.file, 2)
	if len(records) != 1 || records[0].Field != audit.FieldEntryDeleted {
		t.Fatalf("expected one entryDeleted record, got %+v", records)
	}
}

func TestDeleteEntity_Disabled(t *testing.T) {
	f := newFixture(t, nil)
	f.seedMailing(t)

	if err := f.engine.DeleteEntity(context.Background(), f.mailing, 7); !entity.IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if n := testsupport.Count(t, f.db, "mailings"); n != 1 {
		t.Fatalf("expected row kept, got %d", n)
	}
}

func TestExistsEntities(t *testing.T) {
	f := newFixture(t, nil)
	f.seedFiles(t)

	got, err := f.engine.ExistsEntities(context.Background(), f.file, []any{1, "3", 9, ""})
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	want := map[string]bool{"1": true, "3": true, "9": false, "": false}
	for id, exists := range want {
		if got[id] != exists {
			t.Fatalf("id %q: expected %v, got %v", id, exists, got[id])
		}
	}
}

func TestGetObject(t *testing.T) {
	f := newFixture(t, nil)
	f.seedFiles(t)
	ctx := context.Background()

	row, err := f.engine.GetObject(ctx, f.file, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !slices.Equal(row["tags"].([]string), []string{"red", "blue"}) || row["isPublic"] != true {
		t.Fatalf("unexpected decoded row %#v", row)
	}

	row, err = f.engine.GetObject(ctx, f.file, 2)
	if err != nil {
		t.Fatal(err)
	}
	if tags, ok := row["tags"].([]string); !ok || len(tags) != 0 {
		t.Fatalf("expected empty array for empty string, got %#v", row["tags"])
	}
	if row["sha1"] != nil || row["isPublic"] != false {
		t.Fatalf("unexpected decoded row %#v", row)
	}

	if _, err := f.engine.GetObject(ctx, f.file, 99); !entity.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.engine.GetObject(ctx, f.file, "0"); !entity.IsNotFound(err) {
		t.Fatalf("expected not found for null-like id, got %v", err)
	}
}

func TestGetObject_ReadsThroughToDatabase(t *testing.T) {
	f := newFixture(t, nil)
	f.seedFiles(t)
	ctx, _ := f.scoped(t)

	if _, err := f.engine.GetObject(ctx, f.file, 1); err != nil {
		t.Fatalf("get: %v", err)
	}
	testsupport.Exec(t, f.db, `UPDATE files SET mime_type = 'image/webp' WHERE file_id = 1`)

	row, err := f.engine.GetObject(ctx, f.file, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row["mimeType"] != "image/webp" {
		t.Fatalf("expected the current row, got %v", row["mimeType"])
	}
}

func TestGetObject_Loader(t *testing.T) {
	hooks := entity.NewHooks().MustRegister("note.load", entity.ObjectLoaderFunc(func(_ context.Context, id any) (entity.Row, error) {
		if entity.FormatID(id) == "1" {
			return entity.Row{"id": int64(1), "body": "from hook"}, nil
		}
		return nil, nil
	}))
	f := newFixture(t, hooks, func(specs []entity.RawSpecification) {
		specs[2].GetObjectFunction = "note.load"
	})

	row, err := f.engine.GetObject(context.Background(), f.note, 1)
	if err != nil || row["body"] != "from hook" {
		t.Fatalf("expected hook row, got %#v err=%v", row, err)
	}
	if _, err := f.engine.GetObject(context.Background(), f.note, 2); !entity.IsNotFound(err) {
		t.Fatalf("expected not found from nil hook row, got %v", err)
	}
}

func TestGetObjects_Filters(t *testing.T) {
	f := newFixture(t, nil)
	f.seedFiles(t)

	tests := []struct {
		name  string
		query entity.Query
		opts  entity.QueryOptions
		want  []string
	}{
		{name: "all", want: []string{"1", "2", "3"}},
		{name: "equality", query: entity.Query{"mimeType": "image/png"}, want: []string{"1", "3"}},
		{name: "membership", query: entity.Query{"size": []int{50, 300}}, want: []string{"2", "3"}},
		{name: "empty membership", query: entity.Query{"mimeType": []string{}}, want: []string{}},
		{name: "is null", query: entity.Query{"sha1": nil}, want: []string{"2"}},
		{name: "and", query: entity.Query{"mimeType": "image/png", "size": 300}, want: []string{"3"}},
		{
			name:  "or",
			query: entity.Query{"mimeType": "text/plain", "size": 300},
			opts:  entity.QueryOptions{Combine: entity.CombineOr, Order: []string{"size"}},
			want:  []string{"2", "3"},
		},
		{name: "order desc with limit", opts: entity.QueryOptions{Order: []string{"-size"}, Limit: 2}, want: []string{"3", "1"}},
		{name: "offset without limit", opts: entity.QueryOptions{Order: []string{"size"}, Offset: 1}, want: []string{"1", "3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			if len(opts.Order) == 0 {
				opts.Order = []string{"id"}
			}
			rs, err := f.engine.GetObjects(context.Background(), f.file, tt.query, opts)
			if err != nil {
				t.Fatalf("get objects: %v", err)
			}
			if got := rs.IDs(); !slices.Equal(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestGetObjects_Projection(t *testing.T) {
	f := newFixture(t, nil)
	f.seedFiles(t)

	rs, err := f.engine.GetObjects(context.Background(), f.file, nil, entity.QueryOptions{Fields: []string{"size"}})
	if err != nil {
		t.Fatalf("get objects: %v", err)
	}
	row, ok := rs.Get(1)
	if !ok {
		t.Fatal("expected row 1 keyed by id")
	}
	if len(row) != 2 || row["size"] != int64(100) {
		t.Fatalf("expected id and size only, got %#v", row)
	}

	if _, err := f.engine.GetObjects(context.Background(), f.file, entity.Query{"nope": 1}, entity.QueryOptions{}); !entity.IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument for unknown field, got %v", err)
	}
}

func TestGetObjects_RowsWithoutKeyArePositional(t *testing.T) {
	hooks := entity.NewHooks().MustRegister("note.list", entity.ObjectsLoaderFunc(func(context.Context, entity.Query, entity.QueryOptions) (*entity.ResultSet, error) {
		rs := entity.NewResultSet()
		rs.Append("id", entity.Row{"id": int64(1), "body": "keyed"})
		rs.Append("id", entity.Row{"body": "loose"})
		return rs, nil
	}))
	f := newFixture(t, hooks, func(specs []entity.RawSpecification) {
		specs[2].GetObjectsFunction = "note.list"
	})

	rs, err := f.engine.GetObjects(context.Background(), f.note, nil, entity.QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if rs.Len() != 2 || !slices.Equal(rs.IDs(), []string{"1"}) {
		t.Fatalf("expected one keyed and one positional row, got %d rows ids=%v", rs.Len(), rs.IDs())
	}
}

func TestGetObjects_CacheDependsOnUpstream(t *testing.T) {
	f := newFixture(t, nil)
	f.seedMailing(t)
	ctx, scope := f.scoped(t)

	if _, err := f.engine.GetObjects(ctx, f.mailing, nil, entity.QueryOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.Lookup[*entity.ResultSet](ctx, scope, "mailings"); !ok {
		t.Fatal("expected select-all cached")
	}

	testsupport.Exec(t, f.db, `INSERT INTO mailings (id, subject) VALUES (8, 'raw insert')`)
	rs, err := f.engine.GetObjects(ctx, f.mailing, nil, entity.QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if rs.Len() != 1 {
		t.Fatalf("expected cached result, got %d rows", rs.Len())
	}

	if _, err := f.engine.CreateEntity(ctx, f.file, validFile()); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.Lookup[*entity.ResultSet](ctx, scope, "mailings"); ok {
		t.Fatal("expected mailings invalidated by upstream file write")
	}
	rs, err = f.engine.GetObjects(ctx, f.mailing, nil, entity.QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if rs.Len() != 2 {
		t.Fatalf("expected fresh result, got %d rows", rs.Len())
	}
}

func TestRecentChanges_CachedUntilNextWrite(t *testing.T) {
	f := newFixture(t, nil)
	f.seedMailing(t)
	ctx, _ := f.scoped(t)

	if _, err := f.engine.TouchEntity(ctx, f.mailing, 7, "status"); err != nil {
		t.Fatal(err)
	}
	records, err := f.engine.RecentChanges(ctx, 10)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one record, got %d err=%v", len(records), err)
	}

	if _, err := f.engine.TouchEntity(ctx, f.mailing, 7, "subject"); err != nil {
		t.Fatal(err)
	}
	records, err = f.engine.RecentChanges(ctx, 10)
	if err != nil || len(records) != 2 {
		t.Fatalf("expected the write to invalidate cached changes, got %d err=%v", len(records), err)
	}

	only, err := f.engine.RecentChanges(ctx, 10, f.file)
	if err != nil || len(only) != 0 {
		t.Fatalf("expected no file changes, got %d err=%v", len(only), err)
	}

	history, err := f.engine.EntityChanges(ctx, f.mailing, 7)
	if err != nil || len(history) != 2 {
		t.Fatalf("expected entity history of 2, got %d err=%v", len(history), err)
	}
}

func TestEntityChanges_LeavesCachedRecordsUntouched(t *testing.T) {
	f := newFixture(t, nil)
	ctx, scope := f.scoped(t)
	cest := time.FixedZone("CEST", 2*60*60)

	key := f.engine.keys.SerializeKey(cache.AggregateChanges, "entity", "mailing", "7")
	scope.Put(ctx, key, []audit.ChangeRecord{{
		ID: 1, Entity: "mailing", Field: "status", EntityID: "7",
		UpdatedOn: fixedNow.In(cest),
	}})

	records, err := f.engine.EntityChanges(ctx, f.mailing, 7)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected the cached record, got %v err=%v", records, err)
	}
	if records[0].UpdatedOn.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", records[0].UpdatedOn.Location())
	}

	cached, ok := cache.Lookup[[]audit.ChangeRecord](ctx, scope, key)
	if !ok || cached[0].UpdatedOn.Location() != cest {
		t.Fatalf("cached record must keep its zone, got %+v ok=%v", cached, ok)
	}
}

func TestReadOnlyEntity(t *testing.T) {
	f := newFixture(t, nil, func(specs []entity.RawSpecification) {
		specs[2].ReadOnly = true
	})

	if _, err := f.engine.CreateEntity(context.Background(), f.note, entity.Row{"body": "x"}); !entity.IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument for read only entity, got %v", err)
	}
}
