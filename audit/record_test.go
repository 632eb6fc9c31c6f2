package audit

import (
	"testing"
	"time"

	"github.com/goliatone/go-entity-engine/entity"
)

func testName(t *testing.T) entity.Name {
	t.Helper()
	reg, err := entity.Register([]entity.RawSpecification{{
		Name:           "mailing",
		EntityKeyField: "id",
		UpdateColumns:  []entity.ColumnMapping{{Field: "status", Column: "status"}},
	}}, nil)
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	return reg.MustName("mailing")
}

func strp(s string) *string { return &s }

func value(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func TestDiff(t *testing.T) {
	at := time.Date(2024, 5, 6, 9, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	actor := Actor{UserID: "alice", IPAddress: "10.0.0.1"}

	base := NewDiff(testName(t), int64(7), actor, at)
	withStatus := base.Change("status", "draft", "sent")
	full := withStatus.Change("tags", nil, []string{"a", "b"})

	if base.Len() != 0 || withStatus.Len() != 1 || full.Len() != 2 {
		t.Fatalf("expected diffs to be immutable, got %d/%d/%d", base.Len(), withStatus.Len(), full.Len())
	}

	records := full.Records()
	first := records[0]
	if first.Entity != "mailing" || first.EntityID != "7" || first.Field != "status" {
		t.Errorf("unexpected record identity %+v", first)
	}
	if value(first.OldValue) != "draft" || value(first.NewValue) != "sent" {
		t.Errorf("unexpected values %s -> %s", value(first.OldValue), value(first.NewValue))
	}
	if first.UpdatedBy != "alice" || first.IPAddress != "10.0.0.1" {
		t.Errorf("expected actor on record, got %+v", first)
	}
	if first.UpdatedOn.Location() != time.UTC || first.UpdatedOn.Hour() != 7 {
		t.Errorf("expected UTC timestamp, got %v", first.UpdatedOn)
	}
	if records[1].OldValue != nil || value(records[1].NewValue) != "a|b" {
		t.Errorf("unexpected array change %s -> %s", value(records[1].OldValue), value(records[1].NewValue))
	}

	// mutating the returned slice leaves the diff alone
	records[0].Field = "changed"
	if full.Records()[0].Field != "status" {
		t.Error("Records() leaked internal state")
	}
}

func TestDiff_CreatedDeleted(t *testing.T) {
	d := NewDiff(testName(t), "12", Actor{}, time.Now())

	created := d.Created().Records()[0]
	if created.Field != FieldNewEntry || created.OldValue != nil || value(created.NewValue) != "12" {
		t.Errorf("unexpected create record %+v", created)
	}

	deleted := d.Deleted().Records()[0]
	if deleted.Field != FieldEntryDeleted || value(deleted.OldValue) != "12" || deleted.NewValue != nil {
		t.Errorf("unexpected delete record %+v", deleted)
	}
}

func TestDiff_ForID(t *testing.T) {
	d := NewDiff(testName(t), 7, Actor{}, time.Now()).Change("id", 7, 70)
	moved := d.ForID(70)

	if moved.Records()[0].EntityID != "70" {
		t.Errorf("expected rebound id, got %s", moved.Records()[0].EntityID)
	}
	if d.Records()[0].EntityID != "7" {
		t.Errorf("expected original diff untouched, got %s", d.Records()[0].EntityID)
	}
	if next := moved.Change("status", "a", "b").Records()[1]; next.EntityID != "70" {
		t.Errorf("expected later records on new id, got %s", next.EntityID)
	}
}
