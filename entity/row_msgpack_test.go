package entity

import (
	"slices"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func TestRow_MsgpackKeepsTypes(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 500, time.UTC)
	in := &ResultSet{}
	in.Append("id", Row{
		"id":       int64(7),
		"name":     "report.pdf",
		"size":     12,
		"ratio":    0.5,
		"isPublic": true,
		"on":       at,
		"tags":     []string{"a", "b"},
		"where":    GeoPoint{Latitude: 1.5, Longitude: -2},
		"owner":    nil,
	})

	data, err := msgpack.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	var out ResultSet
	if err := msgpack.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}

	row, ok := out.Get(7)
	if !ok {
		t.Fatalf("expected indexed row, got %+v", out)
	}
	if row["id"] != int64(7) || row["size"] != int64(12) {
		t.Errorf("expected integers as int64, got %T %T", row["id"], row["size"])
	}
	if row["name"] != "report.pdf" || row["ratio"] != 0.5 || row["isPublic"] != true {
		t.Errorf("unexpected scalars: %v", row)
	}
	if got, ok := row["on"].(time.Time); !ok || !got.Equal(at) || got.Location() != time.UTC {
		t.Errorf("expected UTC time %v, got %v", at, row["on"])
	}
	if got, ok := row["tags"].([]string); !ok || !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("expected []string, got %#v", row["tags"])
	}
	if row["where"] != (GeoPoint{Latitude: 1.5, Longitude: -2}) {
		t.Errorf("unexpected geopoint %v", row["where"])
	}
	if v, ok := row["owner"]; !ok || v != nil {
		t.Errorf("expected nil owner kept, got %v %v", v, ok)
	}
}

func TestRow_MsgpackRejectsUnknownTypes(t *testing.T) {
	if _, err := msgpack.Marshal(Row{"x": struct{}{}}); err == nil {
		t.Error("expected error for unsupported value")
	}
}
