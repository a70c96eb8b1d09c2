package codec

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/yln-platform/sheetstore/pkg/types"
)

func testSchema() types.Schema {
	return types.Schema{
		EntityType: "users",
		IDField:    "id",
		Columns: []types.Column{
			{Name: "id", Type: types.FieldString},
			{Name: "email", Type: types.FieldString},
			{Name: "logins", Type: types.FieldInteger},
			{Name: "score", Type: types.FieldFloat},
			{Name: "is_verified", Type: types.FieldBoolean},
			{Name: "created_at", Type: types.FieldTimestamp},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	s := testSchema()
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	records := []types.Record{
		{
			"id":          "u1",
			"email":       "a@x.com",
			"logins":      int64(42),
			"score":       1.5,
			"is_verified": true,
			"created_at":  created,
		},
		// Absent fields stay absent through the round trip.
		{"id": "u2", "email": "b@x.com"},
		{"id": "u3", "is_verified": false},
	}

	for _, rec := range records {
		row, err := Encode(rec, s)
		if err != nil {
			t.Fatalf("Encode(%v): %v", rec, err)
		}
		if len(row) != len(s.Columns) {
			t.Fatalf("row length %d, want %d", len(row), len(s.Columns))
		}
		got := Decode(row, s)
		if !reflect.DeepEqual(got, rec) {
			t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, rec)
		}
	}
}

func TestEncodeSchemaMismatch(t *testing.T) {
	_, err := Encode(types.Record{"id": "u1", "nickname": "al"}, testSchema())
	if !errors.Is(err, types.ErrSchemaMismatch) {
		t.Errorf("err = %v, want ErrSchemaMismatch", err)
	}
}

func TestEncodeCoercion(t *testing.T) {
	s := testSchema()
	row, err := Encode(types.Record{
		"id":          "u1",
		"logins":      7, // plain int
		"score":       int64(3),
		"is_verified": "1",
		"created_at":  "2026-03-14T09:26:53Z",
	}, s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []string{"u1", "", "7", "3", "TRUE", "2026-03-14T09:26:53Z"}
	if !reflect.DeepEqual(row, want) {
		t.Errorf("row = %v, want %v", row, want)
	}
}

func TestEncodeRejectsFractionalInteger(t *testing.T) {
	if _, err := Encode(types.Record{"logins": 1.5}, testSchema()); err == nil {
		t.Error("expected error for fractional value in integer column")
	}
}

func TestDecodeShortRow(t *testing.T) {
	// Trailing columns missing from the raw row decode to absent fields,
	// never an error.
	got := Decode([]string{"u1", "a@x.com"}, testSchema())
	want := types.Record{"id": "u1", "email": "a@x.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Decode = %#v, want %#v", got, want)
	}
}

func TestDecodeMalformedCellKeepsRaw(t *testing.T) {
	got := Decode([]string{"u1", "", "not-a-number"}, testSchema())
	if got["logins"] != "not-a-number" {
		t.Errorf("logins = %#v, want raw string preserved", got["logins"])
	}
}

func TestDecodeBooleanForms(t *testing.T) {
	s := types.Schema{
		EntityType: "t",
		IDField:    "id",
		Columns: []types.Column{
			{Name: "id", Type: types.FieldString},
			{Name: "flag", Type: types.FieldBoolean},
		},
	}
	for cell, want := range map[string]any{
		"TRUE": true, "true": true, "1": true,
		"FALSE": false, "false": false, "0": false,
		"maybe": "maybe",
	} {
		got := Decode([]string{"x", cell}, s)
		if got["flag"] != want {
			t.Errorf("cell %q decoded to %#v, want %#v", cell, got["flag"], want)
		}
	}
}
