package sheets

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/yln-platform/sheetstore/pkg/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		code int
		kind types.RemoteKind
	}{
		{"unauthorized", 401, types.RemoteAuth},
		{"forbidden", 403, types.RemoteAuth},
		{"missing worksheet", 404, types.RemoteNotFound},
		{"rate limited", 429, types.RemoteRateLimited},
		{"server error", 500, types.RemoteTransient},
		{"bad gateway", 502, types.RemoteTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(&googleapi.Error{Code: tt.code})
			var rerr *types.RemoteError
			if !errors.As(err, &rerr) {
				t.Fatalf("classify(%d) = %v, want RemoteError", tt.code, err)
			}
			if rerr.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", rerr.Kind, tt.kind)
			}
		})
	}
}

func TestClassifyRetryAfterHint(t *testing.T) {
	gerr := &googleapi.Error{
		Code:   429,
		Header: http.Header{"Retry-After": []string{"30"}},
	}
	err := classify(gerr)
	var rerr *types.RemoteError
	if !errors.As(err, &rerr) {
		t.Fatalf("classify = %v, want RemoteError", err)
	}
	if rerr.RetryAfter != 30*time.Second {
		t.Errorf("retry after = %v, want 30s", rerr.RetryAfter)
	}
}

func TestClassifyNil(t *testing.T) {
	if err := classify(nil); err != nil {
		t.Errorf("classify(nil) = %v, want nil", err)
	}
}

func TestClassifyPassesThroughRemoteErrors(t *testing.T) {
	in := &types.RemoteError{Kind: types.RemoteConflict, Err: fmt.Errorf("clobbered")}
	out := classify(fmt.Errorf("wrapped: %w", in))
	var rerr *types.RemoteError
	if !errors.As(out, &rerr) || rerr.Kind != types.RemoteConflict {
		t.Errorf("classify double-wrapped a RemoteError: %v", out)
	}
}

func TestClassifyUnknownErrorUntouched(t *testing.T) {
	plain := fmt.Errorf("schema broke")
	if got := classify(plain); got != plain {
		t.Errorf("classify(%v) = %v, want unchanged", plain, got)
	}
}

func TestIDColumnIndex(t *testing.T) {
	schema := types.Schema{
		EntityType: "widgets",
		IDField:    "id",
		Columns: []types.Column{
			{Name: "created_at", Type: types.FieldTimestamp},
			{Name: "id", Type: types.FieldString},
			{Name: "label", Type: types.FieldString},
		},
	}
	idx, ok := idColumnIndex(schema)
	if !ok || idx != 1 {
		t.Errorf("idColumnIndex = %d/%v, want 1/true", idx, ok)
	}

	schema.IDField = "uuid"
	if _, ok := idColumnIndex(schema); ok {
		t.Errorf("idColumnIndex found a column that is not in the schema")
	}
}

func TestColumnLetter(t *testing.T) {
	tests := []struct {
		idx  int
		want string
	}{
		{0, "A"},
		{1, "B"},
		{25, "Z"},
		{26, "AA"},
		{27, "AB"},
		{51, "AZ"},
		{52, "BA"},
		{701, "ZZ"},
	}
	for _, tt := range tests {
		if got := columnLetter(tt.idx); got != tt.want {
			t.Errorf("columnLetter(%d) = %q, want %q", tt.idx, got, tt.want)
		}
	}
}

func TestDataRange(t *testing.T) {
	if got := dataRange("users"); got != "'users'!A2:ZZ" {
		t.Errorf("dataRange = %q", got)
	}
}

func TestCellConversion(t *testing.T) {
	raw := []interface{}{"u1", "a@x.com", 42, true}
	row := stringCells(raw, 4)
	want := []string{"u1", "a@x.com", "42", "true"}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("cell %d = %q, want %q", i, row[i], want[i])
		}
	}

	back := anyCells([]string{"u1", "a@x.com"})
	if len(back) != 2 || back[0] != "u1" {
		t.Errorf("anyCells = %v", back)
	}
}
