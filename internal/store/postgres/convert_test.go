package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
)

func TestToPgUUID(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
	}{
		{"valid", "3f2504e0-4f89-11d3-9a0c-0305e82c3301", true},
		{"uppercase", "3F2504E0-4F89-11D3-9A0C-0305E82C3301", true},
		{"empty", "", false},
		{"garbage", "not-a-uuid", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToPgUUID(tt.input)
			if got.Valid != tt.wantValid {
				t.Errorf("ToPgUUID(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
		})
	}
}

func TestPgUUIDToString_RoundTrip(t *testing.T) {
	const id = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
	if got := PgUUIDToString(ToPgUUID(id)); got != id {
		t.Errorf("round trip = %q, want %q", got, id)
	}
	if got := PgUUIDToString(pgtype.UUID{}); got != "" {
		t.Errorf("PgUUIDToString(invalid) = %q, want empty", got)
	}
}

func TestPgTextToString(t *testing.T) {
	if got := PgTextToString(pgtype.Text{String: "x", Valid: true}); got != "x" {
		t.Errorf("PgTextToString(valid) = %q, want x", got)
	}
	if got := PgTextToString(pgtype.Text{String: "ignored"}); got != "" {
		t.Errorf("PgTextToString(NULL) = %q, want empty", got)
	}
}
