package store

import (
	"testing"
	"time"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 3, 5, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"rfc3339 z", "2024-03-05T12:30:00Z", want},
		{"rfc3339 offset", "2024-03-05T14:30:00+02:00", want},
		{"rfc3339 fraction", "2024-03-05T12:30:00.000Z", want},
		{"no zone", "2024-03-05T12:30:00", want},
		{"space separated", "2024-03-05 12:30:00", want},
		{"space with offset", "2024-03-05 07:30:00-05:00", want},
		{"date only", "2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"padded", "  2024-03-05T12:30:00Z ", want},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTime(tt.input)
			if err != nil {
				t.Fatalf("ParseTime(%q) error = %v", tt.input, err)
			}
			if !got.Equal(tt.want) || got.Location() != time.UTC {
				t.Errorf("ParseTime(%q) = %v, want %v UTC", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseTimeRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "yesterday", "2024-13-45", "05/03/2024"} {
		_, err := ParseTime(input)
		if apperrors.GetCode(err) != apperrors.CodeMalformedTime {
			t.Errorf("ParseTime(%q) error = %v, want MALFORMED_TIMESTAMP", input, err)
		}
	}
}

func TestTimeRoundTrip(t *testing.T) {
	in := NewTime(time.Date(2024, 1, 2, 3, 4, 5, 678_900_000, time.FixedZone("x", 3600)))

	v, err := in.Value()
	if err != nil {
		t.Fatal(err)
	}
	if v != "2024-01-02T02:04:05.678Z" {
		t.Errorf("Value() = %v", v)
	}

	var out Time
	if err := out.Scan(v); err != nil {
		t.Fatal(err)
	}
	if !out.Equal(in.Time) {
		t.Errorf("Scan() = %v, want %v", out, in)
	}

	var n NullTime
	if err := n.Scan(nil); err != nil || n.Valid {
		t.Errorf("Scan(nil) = %+v, %v", n, err)
	}
	if b, _ := n.MarshalJSON(); string(b) != "null" {
		t.Errorf("MarshalJSON() = %s", b)
	}
}
