package store

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
)

// TimeLayout is the storage format for every timestamp column. It is fixed
// width so lexical order in SQLite matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// acceptedLayouts are tried in order by ParseTime.
var acceptedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses the timestamp formats importers hand us and normalizes
// the result to UTC. Values without an offset are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, apperrors.Validation(apperrors.CodeMalformedTime, "empty timestamp")
	}
	for _, layout := range acceptedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperrors.Validation(apperrors.CodeMalformedTime, "malformed timestamp %q", s)
}

// FormatTime renders t in the storage layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Time is a non-null UTC timestamp column.
type Time struct {
	time.Time
}

// Now returns the current time truncated to storage precision.
func Now() Time {
	return Time{time.Now().UTC().Truncate(time.Millisecond)}
}

// NewTime wraps t, normalized to UTC at storage precision.
func NewTime(t time.Time) Time {
	return Time{t.UTC().Truncate(time.Millisecond)}
}

func (t Time) Value() (driver.Value, error) {
	return FormatTime(t.Time), nil
}

func (t *Time) Scan(src any) error {
	parsed, ok, err := scanTime(src)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("scan time: unexpected NULL")
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + FormatTime(t.Time) + `"`), nil
}

// NullTime is a nullable UTC timestamp column.
type NullTime struct {
	Time  time.Time
	Valid bool
}

// NullTimeFrom returns a valid NullTime for t.
func NullTimeFrom(t time.Time) NullTime {
	return NullTime{Time: t.UTC().Truncate(time.Millisecond), Valid: true}
}

// Ptr returns nil for NULL.
func (n NullTime) Ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func (n NullTime) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return FormatTime(n.Time), nil
}

func (n *NullTime) Scan(src any) error {
	parsed, ok, err := scanTime(src)
	if err != nil {
		return err
	}
	n.Time, n.Valid = parsed, ok
	return nil
}

func (n NullTime) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return []byte(`"` + FormatTime(n.Time) + `"`), nil
}

func scanTime(src any) (time.Time, bool, error) {
	switch v := src.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return v.UTC(), true, nil
	case string:
		t, err := ParseTime(v)
		return t, err == nil, err
	case []byte:
		t, err := ParseTime(string(v))
		return t, err == nil, err
	default:
		return time.Time{}, false, fmt.Errorf("scan time: unsupported type %T", src)
	}
}
