package persistence

import (
	"database/sql"
	"fmt"
	"time"
)

// stamp is an instant stored as fixed-width UTC text with nanosecond
// precision. Byte order equals chronological order, so every backend can
// compare and index it as a plain string. The zero time encodes as the
// smallest stamp; instants outside years 1 through 9999 are clamped.
type stamp string

const stampLayout = "2006-01-02T15:04:05.000000000Z"

var (
	minStampTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	maxStampTime = time.Date(9999, 12, 31, 23, 59, 59, 999999999, time.UTC)
)

func toStamp(t time.Time) stamp {
	t = t.UTC()
	switch {
	case t.Before(minStampTime):
		t = minStampTime
	case t.After(maxStampTime):
		t = maxStampTime
	}
	return stamp(t.Format(stampLayout))
}

func toStampPtr(t *time.Time) *stamp {
	if t == nil {
		return nil
	}
	s := toStamp(*t)
	return &s
}

// stampReader parses stored stamps and keeps the first failure, so row
// conversions can read every column and check once.
type stampReader struct {
	err error
}

func (r *stampReader) time(s stamp) time.Time {
	t, err := time.Parse(stampLayout, string(s))
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("malformed timestamp %q: %w", s, err)
		}
		return time.Time{}
	}
	return t.UTC()
}

func (r *stampReader) ptr(s *stamp) *time.Time {
	if s == nil {
		return nil
	}
	t := r.time(*s)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
