package sapo

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// looseInt64 accepts a JSON number, a numeric string or null
type looseInt64 struct {
	Value int64
	Valid bool
}

func (l *looseInt64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = looseInt64{}
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*l = looseInt64{}
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*l = looseInt64{Value: int64(f), Valid: true}
	return nil
}

func (l looseInt64) ptr() *int64 {
	if !l.Valid {
		return nil
	}
	v := l.Value
	return &v
}

// looseString accepts a JSON string, a number or null
type looseString struct {
	Value string
	Valid bool
}

func (l *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = looseString{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = looseString{Value: s, Valid: true}
		return nil
	}
	*l = looseString{Value: string(data), Valid: true}
	return nil
}

func (l looseString) ptr() *string {
	if !l.Valid {
		return nil
	}
	v := l.Value
	return &v
}

var remoteTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseRemoteTime parses the timestamp shapes Sapo returns; nil for empty or unknown
func parseRemoteTime(s *string) *time.Time {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	for _, layout := range remoteTimeLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(*s)); err == nil {
			return &t
		}
	}
	return nil
}

// splitIDs parses "1,2, 3" into ids, skipping anything non-numeric
func splitIDs(s string) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
