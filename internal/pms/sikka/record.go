package sikka

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// record is one loosely typed JSON object from the Sikka API. Field names are
// inconsistent between endpoints (snake_case, camelCase, legacy aliases), so
// every accessor takes the accepted keys in priority order.
type record map[string]any

func decodeJSON(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}

// decodeRecords accepts a bare array, a single object, or a list envelope
// ({"items": [...]}, {"data": [...]}).
func decodeRecords(data []byte) ([]record, int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, 0, nil
	}
	if data[0] == '[' {
		var items []record
		if err := decodeJSON(data, &items); err != nil {
			return nil, 0, fmt.Errorf("decode list: %w", err)
		}
		return items, len(items), nil
	}

	var obj record
	if err := decodeJSON(data, &obj); err != nil {
		return nil, 0, fmt.Errorf("decode object: %w", err)
	}
	for _, key := range []string{"items", "data", "results"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		list, ok := raw.([]any)
		if !ok {
			if single, ok := raw.(map[string]any); ok {
				return []record{single}, 1, nil
			}
			continue
		}
		items := make([]record, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				items = append(items, m)
			}
		}
		total := len(items)
		if n, ok := obj.intVal("total_count", "totalCount", "total"); ok {
			total = n
		}
		return items, total, nil
	}
	return []record{obj}, 1, nil
}

func (r record) lookup(keys ...string) (any, bool) {
	for _, key := range keys {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func (r record) str(keys ...string) string {
	v, ok := r.lookup(keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func (r record) float(keys ...string) (float64, bool) {
	v, ok := r.lookup(keys...)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case string:
		clean := strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(t))
		f, err := strconv.ParseFloat(clean, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func (r record) intVal(keys ...string) (int, bool) {
	f, ok := r.float(keys...)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

func (r record) boolean(keys ...string) (bool, bool) {
	v, ok := r.lookup(keys...)
	if !ok {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case json.Number:
		return t.String() != "0", true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "t", "yes", "y", "1", "active":
			return true, true
		case "false", "f", "no", "n", "0", "inactive":
			return false, true
		}
	}
	return false, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"2006-01-02",
}

// parseTime parses the formats Sikka emits. Values without a zone are read in loc.
func parseTime(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (r record) timeVal(loc *time.Location, keys ...string) (time.Time, bool) {
	return parseTime(r.str(keys...), loc)
}

// date returns the value normalized to YYYY-MM-DD, or "" when unparseable.
func (r record) date(keys ...string) string {
	raw := r.str(keys...)
	if raw == "" {
		return ""
	}
	if t, ok := parseTime(raw, time.UTC); ok {
		return t.Format("2006-01-02")
	}
	return ""
}

// parseClock reads "15:04", "15:04:05" or "3:04 PM".
func parseClock(value string) (hour, minute int, ok bool) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{"15:04", "15:04:05", "3:04 PM", "3:04PM", "03:04 PM"} {
		if t, err := time.Parse(layout, strings.ToUpper(value)); err == nil {
			return t.Hour(), t.Minute(), true
		}
	}
	return 0, 0, false
}

// parseExpiresIn accepts 86400, "86400" or "86400 second(s)".
func parseExpiresIn(v any) (time.Duration, bool) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		s = t
	default:
		return 0, false
	}
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
