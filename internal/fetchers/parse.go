package fetchers

import (
	"strconv"
	"strings"
	"time"
)

// likeViewMultiplier approximates views from likes when the provider exposes
// no play count for an item.
const likeViewMultiplier = 10

// asInt64 coerces the loosely typed numeric fields found in provider
// payloads (float64 from JSON, numeric strings) into an int64.
func asInt64(value interface{}) int64 {
	switch v := value.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

// asTime parses a publish time that providers encode either as epoch seconds
// or as an ISO-8601 string. Unparseable values map to the zero time.
func asTime(value interface{}) time.Time {
	switch v := value.(type) {
	case float64:
		if v == 0 {
			return time.Time{}
		}
		return time.Unix(int64(v), 0).UTC()
	case int64:
		if v == 0 {
			return time.Time{}
		}
		return time.Unix(v, 0).UTC()
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}
		}
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(epoch, 0).UTC()
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

// firstString returns the first non-empty string among the given map fields.
func firstString(item map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := item[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// firstInt64 returns the first non-zero numeric value among the given map
// fields.
func firstInt64(item map[string]interface{}, keys ...string) int64 {
	for _, key := range keys {
		if n := asInt64(item[key]); n != 0 {
			return n
		}
	}
	return 0
}

// firstValue returns the first present field among the given keys.
func firstValue(item map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		if v, ok := item[key]; ok && v != nil {
			return v
		}
	}
	return nil
}
