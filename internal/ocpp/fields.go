package ocpp

import (
	"fmt"
	"strconv"
	"time"
)

// Field readers for decoded JSON payloads. Numbers arrive as float64
// from encoding/json; integer fields tolerate that.

func requireString(action string, p map[string]any, field string) (string, error) {
	v, ok := p[field]
	if !ok {
		return "", missing(action, field)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", wrongType(action, field, "non-empty string")
	}
	return s, nil
}

func requireInt(action string, p map[string]any, field string) (int, error) {
	n, err := requireInt64(action, p, field)
	return int(n), err
}

func requireInt64(action string, p map[string]any, field string) (int64, error) {
	v, ok := p[field]
	if !ok {
		return 0, missing(action, field)
	}
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	default:
		return 0, wrongType(action, field, "number")
	}
}

func requireTime(action string, p map[string]any, field string) (time.Time, error) {
	s, err := requireString(action, p, field)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &ValidationError{Action: action, Field: field, Reason: "must be an RFC3339 timestamp"}
	}
	return ts.UTC(), nil
}

func optionalString(p map[string]any, field string) string {
	s, _ := p[field].(string)
	return s
}

func optionalTime(p map[string]any, field string) (time.Time, bool) {
	s, ok := p[field].(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

func int64FromAny(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}

func stringFromAny(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
