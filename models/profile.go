package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxFieldLength caps a single profile value, counted in runes.
const MaxFieldLength = 1000

// ProfileUpdate is the filtered set of allowlisted fields to $set on a user.
type ProfileUpdate map[string]string

type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q %s", e.Field, e.Reason)
}

// NewProfileUpdate keeps only allowlisted keys with a non-empty value, checked
// in ProfileFields order.
// Unknown keys are dropped silently. Empty strings, whitespace and null mean
// "leave unchanged", so a partial form never clears stored data.
func NewProfileUpdate(payload map[string]any) (ProfileUpdate, error) {
	update := make(ProfileUpdate)
	for _, key := range ProfileFields {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		value, err := fieldText(key, raw)
		if err != nil {
			return nil, err
		}
		if value == "" {
			continue
		}
		if utf8.RuneCountInString(value) > MaxFieldLength {
			return nil, &FieldError{Field: key, Reason: fmt.Sprintf("exceeds %d characters", MaxFieldLength)}
		}
		update[key] = value
	}
	return update, nil
}

func fieldText(key string, raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	return "", &FieldError{Field: key, Reason: "must be a text value"}
}

// Keys returns the update's field names, for logging.
func (p ProfileUpdate) Keys() []string {
	keys := make([]string, 0, len(p))
	for _, f := range ProfileFields {
		if _, ok := p[f]; ok {
			keys = append(keys, f)
		}
	}
	return keys
}
