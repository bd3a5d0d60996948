// Package validate checks candidate memory entries against the closed wire
// schema. It performs no I/O.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"unicode/utf8"

	"memlog/internal/domain"
)

var (
	versionPattern = regexp.MustCompile(`^\d+\.\d+$`)
	uuidV4Pattern  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)
	sourcePattern  = regexp.MustCompile(`^[a-z0-9]+(\.[a-z0-9]+)+$`)
	tagPattern     = regexp.MustCompile(`^[a-z0-9:_-]+$`)
)

// Field names of the wire schema.
const (
	FieldVersion   = "version"
	FieldID        = "id"
	FieldTimestamp = "timestamp"
	FieldSource    = "source"
	FieldContent   = "content"
	FieldType      = "type"
	FieldTags      = "tags"
	FieldMeta      = "meta"
	FieldEmbedding = "embedding"
)

var requiredFields = []string{FieldVersion, FieldID, FieldTimestamp, FieldSource, FieldContent}

var knownFields = map[string]bool{
	FieldVersion:   true,
	FieldID:        true,
	FieldTimestamp: true,
	FieldSource:    true,
	FieldContent:   true,
	FieldType:      true,
	FieldTags:      true,
	FieldMeta:      true,
	FieldEmbedding: true,
}

// Entry validates candidate and returns the decoded entry. candidate may be
// raw JSON ([]byte or json.RawMessage) or any JSON-encodable Go value such as a
// domain.MemoryEntry or a map[string]any. Any failure is a
// *domain.ValidationError naming the offending field and value.
func Entry(candidate any) (*domain.MemoryEntry, error) {
	switch c := candidate.(type) {
	case nil:
		return nil, &domain.ValidationError{Reason: "candidate must be a JSON object, got null"}
	case []byte:
		return JSON(c)
	case json.RawMessage:
		return JSON(c)
	case string:
		return nil, &domain.ValidationError{Reason: "candidate must be a JSON object, got string"}
	}

	if err := checkUTF8(candidate); err != nil {
		return nil, err
	}
	data, err := json.Marshal(candidate)
	if err != nil {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("candidate is not JSON-encodable: %v", err)}
	}
	return JSON(data)
}

// JSON validates one serialized entry.
func JSON(data []byte) (*domain.MemoryEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if !utf8.Valid(data) {
		return nil, &domain.ValidationError{Reason: "candidate is not valid UTF-8"}
	}

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, &domain.ValidationError{Reason: "trailing data after JSON object"}
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("candidate must be a JSON object, got %s", kindOf(raw))}
	}
	if err := checkFields(obj); err != nil {
		return nil, err
	}
	if err := conform(data); err != nil {
		return nil, err
	}

	var entry domain.MemoryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("decode entry: %v", err)}
	}
	return &entry, nil
}

// Source checks a reverse-domain app identity such as "com.example.app".
func Source(s string) error {
	if !sourcePattern.MatchString(s) {
		return domain.NewValidationError(FieldSource, s, "must be reverse-domain notation of lowercase alphanumeric segments")
	}
	return nil
}

// Tag checks a single tag.
func Tag(s string) error {
	if !tagPattern.MatchString(s) {
		return domain.NewValidationError(FieldTags, s, "tag must match [a-z0-9:_-]+")
	}
	return nil
}

// Compatible reports whether an entry written with version can be read by
// this build.
func Compatible(version string) bool {
	return domain.VersionsCompatible(version, domain.SchemaVersion)
}

func checkFields(obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !knownFields[k] {
			return domain.NewValidationError(k, obj[k], "unknown field")
		}
	}

	for _, f := range requiredFields {
		if _, ok := obj[f]; !ok {
			return domain.NewValidationError(f, nil, "required field missing")
		}
	}

	if err := checkPattern(obj, FieldVersion, versionPattern, "must be MAJOR.MINOR"); err != nil {
		return err
	}
	if err := checkPattern(obj, FieldID, uuidV4Pattern, "must be a UUIDv4"); err != nil {
		return err
	}
	if err := checkTimestamp(obj[FieldTimestamp]); err != nil {
		return err
	}
	if err := checkPattern(obj, FieldSource, sourcePattern, "must be reverse-domain notation of lowercase alphanumeric segments"); err != nil {
		return err
	}
	if s, ok := obj[FieldContent].(string); !ok || s == "" {
		return domain.NewValidationError(FieldContent, obj[FieldContent], "must be a non-empty string")
	}

	if v, ok := obj[FieldType]; ok {
		if _, isStr := v.(string); !isStr {
			return domain.NewValidationError(FieldType, v, "must be a string")
		}
	}
	if v, ok := obj[FieldTags]; ok {
		if err := checkTags(v); err != nil {
			return err
		}
	}
	if v, ok := obj[FieldMeta]; ok {
		if _, isObj := v.(map[string]any); !isObj {
			return domain.NewValidationError(FieldMeta, v, "must be a JSON object")
		}
	}
	if v, ok := obj[FieldEmbedding]; ok {
		if err := checkEmbedding(v); err != nil {
			return err
		}
	}
	return nil
}

// checkUTF8 rejects strings that json.Marshal would silently rewrite to
// U+FFFD, which would make the stored entry differ from the one written.
func checkUTF8(candidate any) error {
	switch c := candidate.(type) {
	case *domain.MemoryEntry:
		if c != nil {
			return checkUTF8(*c)
		}
	case domain.MemoryEntry:
		for _, f := range []struct {
			name  string
			value any
		}{
			{FieldVersion, c.Version},
			{FieldID, c.ID},
			{FieldSource, c.Source},
			{FieldContent, c.Content},
			{FieldType, c.Type},
			{FieldTags, c.Tags},
			{FieldMeta, map[string]any(c.Meta)},
		} {
			if !validUTF8(f.value) {
				return domain.NewValidationError(f.name, f.value, "must be valid UTF-8")
			}
		}
	case domain.JSONObject:
		return checkUTF8(map[string]any(c))
	case map[string]any:
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !utf8.ValidString(k) || !validUTF8(c[k]) {
				return domain.NewValidationError(k, c[k], "must be valid UTF-8")
			}
		}
	}
	return nil
}

func validUTF8(v any) bool {
	switch x := v.(type) {
	case string:
		return utf8.ValidString(x)
	case []string:
		for _, s := range x {
			if !utf8.ValidString(s) {
				return false
			}
		}
	case []any:
		for _, item := range x {
			if !validUTF8(item) {
				return false
			}
		}
	case domain.JSONObject:
		return validUTF8(map[string]any(x))
	case map[string]any:
		for k, item := range x {
			if !utf8.ValidString(k) || !validUTF8(item) {
				return false
			}
		}
	}
	return true
}

func checkPattern(obj map[string]any, field string, re *regexp.Regexp, reason string) error {
	s, ok := obj[field].(string)
	if !ok || !re.MatchString(s) {
		return domain.NewValidationError(field, obj[field], reason)
	}
	return nil
}

func checkTimestamp(v any) error {
	n, ok := v.(json.Number)
	if !ok {
		return domain.NewValidationError(FieldTimestamp, v, "must be a non-negative integer")
	}
	ms, err := n.Int64()
	if err != nil || ms < 0 {
		return domain.NewValidationError(FieldTimestamp, n.String(), "must be a non-negative integer")
	}
	return nil
}

func checkTags(v any) error {
	arr, ok := v.([]any)
	if !ok {
		return domain.NewValidationError(FieldTags, v, "must be an array of strings")
	}
	seen := make(map[string]bool, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return domain.NewValidationError(FieldTags, item, "tag must be a string")
		}
		if err := Tag(s); err != nil {
			return err
		}
		if seen[s] {
			return domain.NewValidationError(FieldTags, s, "duplicate tag")
		}
		seen[s] = true
	}
	return nil
}

func checkEmbedding(v any) error {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return domain.NewValidationError(FieldEmbedding, v, "must be a non-empty array of numbers")
	}
	for _, item := range arr {
		n, ok := item.(json.Number)
		if !ok {
			return domain.NewValidationError(FieldEmbedding, item, "must contain only numbers")
		}
		if _, err := n.Float64(); err != nil {
			return domain.NewValidationError(FieldEmbedding, n.String(), "number out of range")
		}
	}
	return nil
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
