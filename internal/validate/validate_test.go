package validate

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memlog/internal/domain"
)

const validID = "3f1c7f2e-8a4b-4c1d-9e2f-0a1b2c3d4e5f"

func validMap() map[string]any {
	return map[string]any{
		"version":   "1.0",
		"id":        validID,
		"timestamp": 1700000000000,
		"source":    "com.example.app",
		"content":   "hello",
	}
}

func TestEntryAcceptsMinimal(t *testing.T) {
	entry, err := Entry(validMap())
	require.NoError(t, err)
	assert.Equal(t, "1.0", entry.Version)
	assert.Equal(t, validID, entry.ID)
	assert.Equal(t, int64(1700000000000), entry.Timestamp)
	assert.Equal(t, "com.example.app", entry.Source)
	assert.Equal(t, "hello", entry.Content)
	assert.Empty(t, entry.Tags)
}

func TestEntryAcceptsFullStruct(t *testing.T) {
	in := domain.MemoryEntry{
		Version:   "1.2",
		ID:        "3F1C7F2E-8A4B-4C1D-9E2F-0A1B2C3D4E5F",
		Timestamp: 0,
		Source:    "dev.tools.cli",
		Content:   "ünïcode ✓",
		Type:      "note",
		Tags:      []string{"work", "project:alpha", "a_b-c"},
		Meta:      domain.JSONObject{"nested": map[string]any{"k": []any{1.0, "x"}}},
		Embedding: []float64{0.1, -0.2, 3},
	}
	out, err := Entry(in)
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}

func TestEntryRawJSON(t *testing.T) {
	raw := []byte(`{"version":"1.0","id":"` + validID + `","timestamp":5,"source":"a.b","content":"x","tags":["t"]}`)
	out, err := JSON(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, out.Tags)

	out, err = Entry(json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, int64(5), out.Timestamp)
}

func TestEntryRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m map[string]any)
		field  string
	}{
		{"missing version", func(m map[string]any) { delete(m, "version") }, "version"},
		{"missing id", func(m map[string]any) { delete(m, "id") }, "id"},
		{"missing timestamp", func(m map[string]any) { delete(m, "timestamp") }, "timestamp"},
		{"missing source", func(m map[string]any) { delete(m, "source") }, "source"},
		{"missing content", func(m map[string]any) { delete(m, "content") }, "content"},
		{"unknown field", func(m map[string]any) { m["priority"] = 1 }, "priority"},
		{"bad version", func(m map[string]any) { m["version"] = "1" }, "version"},
		{"numeric version", func(m map[string]any) { m["version"] = 1.0 }, "version"},
		{"uuid v1", func(m map[string]any) { m["id"] = "3f1c7f2e-8a4b-1c1d-9e2f-0a1b2c3d4e5f" }, "id"},
		{"bad variant", func(m map[string]any) { m["id"] = "3f1c7f2e-8a4b-4c1d-7e2f-0a1b2c3d4e5f" }, "id"},
		{"not a uuid", func(m map[string]any) { m["id"] = "abc" }, "id"},
		{"negative timestamp", func(m map[string]any) { m["timestamp"] = -1 }, "timestamp"},
		{"fractional timestamp", func(m map[string]any) { m["timestamp"] = 1.5 }, "timestamp"},
		{"string timestamp", func(m map[string]any) { m["timestamp"] = "1700000000000" }, "timestamp"},
		{"single-segment source", func(m map[string]any) { m["source"] = "app" }, "source"},
		{"uppercase source", func(m map[string]any) { m["source"] = "com.Example.app" }, "source"},
		{"trailing dot source", func(m map[string]any) { m["source"] = "com.example." }, "source"},
		{"empty content", func(m map[string]any) { m["content"] = "" }, "content"},
		{"null content", func(m map[string]any) { m["content"] = nil }, "content"},
		{"numeric type", func(m map[string]any) { m["type"] = 3 }, "type"},
		{"tags not array", func(m map[string]any) { m["tags"] = "work" }, "tags"},
		{"uppercase tag", func(m map[string]any) { m["tags"] = []any{"Work"} }, "tags"},
		{"tag with space", func(m map[string]any) { m["tags"] = []any{"a b"} }, "tags"},
		{"duplicate tag", func(m map[string]any) { m["tags"] = []any{"a", "a"} }, "tags"},
		{"meta array", func(m map[string]any) { m["meta"] = []any{1} }, "meta"},
		{"meta null", func(m map[string]any) { m["meta"] = nil }, "meta"},
		{"empty embedding", func(m map[string]any) { m["embedding"] = []any{} }, "embedding"},
		{"string in embedding", func(m map[string]any) { m["embedding"] = []any{0.1, "x"} }, "embedding"},
		{"invalid utf-8 content", func(m map[string]any) { m["content"] = "ab\xffcd" }, "content"},
		{"invalid utf-8 type", func(m map[string]any) { m["type"] = "n\xc3" }, "type"},
		{"invalid utf-8 tag", func(m map[string]any) { m["tags"] = []any{"ok", "b\xff"} }, "tags"},
		{"invalid utf-8 in meta", func(m map[string]any) { m["meta"] = map[string]any{"k": []any{"\xfe"}} }, "meta"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMap()
			tt.mutate(m)
			_, err := Entry(m)
			require.Error(t, err)

			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve), "want *ValidationError, got %T", err)
			assert.Equal(t, tt.field, ve.Field)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestEntryRejectsInvalidUTF8(t *testing.T) {
	in := domain.MemoryEntry{
		Version:   "1.0",
		ID:        validID,
		Timestamp: 1,
		Source:    "com.example.app",
		Content:   "ab\xffcd",
	}
	for _, candidate := range []any{in, &in} {
		_, err := Entry(candidate)
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, FieldContent, ve.Field)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}

	in.Content = "ok"
	in.Tags = []string{"\xff"}
	_, err := Entry(in)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, FieldTags, ve.Field)

	raw := []byte(`{"version":"1.0","id":"` + validID + `","timestamp":5,"source":"a.b","content":"ab` + "\xff" + `cd"}`)
	_, err = JSON(raw)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEntryRejectsNonObjects(t *testing.T) {
	for _, candidate := range []any{nil, "text", 42, []any{1, 2}, true} {
		_, err := Entry(candidate)
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("Entry(%#v): want ValidationError, got %v", candidate, err)
			continue
		}
		if ve.Field != "" {
			t.Errorf("Entry(%#v): Field = %q, want empty", candidate, ve.Field)
		}
	}
}

func TestJSONRejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"truncated": `{"version":"1.0"`,
		"trailing":  `{"version":"1.0"} {}`,
		"empty":     ``,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := JSON([]byte(raw))
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestUnknownFieldReportedDeterministically(t *testing.T) {
	m := validMap()
	m["zeta"] = 1
	m["alpha"] = 2
	for range 10 {
		_, err := Entry(m)
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "alpha", ve.Field)
	}
}

func TestSource(t *testing.T) {
	assert.NoError(t, Source("com.example.app"))
	assert.NoError(t, Source("a.b"))
	assert.NoError(t, Source("io.123.x9"))
	assert.Error(t, Source("example"))
	assert.Error(t, Source("com..app"))
	assert.Error(t, Source("com.example-app"))
	assert.Error(t, Source(""))
}

func TestTag(t *testing.T) {
	assert.NoError(t, Tag("project:alpha"))
	assert.NoError(t, Tag("a_b-c"))
	assert.Error(t, Tag(""))
	assert.Error(t, Tag("A"))
	assert.Error(t, Tag("tag!"))
}

func TestCompatible(t *testing.T) {
	assert.True(t, Compatible("1.0"))
	assert.True(t, Compatible("1.9"))
	assert.False(t, Compatible("2.0"))
	assert.False(t, Compatible("garbage"))
}

func TestSchemaIsValidJSON(t *testing.T) {
	var doc map[string]any
	require.NoError(t, json.Unmarshal(Schema(), &doc))
	assert.Equal(t, false, doc["additionalProperties"])

	require.NoError(t, SchemaError())
}
