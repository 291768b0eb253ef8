package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonvalue"
)

func mustParse(t *testing.T, doc string) jsonvalue.Value {
	t.Helper()
	v, err := jsonvalue.Parse([]byte(doc))
	require.NoError(t, err)
	return v
}

// TestResponseTransformIdempotence covers spec scenario S6.
func TestResponseTransformIdempotence(t *testing.T) {
	input := mustParse(t, `{"status":"1","created_at":"2023-12-25T10:30:45.000Z","debug":"x"}`)
	steps := []config.TransformStep{
		{Path: "status", Transform: "map", Map: map[string]any{"1": "Active"}},
		{Path: "created_at", Transform: "date_format", Format: "YYYY-MM-DD"},
		{Path: "debug", Transform: "remove"},
	}

	out := Apply(input, steps)
	obj, ok := out.Object()
	require.True(t, ok)

	status, _ := obj["status"].String()
	assert.Equal(t, "Active", status)
	created, _ := obj["created_at"].String()
	assert.Equal(t, "2023-12-25", created)
	_, hasDebug := obj["debug"]
	assert.False(t, hasDebug)

	// Re-applying is a fixed point.
	out2 := Apply(out, steps)
	assert.Equal(t, out.ToAny(), out2.ToAny())
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	input := mustParse(t, `{"status":"1","nested":{"debug":"keep-me"}}`)
	before := input.Clone()

	_ = Apply(input, []config.TransformStep{
		{Path: "status", Transform: "map", Map: map[string]any{"1": "Active"}},
		{Path: "nested.debug", Transform: "remove"},
	})

	assert.Equal(t, before.ToAny(), input.ToAny())
}

func TestMapKeepsOriginalWhenMissing(t *testing.T) {
	input := mustParse(t, `{"status":"unknown"}`)
	out := Apply(input, []config.TransformStep{
		{Path: "status", Transform: "map", Map: map[string]any{"1": "Active"}},
	})
	status, _ := out.Get("status")
	s, _ := status.String()
	assert.Equal(t, "unknown", s)
}

func TestTemplateTransform(t *testing.T) {
	input := mustParse(t, `{"name":"weather-api"}`)
	out := Apply(input, []config.TransformStep{
		{Path: "name", Transform: "template", Template: "Server: {value}"},
	})
	name, _ := out.Get("name")
	s, _ := name.String()
	assert.Equal(t, "Server: weather-api", s)
}

func TestRegexReplaceTransform(t *testing.T) {
	input := mustParse(t, `{"phone":"+1-555-123-4567"}`)
	out := Apply(input, []config.TransformStep{
		{Path: "phone", Transform: "regex_replace", Pattern: `[^0-9]`, Replacement: ""},
	})
	phone, _ := out.Get("phone")
	s, _ := phone.String()
	assert.Equal(t, "15551234567", s)
}

func TestRegexReplaceInvalidPatternKeepsOriginal(t *testing.T) {
	input := mustParse(t, `{"phone":"555-1234"}`)
	out := Apply(input, []config.TransformStep{
		{Path: "phone", Transform: "regex_replace", Pattern: `[`, Replacement: ""},
	})
	phone, _ := out.Get("phone")
	s, _ := phone.String()
	assert.Equal(t, "555-1234", s)
}

func TestMissingIntermediateSegmentIsNoOp(t *testing.T) {
	input := mustParse(t, `{"a":{"b":1}}`)
	out := Apply(input, []config.TransformStep{
		{Path: "a.missing.c", Transform: "remove"},
	})
	assert.Equal(t, input.ToAny(), out.ToAny())
}

func TestArrayIterationTransform(t *testing.T) {
	input := mustParse(t, `{"items":[{"status":"1"},{"status":"0"}]}`)
	out := Apply(input, []config.TransformStep{
		{Path: "items[].status", Transform: "map", Map: map[string]any{"1": "Active", "0": "Inactive"}},
	})

	items, _ := out.Get("items")
	arr, _ := items.Array()
	require.Len(t, arr, 2)
	s0, _ := arr[0].Get("status")
	v0, _ := s0.String()
	assert.Equal(t, "Active", v0)
	s1, _ := arr[1].Get("status")
	v1, _ := s1.String()
	assert.Equal(t, "Inactive", v1)
}

func TestRootArrayIteration(t *testing.T) {
	input := mustParse(t, `[{"status":"1"},{"status":"0"}]`)
	out := Apply(input, []config.TransformStep{
		{Path: "_root[].status", Transform: "map", Map: map[string]any{"1": "Active", "0": "Inactive"}},
	})
	arr, ok := out.Array()
	require.True(t, ok)
	s0, _ := arr[0].Get("status")
	v0, _ := s0.String()
	assert.Equal(t, "Active", v0)
}

func TestRemoveArrayEntriesAtPath(t *testing.T) {
	input := mustParse(t, `{"items":[1,2,3]}`)
	out := Apply(input, []config.TransformStep{
		{Path: "items[]", Transform: "remove"},
	})
	items, _ := out.Get("items")
	arr, _ := items.Array()
	assert.Empty(t, arr)
}
