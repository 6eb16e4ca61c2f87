package codec_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type address struct {
	City string `json:"city"`
	Zip  string `json:"zip,omitempty"`
}

type profile struct {
	Name     string            `json:"name"`
	Age      int               `json:"age"`
	Score    float64           `json:"score"`
	Active   bool              `json:"active"`
	Nickname *string           `json:"nickname"`
	Address  address           `json:"address"`
	Tags     []string          `json:"tags"`
	Labels   map[string]int    `json:"labels"`
	Friends  []*profile        `json:"friends"`
	SeenAt   time.Time         `json:"seen_at"`
	Raw      json.RawMessage   `json:"raw"`
	Meta     map[string]string `json:"meta,omitempty"`
}

func TestJSON_RoundTrip(t *testing.T) {
	nick := "bobby"
	values := []any{
		"hello <world>",
		int64(-42),
		3.25,
		true,
		[]int{1, 2, 3},
		map[string]bool{"a": true},
		profile{
			Name:     "bob",
			Age:      30,
			Score:    9.5,
			Nickname: &nick,
			Address:  address{City: "Recife"},
			Tags:     []string{"x"},
			Labels:   map[string]int{"k": 1},
			Friends:  []*profile{{Name: "alice", Raw: json.RawMessage("null")}},
			SeenAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			Raw:      json.RawMessage(`{"nested":[1,2]}`),
		},
		// A nil RawMessage encodes as null and decodes back as the literal.
		profile{Name: "nil nickname", Raw: json.RawMessage("null")},
	}

	for _, c := range []codec.Codec{codec.JSON, codec.JSONStrict} {
		for _, v := range values {
			b, err := c.Marshal(v)
			require.NoError(t, err)

			ptr := newLike(v)
			require.NoError(t, c.Unmarshal(b, ptr))
			assert.Equal(t, v, deref(ptr))
		}
	}
}

func newLike(v any) any {
	switch v.(type) {
	case string:
		return new(string)
	case int64:
		return new(int64)
	case float64:
		return new(float64)
	case bool:
		return new(bool)
	case []int:
		return new([]int)
	case map[string]bool:
		return new(map[string]bool)
	default:
		return new(profile)
	}
}

func deref(p any) any {
	switch v := p.(type) {
	case *string:
		return *v
	case *int64:
		return *v
	case *float64:
		return *v
	case *bool:
		return *v
	case *[]int:
		return *v
	case *map[string]bool:
		return *v
	case *profile:
		return *v
	}
	return nil
}

func TestJSON_DoesNotEscapeHTML(t *testing.T) {
	b, err := codec.JSON.Marshal("<a>")
	require.NoError(t, err)
	assert.Equal(t, `"<a>"`, string(b))
}

func TestJSONStrict_RejectsUnknownAndTrailing(t *testing.T) {
	var a address
	assert.NoError(t, codec.JSON.Unmarshal([]byte(`{"city":"x","planet":"earth"}`), &a))
	assert.Error(t, codec.JSONStrict.Unmarshal([]byte(`{"city":"x","planet":"earth"}`), &a))
	assert.Error(t, codec.JSON.Unmarshal([]byte(`{"city":"x"} {}`), &a))
}

type createParams struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

type embeddedParams struct {
	createParams
	Admin bool `json:"admin"`
}

func TestDecodeParams(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    createParams
		wantErr bool
	}{
		{"positional", `["bob", 30]`, createParams{Name: "bob", Age: 30}, false},
		{"positional partial", `["bob"]`, createParams{Name: "bob"}, false},
		{"named", `{"age": 30, "name": "bob"}`, createParams{Name: "bob", Age: 30}, false},
		{"absent", ``, createParams{}, false},
		{"null", `null`, createParams{}, false},
		{"too many", `["bob", 30, true]`, createParams{}, true},
		{"type mismatch", `[30, "bob"]`, createParams{}, true},
		{"scalar", `"bob"`, createParams{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got createParams
			err := codec.DecodeParams(codec.JSON, json.RawMessage(tt.raw), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeParams_EmbeddedFlattened(t *testing.T) {
	var got embeddedParams
	require.NoError(t, codec.DecodeParams(codec.JSON, json.RawMessage(`["bob", 3, true]`), &got))
	assert.Equal(t, "bob", got.Name)
	assert.Equal(t, 3, got.Age)
	assert.True(t, got.Admin)
}

func TestDecodeParams_PointerParams(t *testing.T) {
	for _, raw := range []string{`["bob", 30]`, `{"name": "bob", "age": 30}`} {
		var got *createParams
		require.NoError(t, codec.DecodeParams(codec.JSON, json.RawMessage(raw), &got), raw)
		require.NotNil(t, got, raw)
		assert.Equal(t, createParams{Name: "bob", Age: 30}, *got, raw)
	}

	var absent *createParams
	require.NoError(t, codec.DecodeParams(codec.JSON, nil, &absent))
	require.NotNil(t, absent, "absent params still allocate a pointer param")
	assert.Equal(t, createParams{}, *absent)
}

func TestIsPositional(t *testing.T) {
	assert.True(t, codec.IsPositional(json.RawMessage(` [1]`)))
	assert.False(t, codec.IsPositional(json.RawMessage(`{}`)))
	assert.False(t, codec.IsPositional(nil))
}
