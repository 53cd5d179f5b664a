package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{
			name: "bare object",
			in:   `{"a": 1}`,
			want: `{"a": 1}`,
			ok:   true,
		},
		{
			name: "object in prose",
			in:   `Here is my analysis: {"items": [1, 2]} as requested.`,
			want: `{"items": [1, 2]}`,
			ok:   true,
		},
		{
			name: "fenced with language tag",
			in:   "The plan:\n```json\n{\"steps\": []}\n```\ndone",
			want: `{"steps": []}`,
			ok:   true,
		},
		{
			name: "array payload",
			in:   `results: [{"x": 1}, {"x": 2}]`,
			want: `[{"x": 1}, {"x": 2}]`,
			ok:   true,
		},
		{
			name: "braces inside strings do not confuse depth",
			in:   `{"msg": "use {curly} braces", "n": 1}`,
			want: `{"msg": "use {curly} braces", "n": 1}`,
			ok:   true,
		},
		{
			name: "escaped quote inside string",
			in:   `{"msg": "she said \"hi\" {"}`,
			want: `{"msg": "she said \"hi\" {"}`,
			ok:   true,
		},
		{
			name: "no json at all",
			in:   "I could not produce a structured answer.",
			ok:   false,
		},
		{
			name: "unbalanced braces",
			in:   `{"a": 1`,
			ok:   false,
		},
		{
			name: "invalid json in balanced braces",
			in:   `{not json}`,
			ok:   false,
		},
		{
			name: "empty input",
			in:   "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.in)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.JSONEq(t, tt.want, string(got))
			}
		})
	}
}

func TestExtractJSONPrefersFencedBlock(t *testing.T) {
	in := "ignore {\"decoy\": true} up here\n```json\n{\"real\": 1}\n```"
	got, ok := ExtractJSON(in)
	require.True(t, ok)
	assert.JSONEq(t, `{"real": 1}`, string(got))
}
