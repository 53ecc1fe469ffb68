package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePlainObject(t *testing.T) {
	var out map[string]string
	err := Decode(`{"a":"b"}`, &out)
	require.NoError(t, err)
	assert.Equal(t, "b", out["a"])
}

func TestDecodeFencedJSON(t *testing.T) {
	text := "```json\n{\"mappings\": [{\"raw_name\": \"Tomato\"}]}\n```"
	var out struct {
		Mappings []struct {
			RawName string `json:"raw_name"`
		} `json:"mappings"`
	}
	err := Decode(text, &out)
	require.NoError(t, err)
	require.Len(t, out.Mappings, 1)
	assert.Equal(t, "Tomato", out.Mappings[0].RawName)
}

func TestDecodeWithSurroundingProse(t *testing.T) {
	text := "Here is the result you asked for:\n{\"items\": [1, 2]}\nLet me know if you need more."
	var out struct {
		Items []int `json:"items"`
	}
	err := Decode(text, &out)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, out.Items)
}

func TestExtractBalancedNested(t *testing.T) {
	text := `prefix {"outer": {"inner": "{not json}"}} suffix {"second": 1}`
	raw, err := Extract(text)
	require.NoError(t, err)
	assert.Equal(t, `{"outer": {"inner": "{not json}"}}`, raw)
}

func TestExtractArray(t *testing.T) {
	raw, err := Extract(`noise [1, [2, 3]] tail`)
	require.NoError(t, err)
	assert.Equal(t, `[1, [2, 3]]`, raw)
}

func TestExtractBracesInsideStrings(t *testing.T) {
	raw, err := Extract(`{"note": "contains } brace and \" quote"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"note": "contains } brace and \" quote"}`, raw)
}

func TestDecodeNoJSON(t *testing.T) {
	var out map[string]any
	err := Decode("the model refused to answer", &out)
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestDecodeUnbalanced(t *testing.T) {
	var out map[string]any
	err := Decode(`{"truncated": [1, 2`, &out)
	assert.ErrorIs(t, err, ErrNoJSON)
}
