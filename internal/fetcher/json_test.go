package fetcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fxPayload struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

func TestDecodeJSONObject(t *testing.T) {
	input := `{"base":"USD","rates":{"ZAR":18.42,"EUR":0.92}}`

	got, err := DecodeJSONObject[fxPayload](strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "USD", got.Base)
	assert.InDelta(t, 18.42, got.Rates["ZAR"], 0.001)
	assert.InDelta(t, 0.92, got.Rates["EUR"], 0.001)
}

func TestDecodeJSONObject_Invalid(t *testing.T) {
	_, err := DecodeJSONObject[fxPayload](strings.NewReader(`{"base":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json: decode object")
}

func TestDecodeJSONObject_Empty(t *testing.T) {
	_, err := DecodeJSONObject[fxPayload](strings.NewReader(""))
	require.Error(t, err)
}
