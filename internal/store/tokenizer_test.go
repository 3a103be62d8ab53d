package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeSimple(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Hello World", []string{"hello", "world"}},
		{"  (see 2.1.1), then", []string{"see", "2.1.1", "then"}},
		{"tx_valid!", []string{"tx_valid"}},
		{"--- ...", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenizeSimple(tt.in))
		})
	}
}

func TestTokenizeCode(t *testing.T) {
	got := TokenizeCode("assign rxElecIdle = tx_data_valid & PCIeLink;")

	assert.Contains(t, got, "rx")
	assert.Contains(t, got, "elec")
	assert.Contains(t, got, "idle")
	assert.Contains(t, got, "tx_data_valid")
	assert.Contains(t, got, "data")
	assert.Contains(t, got, "valid")
	for _, tok := range got {
		assert.GreaterOrEqual(t, len(tok), 2)
	}
}

func TestSplitCamelCase(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"getLinkState", []string{"get", "Link", "State"}},
		{"AXIStreamIf", []string{"AXI", "Stream", "If"}},
		{"parseTLPHeader", []string{"parse", "TLP", "Header"}},
		{"lower", []string{"lower"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitCamelCase(tt.in))
		})
	}
}

func TestNewTokenizer_AppliesStopWords(t *testing.T) {
	tok, err := NewTokenizer(TokenizerSimple, []string{"the"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"link", "layer"}, tok("The link layer"))
}
