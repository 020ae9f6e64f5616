package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"João da Silva", "joao da silva"},
		{"  JOSÉ   Müller  ", "jose muller"},
		{"O'Brien-Smith", "obriensmith"},
		{"Agent 007", "agent"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "joao@x.com", NormalizeEmail("  Joao@X.com "))
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "5511999998888", NormalizePhone("+55 (11) 99999-8888"))
	assert.Equal(t, "", NormalizePhone("n/a"))
}

func TestStripDiacritics(t *testing.T) {
	assert.Equal(t, "Conceicao", StripDiacritics("Conceição"))
}
