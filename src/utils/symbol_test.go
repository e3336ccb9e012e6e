package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in   string
		code string
		ok   bool
	}{
		{"005930", "005930", true},
		{" 005930.KS ", "005930", true},
		{"035720.kq", "035720", true},
		{"00593", "", false},
		{"AAPL", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		code, ok := NormalizeSymbol(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.code, code, tt.in)
	}
}

func TestYahooSymbol(t *testing.T) {
	assert.Equal(t, "005930.KS", YahooSymbol("005930"))
	assert.Equal(t, "035720.KS", YahooSymbol("035720.KQ"))
}
