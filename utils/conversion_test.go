package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnit(t *testing.T) {
	for input, expected := range map[string]Unit{"page": UnitPage, "KB": UnitKB, "mb": UnitMB, "Gb": UnitGB} {
		u, err := ParseUnit(input)
		require.NoError(t, err)
		assert.Equal(t, expected, u)
	}
	_, err := ParseUnit("tb")
	assert.Error(t, err)
}

func TestFormatPageValue(t *testing.T) {
	assert.Equal(t, "3Pgs", FormatPageValue(3, UnitPage, 4096))
	assert.Equal(t, "12KB", FormatPageValue(3, UnitKB, 4096))
	assert.Equal(t, "1.00MB", FormatPageValue(256, UnitMB, 4096))
	assert.Equal(t, "0.50GB", FormatPageValue(131072, UnitGB, 4096))
}

func TestFormatKBValue(t *testing.T) {
	assert.Equal(t, "2Pgs", FormatKBValue(8, UnitPage, 4096))
	assert.Equal(t, "8KB", FormatKBValue(8, UnitKB, 4096))
	assert.Equal(t, "2.00MB", FormatKBValue(2048, UnitMB, 4096))
}
