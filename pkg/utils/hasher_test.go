package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlake3Hash(t *testing.T) {
	h1 := Blake3Hash([]byte("survey"))
	h2 := Blake3Hash([]byte("survey"))
	h3 := Blake3Hash([]byte("surveys"))

	require.Len(t, h1, 32)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestGetHashFromBytes(t *testing.T) {
	hexed := GetHashFromBytes([]byte("survey"))
	assert.Len(t, hexed, 64)
	assert.Equal(t, hexed, GetHashFromBytes([]byte("survey")))
}
