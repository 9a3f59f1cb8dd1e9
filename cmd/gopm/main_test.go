package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvValidPairs(t *testing.T) {
	out, err := parseEnv([]string{"FOO=bar", "BAZ=qux=quux"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "FOO", out[0].Key)
	assert.Equal(t, "bar", out[0].Value)
	assert.Equal(t, "BAZ", out[1].Key)
	assert.Equal(t, "qux=quux", out[1].Value)
}

func TestParseEnvMissingEquals(t *testing.T) {
	_, err := parseEnv([]string{"NOTKEYVALUE"})
	assert.Error(t, err)
}

func TestParseEnvEmpty(t *testing.T) {
	out, err := parseEnv(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
