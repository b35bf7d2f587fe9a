package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSchemaUsesYAMLKeys(t *testing.T) {
	data, err := buildSchema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "DittoFTP Configuration", doc["title"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok, "schema has no properties")
	assert.Contains(t, props, "logging")
	assert.Contains(t, props, "server")
}

func TestRunWritesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, run(out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}
