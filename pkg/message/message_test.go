package message

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinMessages(t *testing.T) {
	r, err := New(Config{})
	require.NoError(t, err)

	msg, ok := r.Message(331, "USER", "")
	require.True(t, ok)
	assert.Equal(t, "User name okay, need password for {client.login.name}.", msg)

	msg, ok = r.Message(220, "", "")
	require.True(t, ok)
	assert.Equal(t, "DittoFTP server ready.", msg)

	_, ok = r.Message(999, "", "")
	assert.False(t, ok)

	assert.Equal(t, []string{"en"}, r.Languages())
	assert.Equal(t, "en", r.Default())
}

func TestDirectoryOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "messages.yaml"), []byte(`"220": "Welcome to {server.ip}"`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "messages_IT.yaml"), []byte(`"221": "Arrivederci."`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "messages_de.yml"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0644))

	r, err := New(Config{Directory: dir})
	require.NoError(t, err)

	msg, _ := r.Message(220, "", "en")
	assert.Equal(t, "Welcome to {server.ip}", msg)

	msg, _ = r.Message(221, "", "it")
	assert.Equal(t, "Arrivederci.", msg)

	// Missing Italian templates fall back to English.
	msg, _ = r.Message(530, "PASS", "it")
	assert.Equal(t, "Authentication failed.", msg)

	assert.Equal(t, []string{"en", "it"}, r.Languages())
}

func TestDefaultLanguageFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "messages_it.yaml"), []byte(`"221": "Ciao."`), 0644))

	r, err := New(Config{Directory: dir, DefaultLanguage: "it"})
	require.NoError(t, err)

	msg, _ := r.Message(221, "", "")
	assert.Equal(t, "Ciao.", msg)
	msg, _ = r.Message(530, "PASS", "")
	assert.Equal(t, "Authentication failed.", msg)
}

func TestInvalidOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "messages.yaml"), []byte("[not, a, map"), 0644))

	_, err := New(Config{Directory: dir})
	assert.Error(t, err)

	_, err = New(Config{Directory: filepath.Join(dir, "missing")})
	assert.Error(t, err)
}
