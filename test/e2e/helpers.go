package e2e

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/jlaffaye/ftp"
)

// runOnAllConfigs is a helper that runs a test on all configurations
func runOnAllConfigs(t *testing.T, testFunc func(t *testing.T, tc *TestContext)) {
	t.Helper()

	for _, config := range AllConfigurations() {
		t.Run(config.Name, func(t *testing.T) {
			tc := NewTestContext(t, config)
			defer tc.Cleanup()

			testFunc(t, tc)
		})
	}
}

// randomData returns size random bytes
func randomData(t testing.TB, size int64) []byte {
	t.Helper()

	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("Failed to generate random data: %v", err)
	}
	return data
}

// upload stores data at path
func upload(t testing.TB, c *ftp.ServerConn, path string, data []byte) {
	t.Helper()

	if err := c.Stor(path, bytes.NewReader(data)); err != nil {
		t.Fatalf("STOR %s failed: %v", path, err)
	}
}

// download retrieves path in full
func download(t testing.TB, c *ftp.ServerConn, path string) []byte {
	t.Helper()

	resp, err := c.Retr(path)
	if err != nil {
		t.Fatalf("RETR %s failed: %v", path, err)
	}
	defer func() { _ = resp.Close() }()

	data, err := io.ReadAll(resp)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return data
}

// assertContent downloads path and compares it with want
func assertContent(t testing.TB, c *ftp.ServerConn, path string, want []byte) {
	t.Helper()

	got := download(t, c, path)
	if !bytes.Equal(got, want) {
		t.Errorf("Content mismatch for %s: got %d bytes, want %d bytes", path, len(got), len(want))
	}
}

// entryNames lists dir and returns the names it contains
func entryNames(t testing.TB, c *ftp.ServerConn, dir string) map[string]*ftp.Entry {
	t.Helper()

	entries, err := c.List(dir)
	if err != nil {
		t.Fatalf("LIST %s failed: %v", dir, err)
	}
	names := make(map[string]*ftp.Entry, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		names[e.Name] = e
	}
	return names
}
