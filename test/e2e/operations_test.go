package e2e

import (
	"bytes"
	"errors"
	"net/textproto"
	"path"
	"strings"
	"testing"

	"github.com/jlaffaye/ftp"
)

// TestStoreAndRetrieve tests a round trip through STOR and RETR
func TestStoreAndRetrieve(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		c := tc.Admin()

		content := []byte("Hello, DittoFTP!\n")
		upload(t, c, "hello.txt", content)
		assertContent(t, c, "hello.txt", content)

		size, err := c.FileSize("hello.txt")
		if err != nil {
			t.Fatalf("SIZE failed: %v", err)
		}
		if size != int64(len(content)) {
			t.Errorf("Expected size %d, got %d", len(content), size)
		}

		snap := tc.Components.ServerContext.Stats.Snapshot()
		if snap.Uploads != 1 || snap.UploadedBytes != int64(len(content)) {
			t.Errorf("Unexpected upload stats: %d files, %d bytes", snap.Uploads, snap.UploadedBytes)
		}
		if snap.Downloads != 1 || snap.DownloadedBytes != int64(len(content)) {
			t.Errorf("Unexpected download stats: %d files, %d bytes", snap.Downloads, snap.DownloadedBytes)
		}
	})
}

// TestOverwriteFile tests that STOR replaces existing content
func TestOverwriteFile(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		c := tc.Admin()

		upload(t, c, "file.txt", []byte("a much longer original body"))
		upload(t, c, "file.txt", []byte("short"))

		assertContent(t, c, "file.txt", []byte("short"))
	})
}

// TestAppendFile tests APPE on new and existing files
func TestAppendFile(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		c := tc.Admin()

		if err := c.Append("log.txt", strings.NewReader("first\n")); err != nil {
			t.Fatalf("APPE to new file failed: %v", err)
		}
		if err := c.Append("log.txt", strings.NewReader("second\n")); err != nil {
			t.Fatalf("APPE to existing file failed: %v", err)
		}

		assertContent(t, c, "log.txt", []byte("first\nsecond\n"))
	})
}

// TestResumeDownload tests REST followed by RETR
func TestResumeDownload(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		c := tc.Admin()

		content := []byte("0123456789abcdef")
		upload(t, c, "resume.bin", content)

		resp, err := c.RetrFrom("resume.bin", 10)
		if err != nil {
			t.Fatalf("RETR from offset failed: %v", err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(resp); err != nil {
			t.Fatalf("Failed to read resumed data: %v", err)
		}
		if err := resp.Close(); err != nil {
			t.Fatalf("Resumed transfer did not complete: %v", err)
		}

		if buf.String() != "abcdef" {
			t.Errorf("Expected 'abcdef', got %q", buf.String())
		}
	})
}

// TestDirectoryLifecycle tests MKD, CWD, PWD, CDUP and RMD
func TestDirectoryLifecycle(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		c := tc.Admin()

		if err := c.MakeDir("projects"); err != nil {
			t.Fatalf("MKD failed: %v", err)
		}
		if err := c.ChangeDir("projects"); err != nil {
			t.Fatalf("CWD failed: %v", err)
		}

		dir, err := c.CurrentDir()
		if err != nil {
			t.Fatalf("PWD failed: %v", err)
		}
		if dir != "/projects" {
			t.Errorf("Expected /projects, got %q", dir)
		}

		if err := c.ChangeDirToParent(); err != nil {
			t.Fatalf("CDUP failed: %v", err)
		}
		if err := c.RemoveDir("projects"); err != nil {
			t.Fatalf("RMD failed: %v", err)
		}

		if _, ok := entryNames(t, c, "/")["projects"]; ok {
			t.Error("Directory still listed after RMD")
		}

		snap := tc.Components.ServerContext.Stats.Snapshot()
		if snap.DirsCreated != 1 || snap.DirsRemoved != 1 {
			t.Errorf("Unexpected directory stats: created=%d removed=%d", snap.DirsCreated, snap.DirsRemoved)
		}
	})
}

// TestNestedDirectories tests working inside a deep tree
func TestNestedDirectories(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		c := tc.Admin()

		current := ""
		for _, part := range []string{"a", "b", "c"} {
			current = path.Join(current, part)
			if err := c.MakeDir(current); err != nil {
				t.Fatalf("MKD %s failed: %v", current, err)
			}
		}

		upload(t, c, "a/b/c/deep.txt", []byte("deep"))
		assertContent(t, c, "/a/b/c/deep.txt", []byte("deep"))

		if err := c.RemoveDirRecur("a"); err != nil {
			t.Fatalf("Recursive removal failed: %v", err)
		}
		if len(entryNames(t, c, "/")) != 0 {
			t.Error("Expected empty root after recursive removal")
		}
	})
}

// TestRenameFile tests RNFR/RNTO within and across directories
func TestRenameFile(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		c := tc.Admin()

		upload(t, c, "draft.txt", []byte("content"))
		if err := c.MakeDir("archive"); err != nil {
			t.Fatalf("MKD failed: %v", err)
		}

		if err := c.Rename("draft.txt", "final.txt"); err != nil {
			t.Fatalf("Rename failed: %v", err)
		}
		if err := c.Rename("final.txt", "archive/final.txt"); err != nil {
			t.Fatalf("Move failed: %v", err)
		}

		root := entryNames(t, c, "/")
		if _, ok := root["draft.txt"]; ok {
			t.Error("Old name still listed")
		}
		if _, ok := root["final.txt"]; ok {
			t.Error("Moved file still listed in source directory")
		}
		assertContent(t, c, "archive/final.txt", []byte("content"))
	})
}

// TestDeleteFile tests DELE and the error on a missing file
func TestDeleteFile(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		c := tc.Admin()

		upload(t, c, "gone.txt", []byte("bye"))
		if err := c.Delete("gone.txt"); err != nil {
			t.Fatalf("DELE failed: %v", err)
		}

		if _, err := c.FileSize("gone.txt"); err == nil {
			t.Error("Expected SIZE to fail after DELE")
		}
		expectCode(t, c.Delete("gone.txt"), ftp.StatusFileUnavailable)
	})
}

// TestListing tests LIST/MLSD and NLST output
func TestListing(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		c := tc.Admin()

		upload(t, c, "one.txt", []byte("1"))
		upload(t, c, "two.txt", []byte("22"))
		if err := c.MakeDir("sub"); err != nil {
			t.Fatalf("MKD failed: %v", err)
		}

		entries := entryNames(t, c, "/")
		if len(entries) != 3 {
			t.Fatalf("Expected 3 entries, got %d", len(entries))
		}
		if e := entries["two.txt"]; e == nil || e.Type != ftp.EntryTypeFile || e.Size != 2 {
			t.Errorf("Unexpected entry for two.txt: %+v", e)
		}
		if e := entries["sub"]; e == nil || e.Type != ftp.EntryTypeFolder {
			t.Errorf("Unexpected entry for sub: %+v", e)
		}

		names, err := c.NameList("/")
		if err != nil {
			t.Fatalf("NLST failed: %v", err)
		}
		if len(names) != 3 {
			t.Errorf("Expected 3 names, got %v", names)
		}
	})
}

// TestReadOnlyUser tests that users without write permission cannot modify
// the file system
func TestReadOnlyUser(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		admin := tc.Admin()
		upload(t, admin, "shared.txt", []byte("shared"))

		reader := tc.Login(ReaderUser, ReaderPass)
		assertContent(t, reader, "shared.txt", []byte("shared"))

		if err := reader.Stor("new.txt", strings.NewReader("nope")); err == nil {
			t.Error("Expected STOR to fail for read-only user")
		}
		if err := reader.Delete("shared.txt"); err == nil {
			t.Error("Expected DELE to fail for read-only user")
		}
		if err := reader.MakeDir("dir"); err == nil {
			t.Error("Expected MKD to fail for read-only user")
		}
		if err := reader.Rename("shared.txt", "mine.txt"); err == nil {
			t.Error("Expected rename to fail for read-only user")
		}
	})
}

// TestAuthentication tests login outcomes against each user store
func TestAuthentication(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		t.Run("wrong password", func(t *testing.T) {
			c := tc.Dial(0)
			expectCode(t, c.Login(AdminUser, "wrong"), ftp.StatusNotLoggedIn)
		})

		t.Run("unknown user", func(t *testing.T) {
			c := tc.Dial(0)
			expectCode(t, c.Login("nobody", "secret"), ftp.StatusNotLoggedIn)
		})

		t.Run("anonymous", func(t *testing.T) {
			c := tc.Login("anonymous", "guest@example.com")
			if _, err := c.List("/"); err != nil {
				t.Errorf("Anonymous user could not list: %v", err)
			}
		})

		if failed := tc.Components.ServerContext.Stats.Snapshot().TotalFailedLogins; failed != 2 {
			t.Errorf("Expected 2 failed logins, got %d", failed)
		}
	})
}

// expectCode asserts that err is an FTP reply with the given code
func expectCode(t *testing.T, err error, code int) {
	t.Helper()

	var protoErr *textproto.Error
	if !errors.As(err, &protoErr) {
		t.Fatalf("Expected FTP error %d, got: %v", code, err)
	}
	if protoErr.Code != code {
		t.Errorf("Expected code %d, got %d (%s)", code, protoErr.Code, protoErr.Msg)
	}
}
