package ftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslateFallsBackToBasic(t *testing.T) {
	sess, _ := newTestSession(t, nil)
	assert.Equal(t, "Command okay.", Translate(sess, nil, 200, "", "Command okay."))

	sess, _ = newTestSession(t, mapResource{})
	assert.Equal(t, "Command okay.", Translate(sess, nil, 200, "NOOP", "Command okay."))
}

func TestTranslateLookupOrder(t *testing.T) {
	res := mapResource{
		"550":         "generic failure",
		"550.DELE":    "cannot delete {request.arg}",
		"de:550.DELE": "kann {request.arg} nicht löschen",
		"200":         "{output.code} {output.msg}",
	}
	sess, _ := newTestSession(t, res)
	req := ParseRequest("DELE report.txt")

	assert.Equal(t, "cannot delete report.txt", Translate(sess, req, 550, "DELE", "basic"))
	assert.Equal(t, "generic failure", Translate(sess, req, 550, "RMD", "basic"))
	assert.Equal(t, "200 fine", Translate(sess, req, 200, "", "fine"))

	sess.Language = "de"
	assert.Equal(t, "kann report.txt nicht löschen", Translate(sess, req, 550, "DELE", "basic"))
}

func TestTranslateVariables(t *testing.T) {
	res := mapResource{
		"220": "Welcome {client.ip} to {server.ip}:{server.port} [{request.cmd}] {unknown.var} {",
		"230": "User {client.login.name} logged in, {stat.login.curr} online",
	}
	sess, _ := newTestSession(t, res)

	got := Translate(sess, ParseRequest("NOOP"), 220, "", "")
	assert.Equal(t, "Welcome 192.0.2.10 to 127.0.0.1:2121 [NOOP] {unknown.var} {", got)

	sess.SetPendingUser("alice")
	assert.Equal(t, "User alice logged in, 0 online", Translate(sess, nil, 230, "", ""))
}

func TestExpand(t *testing.T) {
	lookup := func(name string) (string, bool) {
		if name == "x" {
			return "X", true
		}
		return "", false
	}

	assert.Equal(t, "plain", expand("plain", lookup))
	assert.Equal(t, "aXb", expand("a{x}b", lookup))
	assert.Equal(t, "XX", expand("{x}{x}", lookup))
	assert.Equal(t, "{y}X", expand("{y}{x}", lookup))
	assert.Equal(t, "open {x", expand("open {x", lookup))
}
