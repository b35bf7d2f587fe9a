package ftp

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripTelnet(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"plain", []byte("NOOP"), "NOOP"},
		{"interrupt before ABOR", []byte{telnetIAC, 244, telnetIAC, 242, 'A', 'B', 'O', 'R'}, "ABOR"},
		{"escaped IAC", []byte{'a', telnetIAC, telnetIAC, 'b'}, "a\xffb"},
		{"option negotiation", []byte{telnetIAC, telnetWILL, 1, 'N', 'O', 'O', 'P'}, "NOOP"},
		{"subnegotiation", []byte{'X', telnetIAC, telnetSB, 24, 0, 'x', telnetIAC, telnetSE, 'Y'}, "XY"},
		{"dangling IAC", []byte{'A', telnetIAC}, "A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(stripTelnet(tt.in)))
		})
	}
}

func TestControlConnReadLine(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := newControlConn(server, nil, false, time.Second)
	defer c.Close()

	go func() {
		_, _ = client.Write([]byte("USER alice\r\nNOOP\n" + strings.Repeat("x", maxLineLength+10) + "\r\n"))
	}()

	line, err := c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "USER alice", line)

	line, err = c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "NOOP", line)

	_, err = c.ReadLine()
	assert.ErrorIs(t, err, errLineTooLong)
}

func TestControlConnWithoutTLS(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := newControlConn(server, nil, false, time.Second)
	defer c.Close()

	assert.False(t, c.TLSAvailable())
	assert.False(t, c.IsSecure())
	assert.Error(t, c.UpgradeTLS())
}
