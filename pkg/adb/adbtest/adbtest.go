// Package adbtest provides a fake ADB daemon endpoint for exercising
// pkg/adb's command implementations without a real adb server, following
// the same hand-rolled test-double style as the teacher's api0testutil
// package.
package adbtest

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/pg9182/adbkit/pkg/adb"
)

// FakeDaemon is one end of an in-memory pipe standing in for the adb
// daemon's TCP socket. The function passed to New drives the server side
// from a goroutine; Conn wraps the client side in an *adb.Connection via
// adb.NewTestConnection.
type FakeDaemon struct {
	t      *testing.T
	client net.Conn
	server net.Conn
	r      *bufio.Reader
}

// New creates a FakeDaemon and starts fn in a goroutine acting as the
// server side of the pipe. The test fails if fn has not returned by the
// time the test completes.
func New(t *testing.T, fn func(r *bufio.Reader, w net.Conn)) *FakeDaemon {
	t.Helper()
	client, server := net.Pipe()
	d := &FakeDaemon{t: t, client: client, server: server, r: bufio.NewReader(server)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(d.r, server)
	}()
	t.Cleanup(func() {
		client.Close()
		server.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("adbtest: fake daemon goroutine did not exit")
		}
	})
	return d
}

// Conn returns an *adb.Connection wrapping the client side of the pipe, as
// if adb.Dial had succeeded.
func (d *FakeDaemon) Conn() *adb.Connection {
	return adb.NewTestConnection(d.client)
}

// ReadRequest reads one length-prefixed request line, e.g.
// "host:version", off the server side.
func ReadRequest(r *bufio.Reader) (string, error) {
	lenStr := make([]byte, 4)
	if _, err := readFull(r, lenStr); err != nil {
		return "", err
	}
	n, err := decodeLength(string(lenStr))
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	got := 0
	for got < len(buf) {
		n, err := r.Read(buf[got:])
		got += n
		if err != nil {
			return got, err
		}
	}
	return got, nil
}

func decodeLength(s string) (int, error) {
	n := 0
	for _, c := range s {
		n <<= 4
		switch {
		case c >= '0' && c <= '9':
			n |= int(c - '0')
		case c >= 'a' && c <= 'f':
			n |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			n |= int(c-'A') + 10
		default:
			return 0, fmt.Errorf("adbtest: invalid length digit %q", c)
		}
	}
	return n, nil
}

// WriteOKAYValue writes "OKAY" followed by a length-prefixed value.
func WriteOKAYValue(w net.Conn, value string) error {
	if _, err := w.Write([]byte("OKAY")); err != nil {
		return err
	}
	return WriteValue(w, value)
}

// WriteValue writes a length-prefixed value with no preceding tag, for
// continuing a reply started by WriteTag.
func WriteValue(w net.Conn, value string) error {
	_, err := w.Write(encodeData([]byte(value)))
	return err
}

// WriteTag writes a bare 4-byte status tag such as "OKAY" or "FAIL".
func WriteTag(w net.Conn, tag string) error {
	_, err := w.Write([]byte(tag))
	return err
}

// WriteFAIL writes a "FAIL" reply with a length-prefixed message.
func WriteFAIL(w net.Conn, message string) error {
	if err := WriteTag(w, "FAIL"); err != nil {
		return err
	}
	return WriteValue(w, message)
}

func encodeData(payload []byte) []byte {
	out := make([]byte, 0, 4+len(payload))
	out = append(out, []byte(encodeLength(len(payload)))...)
	return append(out, payload...)
}

func encodeLength(n int) string {
	const hex = "0123456789ABCDEF"
	b := make([]byte, 4)
	for i := 3; i >= 0; i-- {
		b[i] = hex[n&0xF]
		n >>= 4
	}
	return string(b)
}
