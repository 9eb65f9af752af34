package sync_test

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pg9182/adbkit/pkg/adb/adbtest"
	"github.com/pg9182/adbkit/pkg/adb/sync"
)

func readSyncRequest(t *testing.T, r *bufio.Reader) (tag string, arg []byte) {
	t.Helper()
	tagb := make([]byte, 4)
	if _, err := io.ReadFull(r, tagb); err != nil {
		t.Fatalf("read tag: %v", err)
	}
	lb := make([]byte, 4)
	if _, err := io.ReadFull(r, lb); err != nil {
		t.Fatalf("read length: %v", err)
	}
	n := binary.LittleEndian.Uint32(lb)
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("read arg: %v", err)
	}
	return string(tagb), buf
}

func le32(n uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return b
}

func TestStat(t *testing.T) {
	d := adbtest.New(t, func(r *bufio.Reader, w net.Conn) {
		tag, arg := readSyncRequest(t, r)
		if tag != "STAT" || string(arg) != "/sdcard/foo" {
			t.Errorf("got %s %q", tag, arg)
		}
		w.Write([]byte("STAT"))
		w.Write(le32(0o100644))
		w.Write(le32(1234))
		w.Write(le32(999))
	})
	s := sync.New(d.Conn())
	st, err := s.Stat("/sdcard/foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Size != 1234 || st.Mtime != 999 {
		t.Fatalf("got %+v", st)
	}
}

func TestStatNotExist(t *testing.T) {
	d := adbtest.New(t, func(r *bufio.Reader, w net.Conn) {
		readSyncRequest(t, r)
		w.Write([]byte("STAT"))
		w.Write(le32(0))
		w.Write(le32(0))
		w.Write(le32(0))
	})
	s := sync.New(d.Conn())
	_, err := s.Stat("/sdcard/missing")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestReadDir(t *testing.T) {
	d := adbtest.New(t, func(r *bufio.Reader, w net.Conn) {
		readSyncRequest(t, r)
		writeDent(w, ".", 0o40755, 0, 0)
		writeDent(w, "..", 0o40755, 0, 0)
		writeDent(w, "file.txt", 0o100644, 42, 100)
		w.Write([]byte("DONE"))
		w.Write(make([]byte, 16))
	})
	s := sync.New(d.Conn())
	entries, err := s.ReadDir("/sdcard")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "file.txt" || entries[0].Size != 42 {
		t.Fatalf("got %+v", entries)
	}
}

func writeDent(w net.Conn, name string, mode, size, mtime uint32) {
	w.Write([]byte("DENT"))
	w.Write(le32(mode))
	w.Write(le32(size))
	w.Write(le32(mtime))
	w.Write(le32(uint32(len(name))))
	w.Write([]byte(name))
}

func TestPush(t *testing.T) {
	d := adbtest.New(t, func(r *bufio.Reader, w net.Conn) {
		tag, arg := readSyncRequest(t, r)
		if tag != "SEND" || !strings.HasPrefix(string(arg), "/data/local/tmp/x,") {
			t.Errorf("got %s %q", tag, arg)
		}
		dtag, darg := readSyncRequest(t, r)
		if dtag != "DATA" || string(darg) != "hello" {
			t.Errorf("got %s %q", dtag, darg)
		}
		// DONE frame: tag + 4-byte mtime, no following arg bytes.
		tagb := make([]byte, 4)
		io.ReadFull(r, tagb)
		lb := make([]byte, 4)
		io.ReadFull(r, lb)
		if string(tagb) != "DONE" {
			t.Errorf("got tag %q", tagb)
		}
		w.Write([]byte("OKAY"))
		w.Write(make([]byte, 4))
	})
	s := sync.New(d.Conn())
	tr := s.Push(bytes.NewBufferString("hello"), "/data/local/tmp/x", 0, time.Unix(1000, 0))
	<-tr.Done()
	if tr.Err() != nil {
		t.Fatalf("unexpected error: %v", tr.Err())
	}
	if tr.Total() != 5 {
		t.Fatalf("got total %d", tr.Total())
	}
}

func TestPull(t *testing.T) {
	d := adbtest.New(t, func(r *bufio.Reader, w net.Conn) {
		tag, arg := readSyncRequest(t, r)
		if tag != "RECV" || string(arg) != "/sdcard/foo" {
			t.Errorf("got %s %q", tag, arg)
		}
		w.Write([]byte("DATA"))
		w.Write(le32(5))
		w.Write([]byte("hello"))
		w.Write([]byte("DONE"))
		w.Write(make([]byte, 4))
	})
	s := sync.New(d.Conn())
	tr := s.Pull("/sdcard/foo")
	var buf bytes.Buffer
	n, err := tr.WriteTo(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 || buf.String() != "hello" {
		t.Fatalf("got %d %q", n, buf.String())
	}
}
