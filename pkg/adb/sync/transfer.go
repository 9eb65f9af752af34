package sync

import (
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/pg9182/adbkit/pkg/adb"
)

// ErrCanceled is the terminal error recorded on a transfer stopped by
// Cancel.
var ErrCanceled = errors.New("adb: sync: transfer canceled")

// PushTransfer reports progress of an in-flight Push through a single
// buffered channel returned by Progress, rather than through polling.
type PushTransfer struct {
	conn       *adb.Connection
	progress   chan int64
	done       chan struct{}
	cancel     chan struct{}
	cancelOnce sync.Once
	err        error
	total      int64
}

func newPushTransfer(conn *adb.Connection) *PushTransfer {
	return &PushTransfer{
		conn:     conn,
		progress: make(chan int64, 64),
		done:     make(chan struct{}),
		cancel:   make(chan struct{}),
	}
}

// Progress yields the cumulative byte count sent so far, at most once per
// chunk written. Sends never block the transfer: an update is dropped when
// the channel's 64-slot buffer is full. The channel closes when the
// transfer finishes.
func (t *PushTransfer) Progress() <-chan int64 { return t.progress }

// Done closes once the transfer has finished, successfully or not.
func (t *PushTransfer) Done() <-chan struct{} { return t.done }

// Err returns the transfer's terminal error, valid only after Done closes.
func (t *PushTransfer) Err() error { return t.err }

// Total returns the number of bytes successfully written.
func (t *PushTransfer) Total() int64 { return t.total }

// Cancel stops the transfer at its next chunk boundary, closing the
// underlying connection to interrupt a blocked read or write. Err will
// report ErrCanceled once Done closes. Safe to call more than once.
func (t *PushTransfer) Cancel() {
	t.cancelOnce.Do(func() {
		close(t.cancel)
		t.conn.Close()
	})
}

// cancelOr reports ErrCanceled in place of err if the transfer was canceled
// concurrently, since a canceled connection close surfaces as a generic
// network error from whatever read or write was in flight.
func (t *PushTransfer) cancelOr(err error) error {
	select {
	case <-t.cancel:
		return ErrCanceled
	default:
		return err
	}
}

func (t *PushTransfer) run(s *Sync, r io.Reader, remotePath string, mode uint32, mtime time.Time) {
	defer close(t.progress)
	defer close(t.done)

	if err := s.sendArg(tagSEND, remotePathWithMode(remotePath, mode)); err != nil {
		t.err = err
		return
	}

	buf := make([]byte, MaxDataLength)
	for {
		select {
		case <-t.cancel:
			t.err = ErrCanceled
			return
		default:
		}

		n, rerr := r.Read(buf)
		if n > 0 {
			if err := s.sendLength(tagDATA, uint32(n)); err != nil {
				t.err = t.cancelOr(err)
				return
			}
			if err := s.c.WriteRaw(buf[:n]); err != nil {
				t.err = t.cancelOr(err)
				return
			}
			t.total += int64(n)
			select {
			case t.progress <- t.total:
			default:
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			t.err = t.cancelOr(rerr)
			return
		}
	}

	if err := s.sendLength(tagDONE, uint32(mtime.Unix())); err != nil {
		t.err = t.cancelOr(err)
		return
	}
	tag, err := s.c.Parser.ReadASCII(4)
	if err != nil {
		t.err = t.cancelOr(err)
		return
	}
	switch tag {
	case tagOKAY:
		_, err := s.c.Parser.ReadBytes(4)
		t.err = err
	case tagFAIL:
		t.err = s.readSyncError()
	default:
		t.err = &unexpectedTagError{got: tag, want: "OKAY or FAIL"}
	}
}

func remotePathWithMode(remotePath string, mode uint32) string {
	return remotePath + "," + strconv.Itoa(int(mode))
}

type unexpectedTagError struct{ got, want string }

func (e *unexpectedTagError) Error() string {
	return "adb: sync: unexpected " + e.got + ", wanted " + e.want
}

// PullTransfer streams a remote file's bytes to any writer registered with
// WriteTo before the pull completes.
type PullTransfer struct {
	conn       *adb.Connection
	chunks     chan []byte
	done       chan struct{}
	cancel     chan struct{}
	cancelOnce sync.Once
	err        error
	total      int64
}

func newPullTransfer(conn *adb.Connection) *PullTransfer {
	return &PullTransfer{
		conn:   conn,
		chunks: make(chan []byte, 64),
		done:   make(chan struct{}),
		cancel: make(chan struct{}),
	}
}

// Chunks yields each DATA frame's payload in order. The channel closes when
// the transfer finishes.
func (t *PullTransfer) Chunks() <-chan []byte { return t.chunks }

// Done closes once the transfer has finished, successfully or not.
func (t *PullTransfer) Done() <-chan struct{} { return t.done }

// Err returns the transfer's terminal error, valid only after Done closes.
func (t *PullTransfer) Err() error { return t.err }

// Total returns the number of bytes received.
func (t *PullTransfer) Total() int64 { return t.total }

// Cancel stops the transfer at its next chunk boundary, closing the
// underlying connection to interrupt a blocked read. Err will report
// ErrCanceled once Done closes. Safe to call more than once.
func (t *PullTransfer) Cancel() {
	t.cancelOnce.Do(func() {
		close(t.cancel)
		t.conn.Close()
	})
}

// cancelOr reports ErrCanceled in place of err if the transfer was canceled
// concurrently, since a canceled connection close surfaces as a generic
// network error from whatever read was in flight.
func (t *PullTransfer) cancelOr(err error) error {
	select {
	case <-t.cancel:
		return ErrCanceled
	default:
		return err
	}
}

// WriteTo drains Chunks into w until the transfer completes or is canceled,
// returning the byte count written and any transfer, write, or cancel
// error.
func (t *PullTransfer) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for {
		select {
		case chunk, ok := <-t.chunks:
			if !ok {
				<-t.done
				return n, t.err
			}
			wn, err := w.Write(chunk)
			n += int64(wn)
			if err != nil {
				t.Cancel()
				return n, err
			}
		case <-t.cancel:
			<-t.done
			return n, t.err
		}
	}
}

func (t *PullTransfer) run(s *Sync, remotePath string) {
	defer close(t.chunks)
	defer close(t.done)

	if err := s.sendArg(tagRECV, remotePath); err != nil {
		t.err = err
		return
	}
	for {
		select {
		case <-t.cancel:
			t.err = ErrCanceled
			return
		default:
		}

		tag, err := s.c.Parser.ReadASCII(4)
		if err != nil {
			t.err = t.cancelOr(err)
			return
		}
		switch tag {
		case tagDATA:
			lb, err := s.c.Parser.ReadBytes(4)
			if err != nil {
				t.err = t.cancelOr(err)
				return
			}
			n := int(readUint32(lb))
			data, err := s.c.Parser.ReadBytes(n)
			if err != nil {
				t.err = t.cancelOr(err)
				return
			}
			t.total += int64(n)
			select {
			case t.chunks <- data:
			case <-t.cancel:
				t.err = ErrCanceled
				return
			}
		case tagDONE:
			if _, err := s.c.Parser.ReadBytes(4); err != nil {
				t.err = err
			}
			return
		case tagFAIL:
			t.err = s.readSyncError()
			return
		default:
			t.err = &unexpectedTagError{got: tag, want: "DATA, DONE or FAIL"}
			return
		}
	}
}
