// Package sync implements the ADB sync sub-protocol: stat, directory
// listing, and chunked push/pull file transfer over a Connection that has
// already sent "sync:" via pkg/adb/transport.Sync.
package sync

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pg9182/adbkit/pkg/adb"
)

// Sync-protocol tags. Unlike the host protocol's 4-hex-digit ASCII length
// prefix, every value here is framed with a 4-byte little-endian length.
const (
	tagSTAT = "STAT"
	tagLIST = "LIST"
	tagDENT = "DENT"
	tagDONE = "DONE"
	tagDATA = "DATA"
	tagRECV = "RECV"
	tagSEND = "SEND"
	tagFAIL = "FAIL"
	tagOKAY = "OKAY"
)

// MaxDataLength is the largest chunk a single DATA frame may carry.
const MaxDataLength = 64 * 1024

// TempPath is the directory push operations resolve relative basenames
// against when the caller doesn't supply an absolute device path.
const TempPath = "/data/local/tmp"

// DefaultMode is applied to pushed files when the caller passes mode 0.
const DefaultMode = 0o644

// S_IFREG marks a sync Stat entry as a regular file, matching the device's
// stat(2) st_mode encoding.
const S_IFREG = 0o100000

// Temp resolves name's basename under TempPath, the conventional staging
// location for a push immediately followed by "pm install".
func Temp(name string) string {
	return TempPath + "/" + path.Base(name)
}

// Stat is the result of a STAT request.
type Stat struct {
	Mode  uint32
	Size  uint32
	Mtime uint32
}

// Entry is one row of a LIST reply.
type Entry struct {
	Name  string
	Mode  uint32
	Size  uint32
	Mtime uint32
}

// Sync wraps a Connection already switched into sync mode.
type Sync struct {
	c *adb.Connection
}

// New wraps c, which must already have completed transport.Sync.
func New(c *adb.Connection) *Sync {
	return &Sync{c: c}
}

// Close ends the sync session by closing the underlying connection.
func (s *Sync) Close() error {
	return s.c.Close()
}

func (s *Sync) sendArg(tag, arg string) error {
	payload := make([]byte, 0, 8+len(arg))
	payload = append(payload, tag...)
	payload = appendUint32(payload, uint32(len(arg)))
	payload = append(payload, arg...)
	return s.c.WriteRaw(payload)
}

func (s *Sync) sendLength(tag string, n uint32) error {
	payload := make([]byte, 0, 8)
	payload = append(payload, tag...)
	payload = appendUint32(payload, n)
	return s.c.WriteRaw(payload)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func readUint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// Stat runs STAT on path.
func (s *Sync) Stat(remotePath string) (Stat, error) {
	if err := s.sendArg(tagSTAT, remotePath); err != nil {
		return Stat{}, err
	}
	tag, err := s.c.Parser.ReadASCII(4)
	if err != nil {
		return Stat{}, err
	}
	switch tag {
	case tagSTAT:
		b, err := s.c.Parser.ReadBytes(12)
		if err != nil {
			return Stat{}, err
		}
		st := Stat{Mode: readUint32(b[0:4]), Size: readUint32(b[4:8]), Mtime: readUint32(b[8:12])}
		if st.Mode == 0 {
			return Stat{}, &os.PathError{Op: "stat", Path: remotePath, Err: os.ErrNotExist}
		}
		return st, nil
	case tagFAIL:
		return Stat{}, s.readSyncError()
	default:
		return Stat{}, fmt.Errorf("adb: sync: unexpected tag %q, wanted STAT or FAIL", tag)
	}
}

// ReadDir runs LIST on path, returning its non-"."/".." entries.
func (s *Sync) ReadDir(remotePath string) ([]Entry, error) {
	if err := s.sendArg(tagLIST, remotePath); err != nil {
		return nil, err
	}
	var out []Entry
	for {
		tag, err := s.c.Parser.ReadASCII(4)
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagDENT:
			b, err := s.c.Parser.ReadBytes(16)
			if err != nil {
				return nil, err
			}
			mode, size, mtime := readUint32(b[0:4]), readUint32(b[4:8]), readUint32(b[8:12])
			namelen := readUint32(b[12:16])
			name, err := s.c.Parser.ReadASCII(int(namelen))
			if err != nil {
				return nil, err
			}
			if name != "." && name != ".." {
				out = append(out, Entry{Name: name, Mode: mode, Size: size, Mtime: mtime})
			}
		case tagDONE:
			if _, err := s.c.Parser.ReadBytes(16); err != nil {
				return nil, err
			}
			return out, nil
		case tagFAIL:
			return nil, s.readSyncError()
		default:
			return nil, fmt.Errorf("adb: sync: unexpected tag %q, wanted DENT, DONE or FAIL", tag)
		}
	}
}

func (s *Sync) readSyncError() error {
	b, err := s.c.Parser.ReadBytes(4)
	if err != nil {
		return err
	}
	n := readUint32(b)
	msg, err := s.c.Parser.ReadASCII(int(n))
	if err != nil {
		return err
	}
	return &adb.FailError{Message: msg}
}

// Push streams r to remotePath in MaxDataLength chunks, tracking progress
// on the returned PushTransfer. mode defaults to DefaultMode|S_IFREG when 0.
func (s *Sync) Push(r io.Reader, remotePath string, mode uint32, mtime time.Time) *PushTransfer {
	if mode == 0 {
		mode = DefaultMode
	}
	mode |= S_IFREG
	t := newPushTransfer(s.c)
	go t.run(s, r, remotePath, mode, mtime)
	return t
}

// PushFile opens localPath and pushes it, using the file's own mtime.
func (s *Sync) PushFile(localPath, remotePath string, mode uint32) (*PushTransfer, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	t := s.Push(f, remotePath, mode, fi.ModTime())
	go func() { <-t.Done(); f.Close() }()
	return t, nil
}

// Pull streams remotePath into the returned PullTransfer's Writer
// registrations (see PullTransfer.WriteTo).
func (s *Sync) Pull(remotePath string) *PullTransfer {
	t := newPullTransfer(s.c)
	go t.run(s, remotePath)
	return t
}
