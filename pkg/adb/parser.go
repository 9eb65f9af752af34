package adb

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/pg9182/adbkit/pkg/adb/adbproto"
)

// Parser is a cooperative cursor over an incoming byte stream: the daemon
// (or, on a sync/shell/logcat sub-stream, the device) speaks a sequence of
// fixed-length and length-prefixed values, and Parser is the only thing
// allowed to read from the underlying reader while it is live.
//
// Once Raw is called, the Parser is permanently spent: every other method
// returns ErrParserConsumed instead of racing the caller for bytes.
type Parser struct {
	r     *bufio.Reader
	ended bool
}

// NewParser wraps r. r is read exclusively through the returned Parser
// until Raw is called.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReaderSize(r, 4096)}
}

// Ended reports whether the underlying stream has been observed to end.
func (p *Parser) Ended() bool {
	return p.ended
}

// ReadBytes reads exactly n bytes, returning *PrematureEOFError if the
// stream ends first.
func (p *Parser) ReadBytes(n int) ([]byte, error) {
	if p.r == nil {
		return nil, ErrParserConsumed
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	got, err := io.ReadFull(p.r, buf)
	if err != nil {
		p.ended = true
		return nil, &PrematureEOFError{Missing: n - got}
	}
	return buf, nil
}

// ReadASCII reads n bytes and returns them as a string.
func (p *Parser) ReadASCII(n int) (string, error) {
	b, err := p.ReadBytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadValue reads a 4-hex-digit length prefix followed by that many bytes.
func (p *Parser) ReadValue() ([]byte, error) {
	lenStr, err := p.ReadASCII(4)
	if err != nil {
		return nil, err
	}
	n, err := adbproto.DecodeLength(lenStr)
	if err != nil {
		return nil, err
	}
	return p.ReadBytes(n)
}

// ReadUntil consumes bytes up to (not including) the first occurrence of
// delim, which is also consumed from the stream. If the stream ends before
// delim is found, ReadUntil returns whatever was read and marks the parser
// as ended, rather than erroring, so line-oriented readers can terminate
// cleanly on EOF.
func (p *Parser) ReadUntil(delim byte) ([]byte, error) {
	if p.r == nil {
		return nil, ErrParserConsumed
	}
	line, err := p.r.ReadBytes(delim)
	if err != nil {
		p.ended = true
		return bytesTrimDelim(line, delim), nil
	}
	return bytesTrimDelim(line, delim), nil
}

func bytesTrimDelim(b []byte, delim byte) []byte {
	if len(b) > 0 && b[len(b)-1] == delim {
		return b[:len(b)-1]
	}
	return b
}

// ReadLine reads a line delimited by '\n', stripping an optional trailing
// '\r'. On clean EOF it returns the final partial line (possibly empty)
// with Ended() becoming true.
func (p *Parser) ReadLine() (string, error) {
	line, err := p.ReadUntil('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(line), "\r"), nil
}

// SearchLine reads lines until one matches re, returning the match. If the
// stream ends first, it returns (nil, nil).
func (p *Parser) SearchLine(re *regexp.Regexp) ([]string, error) {
	for {
		line, err := p.ReadLine()
		if err != nil {
			if p.ended {
				return nil, nil
			}
			return nil, err
		}
		if m := re.FindStringSubmatch(line); m != nil {
			return m, nil
		}
		if p.ended {
			return nil, nil
		}
	}
}

// ReadByteFlow copies exactly n bytes to dst in chunks of at most 4KiB.
func (p *Parser) ReadByteFlow(n int, dst io.Writer) error {
	if p.r == nil {
		return ErrParserConsumed
	}
	const chunkSize = 4096
	remaining := n
	for remaining > 0 {
		want := remaining
		if want > chunkSize {
			want = chunkSize
		}
		buf := make([]byte, want)
		got, err := io.ReadFull(p.r, buf)
		if got > 0 {
			if _, werr := dst.Write(buf[:got]); werr != nil {
				return werr
			}
			remaining -= got
		}
		if err != nil {
			p.ended = true
			return &PrematureEOFError{Missing: remaining}
		}
	}
	return nil
}

// ReadAll drains the stream to EOF.
func (p *Parser) ReadAll() ([]byte, error) {
	if p.r == nil {
		return nil, ErrParserConsumed
	}
	b, err := io.ReadAll(p.r)
	p.ended = true
	if err != nil && err != io.EOF {
		return b, err
	}
	return b, nil
}

// Raw transfers the underlying reader to the caller. After Raw returns,
// every other Parser method returns ErrParserConsumed.
func (p *Parser) Raw() *bufio.Reader {
	r := p.r
	p.r = nil
	return r
}

// ReadError reads a length-prefixed error message and returns it as a
// *FailError.
func (p *Parser) ReadError() error {
	v, err := p.ReadValue()
	if err != nil {
		return err
	}
	return &FailError{Message: string(v)}
}

// Unexpected returns an *UnexpectedDataError for got against want.
func (p *Parser) Unexpected(got, want string) error {
	return &UnexpectedDataError{Got: got, Want: want}
}
