// Package auth decodes the RSA public keys a client presents during the
// bridge's AUTH_RSAPUBLICKEY handshake.
package auth

import (
	"crypto/md5"
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// PublicKey is a parsed ADB RSA public key: the key itself plus the
// identifying metadata carried alongside it on the wire.
type PublicKey struct {
	Key         *rsa.PublicKey
	Fingerprint string // lowercase colon-separated MD5 hex, e.g. "ab:cd:..."
	Comment     string
}

// reKey matches "<base64-struct>[\0][ comment]", the line format ADB clients
// send: a base64-encoded key struct optionally followed by a NUL and a
// space-prefixed human-readable comment (typically "user@host").
var reKey = regexp.MustCompile(`^((?:[A-Za-z0-9+/]{4})*(?:[A-Za-z0-9+/]{2}==|[A-Za-z0-9+/]{3}=)?)\x00?( .*|)\s*$`)

// allowedExponents are the only RSA public exponents ADB clients are known
// to generate.
var allowedExponents = map[uint32]bool{3: true, 65537: true}

// ParsePublicKey decodes one line of AUTH_RSAPUBLICKEY payload.
func ParsePublicKey(line []byte) (*PublicKey, error) {
	m := reKey.FindSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("adb: auth: unrecognizable public key format")
	}
	structData, err := base64.StdEncoding.DecodeString(string(m[1]))
	if err != nil {
		return nil, fmt.Errorf("adb: auth: decode base64 key: %w", err)
	}
	comment := strings.TrimSpace(string(m[2]))
	return decodeKeyStruct(structData, comment)
}

// decodeKeyStruct parses the binary layout ADB uses on the wire: a 4-byte
// little-endian word count (modulus length in 32-bit words), a 4-byte n0inv
// word (ignored), the modulus itself stored byte-reversed (little-endian),
// a modulus-sized R^2 block (ignored), and a trailing 4-byte little-endian
// exponent.
func decodeKeyStruct(b []byte, comment string) (*PublicKey, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("adb: auth: invalid public key")
	}
	words := binary.LittleEndian.Uint32(b[0:4])
	length := int(words) * 4
	if len(b) != 4+4+length+length+4 {
		return nil, fmt.Errorf("adb: auth: invalid public key")
	}

	nStart := 8
	n := make([]byte, length)
	copy(n, b[nStart:nStart+length])
	reverse(n)

	e := binary.LittleEndian.Uint32(b[4+4+length+length:])
	if !allowedExponents[e] {
		return nil, fmt.Errorf("adb: auth: invalid exponent %d, only 3 and 65537 are supported", e)
	}

	key := &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(e),
	}

	sum := md5.Sum(b)
	return &PublicKey{
		Key:         key,
		Fingerprint: hexColon(sum[:]),
		Comment:     comment,
	}, nil
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

func hexColon(b []byte) string {
	const hex = "0123456789abcdef"
	out := make([]byte, 0, len(b)*3-1)
	for i, c := range b {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hex[c>>4], hex[c&0xF])
	}
	return string(out)
}
