package auth_test

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/pg9182/adbkit/pkg/adb/auth"
)

func buildKeyStruct(modulus []byte, exponent uint32) []byte {
	words := len(modulus) / 4
	buf := make([]byte, 0, 4+4+len(modulus)*2+4)
	wb := make([]byte, 4)
	binary.LittleEndian.PutUint32(wb, uint32(words))
	buf = append(buf, wb...)
	buf = append(buf, wb...) // n0inv-equivalent padding word, unused by this format
	rev := make([]byte, len(modulus))
	copy(rev, modulus)
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	buf = append(buf, rev...)
	buf = append(buf, rev...) // rr placeholder, same length as modulus
	eb := make([]byte, 4)
	binary.LittleEndian.PutUint32(eb, exponent)
	buf = append(buf, eb...)
	return buf
}

func TestParsePublicKey(t *testing.T) {
	modulus := make([]byte, 8) // 2 words
	for i := range modulus {
		modulus[i] = byte(i + 1)
	}
	structData := buildKeyStruct(modulus, 65537)
	encoded := base64.StdEncoding.EncodeToString(structData)
	line := []byte(encoded + " user@host")

	key, err := auth.ParsePublicKey(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.Comment != "user@host" {
		t.Fatalf("got comment %q", key.Comment)
	}
	if key.Key.E != 65537 {
		t.Fatalf("got exponent %d", key.Key.E)
	}
	if len(key.Fingerprint) != 47 { // 16 bytes -> 32 hex chars + 15 colons
		t.Fatalf("got fingerprint %q", key.Fingerprint)
	}
}

func TestParsePublicKeyBadExponent(t *testing.T) {
	modulus := make([]byte, 4)
	structData := buildKeyStruct(modulus, 17)
	encoded := base64.StdEncoding.EncodeToString(structData)
	if _, err := auth.ParsePublicKey([]byte(encoded)); err == nil {
		t.Fatal("expected error for unsupported exponent")
	}
}

func TestParsePublicKeyMalformed(t *testing.T) {
	if _, err := auth.ParsePublicKey([]byte("not valid base64!!!")); err == nil {
		t.Fatal("expected error")
	}
}
