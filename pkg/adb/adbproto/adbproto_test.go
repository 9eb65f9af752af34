package adbproto

import "testing"

func TestLengthRoundTrip(t *testing.T) {
	for n := 0; n <= 0xFFFF; n += 97 {
		s := EncodeLength(n)
		if len(s) != 4 {
			t.Fatalf("EncodeLength(%d) = %q, want length 4", n, s)
		}
		got, err := DecodeLength(s)
		if err != nil {
			t.Fatalf("DecodeLength(%q): %v", s, err)
		}
		if got != n {
			t.Fatalf("DecodeLength(EncodeLength(%d)) = %d", n, got)
		}
	}
}

func TestDecodeLengthInvalid(t *testing.T) {
	for _, s := range []string{"", "1", "12345", "zzzz", "FAIL"} {
		if _, err := DecodeLength(s); err == nil {
			t.Errorf("DecodeLength(%q): expected error", s)
		}
	}
}

func TestEncodeData(t *testing.T) {
	b := EncodeData([]byte("host:version"))
	if string(b[:4]) != "000C" {
		t.Fatalf("got length prefix %q", b[:4])
	}
	if string(b[4:]) != "host:version" {
		t.Fatalf("got payload %q", b[4:])
	}
}
