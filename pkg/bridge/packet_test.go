package bridge

import (
	"bytes"
	"testing"
)

func TestAssembleVerify(t *testing.T) {
	raw := Assemble(AWrte, 1, 2, []byte("hello"))
	pr := NewPacketReader(bytes.NewReader(raw))
	p, err := pr.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if p.Command != AWrte || p.Arg0 != 1 || p.Arg1 != 2 {
		t.Fatalf("unexpected packet: %+v", p)
	}
	if string(p.Data) != "hello" {
		t.Fatalf("data = %q", p.Data)
	}
	if !p.VerifyChecksum() || !p.VerifyMagic() {
		t.Fatalf("checksum/magic failed to verify")
	}
}

func TestCommandName(t *testing.T) {
	p := &Packet{Command: ACnxn}
	if got := p.CommandName(); got != "CNXN" {
		t.Fatalf("CommandName = %q", got)
	}
	p.Command = 0xdeadbeef
	if got := p.CommandName(); got != "????" {
		t.Fatalf("CommandName = %q, want ????", got)
	}
}
