package bridge

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestListenerMaxConns(t *testing.T) {
	ln, err := Listen(ListenerConfig{
		Addr:     "127.0.0.1:0",
		MaxConns: 1,
		Log:      zerolog.Nop(),
	}, nil, "")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go ln.Serve()

	c1, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial 1: %v", err)
	}
	defer c1.Close()

	c2, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial 2: %v", err)
	}
	defer c2.Close()

	// The second connection is accepted at the TCP level but netutil's
	// LimitListener won't Accept() it until a slot frees up, so a CNXN sent
	// on it gets no AUTH reply, while the same CNXN on the first one does.
	cnxn := Assemble(ACnxn, 0x01000001, 4096, []byte("host::\x00"))
	if _, err := c1.Write(cnxn); err != nil {
		t.Fatalf("write CNXN 1: %v", err)
	}
	c1.SetReadDeadline(time.Now().Add(time.Second))
	p, err := NewPacketReader(c1).ReadPacket()
	if err != nil {
		t.Fatalf("read reply 1: %v", err)
	}
	if p.Command != AAuth {
		t.Fatalf("expected AUTH on the first connection, got %s", p)
	}

	if _, err := c2.Write(cnxn); err != nil {
		t.Fatalf("write CNXN 2: %v", err)
	}
	c2.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 1)
	if _, err := c2.Read(buf); err == nil {
		t.Fatalf("expected the second connection to be held back by MaxConns")
	}
}
