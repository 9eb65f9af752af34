package bridge

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pg9182/adbkit/pkg/adb"
	"github.com/pg9182/adbkit/pkg/adb/auth"
)

// buildKeyStruct lays out an ADB RSA public key the same way a real client
// does: word count, a padding word, the byte-reversed modulus, a same-
// length placeholder block, then the little-endian exponent. Mirrors
// pkg/adb/auth's decodeKeyStruct expectations.
func buildKeyStruct(modulus []byte, exponent uint32) []byte {
	words := len(modulus) / 4
	wb := make([]byte, 4)
	binary.LittleEndian.PutUint32(wb, uint32(words))

	rev := make([]byte, len(modulus))
	copy(rev, modulus)
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}

	eb := make([]byte, 4)
	binary.LittleEndian.PutUint32(eb, exponent)

	buf := append([]byte{}, wb...)
	buf = append(buf, wb...)
	buf = append(buf, rev...)
	buf = append(buf, rev...)
	buf = append(buf, eb...)
	return buf
}

func readPacketWithin(t *testing.T, pr *PacketReader, d time.Duration) *Packet {
	t.Helper()
	ch := make(chan *Packet, 1)
	errCh := make(chan error, 1)
	go func() {
		p, err := pr.ReadPacket()
		if err != nil {
			errCh <- err
			return
		}
		ch <- p
	}()
	select {
	case p := <-ch:
		return p
	case err := <-errCh:
		t.Fatalf("ReadPacket: %v", err)
	case <-time.After(d):
		t.Fatalf("timed out waiting for packet")
	}
	return nil
}

// fakeTransport stands in for the real device: it answers whatever service
// name was requested with an OKAY tag followed by raw bytes, just like
// host.Transport + a transport-level command would.
func fakeTransport(reply string) TransportDialer {
	return func(ctx context.Context, serviceName string) (*adb.Connection, error) {
		client, server := net.Pipe()
		go func() {
			server.Write([]byte("OKAY" + reply))
			server.Close()
		}()
		return adb.NewTestConnection(client), nil
	}
}

func TestSocketHandshake(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	modulus := priv.PublicKey.N.Bytes()
	structData := buildKeyStruct(modulus, uint32(priv.PublicKey.E))
	keyLine := base64.StdEncoding.EncodeToString(structData) + " test@bridge"

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	dial := fakeTransport("[ro.product.name]: [widget]\n[ro.product.model]: [M1]\n[ro.product.device]: [dev1]\n")
	authorized := false
	authz := func(key *auth.PublicKey) (bool, error) {
		authorized = true
		return true, nil
	}

	sock := NewSocket(serverConn, dial, authz, zerolog.Nop(), NewMetrics())
	go sock.Serve()
	defer sock.End()

	pr := NewPacketReader(clientConn)

	if _, err := clientConn.Write(Assemble(ACnxn, 0x01000001, 4096, []byte("host::features=cmd\x00"))); err != nil {
		t.Fatalf("write CNXN: %v", err)
	}
	authPkt := readPacketWithin(t, pr, time.Second)
	if authPkt.Command != AAuth || authPkt.Arg0 != AuthToken {
		t.Fatalf("expected AUTH/AuthToken, got %s", authPkt)
	}
	token := authPkt.Data
	if len(token) != TokenLength {
		t.Fatalf("token length = %d, want %d", len(token), TokenLength)
	}

	hash := sha1.Sum(token)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA1, hash[:])
	if err != nil {
		t.Fatalf("SignPKCS1v15: %v", err)
	}

	if _, err := clientConn.Write(Assemble(AAuth, AuthSignature, 0, sig)); err != nil {
		t.Fatalf("write AUTH signature: %v", err)
	}
	echoPkt := readPacketWithin(t, pr, time.Second)
	if echoPkt.Command != AAuth || echoPkt.Arg0 != AuthToken {
		t.Fatalf("expected echoed AUTH/AuthToken, got %s", echoPkt)
	}

	keyPayload := append([]byte(keyLine), 0)
	if _, err := clientConn.Write(Assemble(AAuth, AuthRSAPublicKey, 0, keyPayload)); err != nil {
		t.Fatalf("write AUTH public key: %v", err)
	}

	cnxnPkt := readPacketWithin(t, pr, time.Second)
	if cnxnPkt.Command != ACnxn {
		t.Fatalf("expected CNXN after successful auth, got %s", cnxnPkt)
	}
	if !authorized {
		t.Fatalf("authz callback was never invoked")
	}
}

func TestSocketOpenBeforeAuthRejected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sock := NewSocket(serverConn, fakeTransport(""), nil, zerolog.Nop(), nil)
	go sock.Serve()

	pr := NewPacketReader(clientConn)
	if _, err := clientConn.Write(Assemble(AOpen, 1, 0, []byte("shell:ls\x00"))); err != nil {
		t.Fatalf("write OPEN: %v", err)
	}

	// An unauthenticated OPEN ends the socket rather than replying.
	if _, err := pr.ReadPacket(); err == nil {
		t.Fatalf("expected the connection to be torn down, got a packet instead")
	}
}
