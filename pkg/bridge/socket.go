package bridge

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"net"
	"regexp"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pg9182/adbkit/pkg/adb"
	"github.com/pg9182/adbkit/pkg/adb/auth"
)

// TransportDialer opens a host/transport connection to the device behind
// the bridge and attaches to serviceName (e.g. "shell:ls", "sync:").
type TransportDialer func(ctx context.Context, serviceName string) (*adb.Connection, error)

// KeyAuthorizer decides whether a client-presented public key is allowed to
// use the bridge, typically backed by pkg/adb/keystore.
type KeyAuthorizer func(key *auth.PublicKey) (bool, error)

// Socket drives the protocol state machine for one client TCP connection:
// CNXN/AUTH negotiation, then OPEN/OKAY/WRTE/CLSE multiplexing across
// however many Services the client opens.
type Socket struct {
	conn   net.Conn
	reader *PacketReader
	log    zerolog.Logger

	dial    TransportDialer
	authz   KeyAuthorizer
	metrics *Metrics

	version       uint32
	maxPayloadNeg uint32

	syncToken *RollingCounter
	remoteID  *RollingCounter
	services  *ServiceMap

	mu         sync.Mutex
	token      []byte
	signature  []byte
	authorized bool
	ended      bool
	closed     chan struct{}

	writeMu sync.Mutex
}

// NewSocket wraps conn as a bridge client connection. dial attaches to the
// real device's transport for each opened service; authz approves or
// rejects the client's presented RSA key. metrics may be nil.
func NewSocket(conn net.Conn, dial TransportDialer, authz KeyAuthorizer, log zerolog.Logger, metrics *Metrics) *Socket {
	metrics.connectionAccepted()
	return &Socket{
		conn:          conn,
		reader:        NewPacketReader(conn),
		log:           log,
		dial:          dial,
		authz:         authz,
		metrics:       metrics,
		version:       1,
		maxPayloadNeg: MaxPayloadDefault,
		syncToken:     NewRollingCounter(0xFFFFFFFF, 1),
		remoteID:      NewRollingCounter(0xFFFFFFFF, 1),
		services:      NewServiceMap(),
		closed:        make(chan struct{}),
	}
}

// Serve runs the socket's read loop until the connection ends.
func (s *Socket) Serve() {
	defer s.End()
	for {
		p, err := s.reader.ReadPacket()
		if err != nil {
			return
		}
		s.metrics.packetReceived(p)
		s.handle(p)
	}
}

// End closes every open service and the underlying connection. Safe to
// call multiple times.
func (s *Socket) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()

	close(s.closed)
	s.services.End()
	s.conn.Close()
}

func (s *Socket) logError(err error) {
	s.log.Debug().Err(err).Msg("bridge socket error")
}

func (s *Socket) maxPayload() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPayloadNeg
}

func (s *Socket) dialTransport(serviceName string) (*adb.Connection, error) {
	return s.dial(context.Background(), serviceName)
}

// writePacket serializes and sends a packet, silently dropping the write if
// the socket has already ended.
func (s *Socket) writePacket(command, arg0, arg1 uint32, data []byte) {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write(Assemble(command, arg0, arg1, data)); err != nil {
		s.logError(fmt.Errorf("write packet: %w", err))
		return
	}
	s.metrics.packetSent(command, len(data))
}

func (s *Socket) handle(p *Packet) {
	switch p.Command {
	case ASync:
		s.handleSync(p)
	case ACnxn:
		s.handleConnection(p)
	case AOpen:
		s.handleOpen(p)
	case AOkay, AWrte, AClse:
		s.forwardServicePacket(p)
	case AAuth:
		s.handleAuth(p)
	default:
		s.logError(fmt.Errorf("unknown command %#x", p.Command))
		s.End()
	}
}

func (s *Socket) handleSync(p *Packet) {
	s.writePacket(ASync, 1, s.syncToken.Next(), nil)
}

func (s *Socket) handleConnection(p *Packet) {
	s.mu.Lock()
	s.version = p.Arg0
	maxPayload := p.Arg1
	if maxPayload > 0xFFFF {
		maxPayload = 0xFFFF
	}
	s.maxPayloadNeg = maxPayload
	s.mu.Unlock()

	token := make([]byte, TokenLength)
	if _, err := rand.Read(token); err != nil {
		s.logError(fmt.Errorf("generate challenge: %w", err))
		s.End()
		return
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.writePacket(AAuth, AuthToken, 0, token)
}

func (s *Socket) handleAuth(p *Packet) {
	switch p.Arg0 {
	case AuthSignature:
		s.mu.Lock()
		if s.signature == nil {
			s.signature = p.Data
		}
		token := s.token
		s.mu.Unlock()
		s.writePacket(AAuth, AuthToken, 0, token)
	case AuthRSAPublicKey:
		if len(p.Data) < 2 {
			s.fail(&AuthError{Reason: "empty RSA public key"})
			return
		}
		s.mu.Lock()
		sig, token := s.signature, s.token
		s.mu.Unlock()
		if sig == nil {
			s.fail(&AuthError{Reason: "public key sent before signature"})
			return
		}

		key, err := auth.ParsePublicKey(skipNull(p.Data))
		if err != nil {
			s.fail(&AuthError{Reason: err.Error()})
			return
		}
		if verr := rsa.VerifyPKCS1v15(key.Key, crypto.SHA1, token, sig); verr != nil {
			s.metrics.authFailed()
			s.fail(&AuthError{Reason: "signature mismatch"})
			return
		}
		if s.authz != nil {
			ok, err := s.authz(key)
			if err != nil {
				s.fail(&AuthError{Reason: err.Error()})
				return
			}
			if !ok {
				s.metrics.authFailed()
				s.fail(&AuthError{Reason: "key not authorized"})
				return
			}
		}

		s.mu.Lock()
		s.authorized = true
		version := s.version
		s.mu.Unlock()

		deviceID, err := s.deviceID()
		if err != nil {
			s.logError(err)
			s.End()
			return
		}
		s.writePacket(ACnxn, version, s.maxPayload(), deviceID)
	default:
		s.fail(fmt.Errorf("bridge: unknown auth method %d", p.Arg0))
	}
}

func (s *Socket) handleOpen(p *Packet) {
	s.mu.Lock()
	authorized := s.authorized
	s.mu.Unlock()
	if !authorized {
		s.fail(&UnauthorizedError{})
		return
	}
	if len(p.Data) < 2 {
		s.logError(fmt.Errorf("bridge: empty service name"))
		s.End()
		return
	}
	remoteID := p.Arg0
	localID := s.remoteID.Next()

	s.metrics.serviceOpened()
	svc := newService(s, localID, remoteID)
	s.services.Insert(localID, svc)
	go func() {
		svc.Handle(p)
		s.services.Remove(localID)
	}()
}

func (s *Socket) forwardServicePacket(p *Packet) {
	s.mu.Lock()
	authorized := s.authorized
	s.mu.Unlock()
	if !authorized {
		s.fail(&UnauthorizedError{})
		return
	}
	localID := p.Arg1
	svc := s.services.Get(localID)
	if svc == nil {
		return // packet for a service that's already closed
	}
	svc.Handle(p)
}

func (s *Socket) fail(err error) {
	s.logError(err)
	s.End()
}

func skipNull(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == 0 {
		return b[:len(b)-1]
	}
	return b
}

// reGetprop matches one "[key]: [value]" line of getprop's output.
var reGetprop = regexp.MustCompile(`(?m)^\[([\s\S]*?)\]: \[([\s\S]*?)\]\r?$`)

// deviceID builds the "device::prop=val;..." string sent in the CNXN reply
// once authorized, deriving it from the live device's getprop output.
func (s *Socket) deviceID() ([]byte, error) {
	conn, err := s.dialTransport("shell:getprop")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	tag, err := conn.Parser.ReadASCII(4)
	if err != nil {
		return nil, err
	}
	if tag != "OKAY" {
		return nil, fmt.Errorf("bridge: device id: unexpected reply %q", tag)
	}
	data, err := conn.Parser.ReadAll()
	if err != nil {
		return nil, err
	}

	props := map[string]string{}
	for _, m := range reGetprop.FindAllStringSubmatch(string(data), -1) {
		props[m[1]] = m[2]
	}

	var id string
	for _, name := range []string{"ro.product.name", "ro.product.model", "ro.product.device"} {
		id += fmt.Sprintf("%s=%s;", name, props[name])
	}
	return append([]byte("device::"+id), 0), nil
}
