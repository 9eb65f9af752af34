package bridge

import (
	"bufio"
	"fmt"
	"sync"

	"github.com/pg9182/adbkit/pkg/adb"
	"github.com/pg9182/adbkit/pkg/adb/adbproto"
)

// PrematurePacketError is returned when a WRTE/OKAY/CLSE packet arrives for
// a service whose transport hasn't opened yet.
type PrematurePacketError struct {
	Packet *Packet
}

func (e *PrematurePacketError) Error() string {
	return fmt.Sprintf("bridge: premature packet: %s", e.Packet)
}

// Service proxies one opened stream between the bridge client and a single
// host/transport service on the real device, e.g. "shell:ls". It applies
// window-of-one flow control: at most one unacknowledged A_WRTE is ever
// outstanding towards the client.
type Service struct {
	socket   *Socket
	localID  uint32
	remoteID uint32

	mu      sync.Mutex
	conn    *adb.Connection
	raw     *bufio.Reader
	opened  bool
	ended   bool
	needAck bool

	// ack holds one token when the service is clear to push another
	// A_WRTE; pump blocks acquiring it, handleOkay returns it.
	ack chan struct{}
}

func newService(socket *Socket, localID, remoteID uint32) *Service {
	ack := make(chan struct{}, 1)
	ack <- struct{}{}
	return &Service{socket: socket, localID: localID, remoteID: remoteID, ack: ack}
}

// End closes the service's transport connection (if any) and tells the
// client the stream is closed.
func (s *Service) End() *Service {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	alreadyEnded := s.ended
	localID := uint32(0)
	if s.opened {
		localID = s.localID
	}
	s.ended = true
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if alreadyEnded {
		return s
	}
	s.socket.writePacket(AClse, localID, s.remoteID, nil)
	return s
}

// Handle dispatches one packet addressed to this service.
func (s *Service) Handle(p *Packet) {
	switch p.Command {
	case AOpen:
		s.handleOpen(p)
	case AOkay:
		s.handleOkay(p)
	case AWrte:
		s.handleWrite(p)
	case AClse:
		s.handleClose(p)
	default:
		s.fail(fmt.Errorf("bridge: unexpected packet for service: %s", p))
	}
}

func (s *Service) handleOpen(p *Packet) {
	if len(p.Data) < 2 {
		s.fail(fmt.Errorf("bridge: empty service name"))
		return
	}
	name := string(p.Data[:len(p.Data)-1]) // drop the trailing NUL

	conn, err := s.socket.dialTransport(name)
	if err != nil {
		s.fail(fmt.Errorf("bridge: open %q: %w", name, err))
		return
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	tag, err := conn.Parser.ReadASCII(4)
	if err != nil {
		s.fail(err)
		return
	}
	switch tag {
	case adbproto.OKAY:
		s.mu.Lock()
		s.opened = true
		s.raw = conn.Parser.Raw()
		s.mu.Unlock()
		s.socket.writePacket(AOkay, s.localID, s.remoteID, nil)
	case adbproto.FAIL:
		ferr := conn.Parser.ReadError()
		s.fail(fmt.Errorf("bridge: failed to open transport: %w", ferr))
		return
	default:
		s.fail(fmt.Errorf("bridge: unexpected reply %q", tag))
		return
	}

	s.pump()
}

func (s *Service) handleOkay(p *Packet) {
	s.mu.Lock()
	ended := s.ended
	hasConn := s.conn != nil
	s.mu.Unlock()
	if ended {
		return
	}
	if !hasConn {
		s.fail(&PrematurePacketError{Packet: p})
		return
	}
	s.mu.Lock()
	s.needAck = false
	s.mu.Unlock()
	select {
	case s.ack <- struct{}{}:
	default:
	}
}

func (s *Service) handleWrite(p *Packet) {
	s.mu.Lock()
	ended := s.ended
	conn := s.conn
	s.mu.Unlock()
	if ended {
		return
	}
	if conn == nil {
		s.fail(&PrematurePacketError{Packet: p})
		return
	}
	if len(p.Data) > 0 {
		if err := conn.WriteRaw(p.Data); err != nil {
			s.fail(err)
			return
		}
	}
	s.socket.writePacket(AOkay, s.localID, s.remoteID, nil)
}

func (s *Service) handleClose(p *Packet) {
	s.mu.Lock()
	ended := s.ended
	hasConn := s.conn != nil
	s.mu.Unlock()
	if ended {
		return
	}
	if !hasConn {
		s.fail(&PrematurePacketError{Packet: p})
		return
	}
	s.End()
}

func (s *Service) fail(err error) {
	s.socket.logError(err)
	s.socket.metrics.serviceFailed()
	s.End()
}

// pump reads the transport's output and forwards it to the client one
// chunk at a time, waiting for the client's A_OKAY between each chunk
// (window-of-one flow control) until the service ends.
func (s *Service) pump() {
	for {
		s.mu.Lock()
		if s.ended {
			s.mu.Unlock()
			return
		}
		raw := s.raw
		s.mu.Unlock()
		if raw == nil {
			return
		}

		select {
		case <-s.ack:
		case <-s.socket.closed:
			return
		}

		buf := make([]byte, s.socket.maxPayload())
		n, err := raw.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.needAck = true
			s.mu.Unlock()
			s.socket.writePacket(AWrte, s.localID, s.remoteID, buf[:n])
		} else {
			select { // give the ack back up since this read produced nothing
			case s.ack <- struct{}{}:
			default:
			}
		}
		if err != nil {
			s.End()
			return
		}
	}
}
