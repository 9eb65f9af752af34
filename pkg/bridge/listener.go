package bridge

import (
	"context"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/pg9182/adbkit/pkg/adb"
)

// listenConfig is the net.ListenConfig used to open the bridge's TCP
// socket; listener_unix.go sets SO_REUSEADDR on it so a restarted bridge
// doesn't wait out TIME_WAIT on its old socket.
var listenConfig net.ListenConfig

// Listener accepts TCP connections and serves each one as a bridge Socket,
// presenting the device behind Dial as if it were directly attached over
// USB to whatever adb client connects.
type Listener struct {
	ln      net.Listener
	dial    TransportDialer
	authz   KeyAuthorizer
	log     zerolog.Logger
	metrics *Metrics
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Addr is the TCP address to listen on, e.g. ":5555".
	Addr string

	// MaxConns caps concurrently served client connections. Zero means
	// unlimited.
	MaxConns int

	// Authorize approves or rejects a client's presented RSA key. A nil
	// Authorize accepts every key that produces a well-formed signature.
	Authorize KeyAuthorizer

	Log     zerolog.Logger
	Metrics *Metrics
}

// Listen opens a Listener bound to cfg.Addr, proxying every accepted
// connection onto serial through cl.
func Listen(cfg ListenerConfig, cl *adb.Client, serial string) (*Listener, error) {
	ln, err := listenConfig.Listen(context.Background(), "tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConns)
	}
	return &Listener{
		ln:      ln,
		dial:    cl.TransportDialer(serial),
		authz:   cfg.Authorize,
		log:     cfg.Log,
		metrics: cfg.Metrics,
	}, nil
}

// Addr returns the listener's bound network address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections. Sockets already being served run
// to completion.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Serve accepts connections until the listener is closed, serving each on
// its own goroutine. It always returns a non-nil error.
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return err
		}
		log := l.log.With().Str("remote", conn.RemoteAddr().String()).Logger()
		sock := NewSocket(conn, l.dial, l.authz, log, l.metrics)
		go sock.Serve()
	}
}
