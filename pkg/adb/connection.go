package adb

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/pg9182/adbkit/pkg/adb/adbproto"
)

// Connection owns one TCP session to the daemon. It is single-use for
// commands that attach a transport: once a "host:transport:SERIAL" command
// succeeds, the connection is repurposed as the device stream and must not
// be used to issue another host request.
type Connection struct {
	cfg    Config
	conn   net.Conn
	w      *bufio.Writer
	Parser *Parser

	id         xid.ID
	triedStart bool
	log        zerolog.Logger
}

// Dial opens a new Connection to the daemon described by cfg. If the first
// connection attempt is refused, it launches cfg.Bin with argument
// "start-server", waits for it to exit successfully, and retries exactly
// once; further refusals are returned as errors.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Connection, error) {
	c := &Connection{cfg: cfg, id: xid.New(), log: zerolog.Nop()}
	for _, o := range opts {
		o(c)
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Option configures a Connection at Dial time.
type Option func(*Connection)

// WithLogger attaches a logger used for debug-level tracing of this
// connection's lifecycle.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Connection) { c.log = log.With().Str("conn", c.id.String()).Logger() }
}

func (c *Connection) connect(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.cfg.addr())
	if err != nil {
		if isConnRefused(err) && !c.triedStart {
			c.triedStart = true
			c.log.Debug().Str("bin", c.cfg.Bin).Msg("starting adb server")
			if serr := c.startServer(ctx); serr != nil {
				return fmt.Errorf("adb: start server: %w", serr)
			}
			conn, err = d.DialContext(ctx, "tcp", c.cfg.addr())
			if err != nil {
				return fmt.Errorf("adb: connect after server start: %w", err)
			}
		} else {
			return fmt.Errorf("adb: connect: %w", err)
		}
	}
	c.conn = conn
	c.w = bufio.NewWriter(conn)
	c.Parser = NewParser(conn)
	return nil
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

func (c *Connection) startServer(ctx context.Context) error {
	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(startCtx, c.cfg.Bin, "start-server")
	return cmd.Run()
}

// Write encodes data with the 4-hex-digit length prefix and sends it. Callers
// inside a sub-protocol that frames its own bytes (sync, shell, logcat) use
// WriteRaw instead.
func (c *Connection) Write(data []byte) error {
	_, err := c.w.Write(adbproto.EncodeData(data))
	if err != nil {
		return err
	}
	return c.w.Flush()
}

// WriteRaw writes data to the connection without any length-prefix framing.
func (c *Connection) WriteRaw(data []byte) error {
	if _, err := c.w.Write(data); err != nil {
		return err
	}
	return c.w.Flush()
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// Conn returns the underlying net.Conn, for callers (e.g. transport
// commands) that need direct read access alongside the Parser.
func (c *Connection) Conn() net.Conn {
	return c.conn
}

// ID returns the connection's correlation id, used in log lines.
func (c *Connection) ID() xid.ID {
	return c.id
}

// NewTestConnection wraps an already-established net.Conn (normally one end
// of a net.Pipe) as a Connection, bypassing Dial's discovery and
// auto-start logic. It exists for pkg/adb/adbtest and other packages'
// tests that fake the daemon side of the wire.
func NewTestConnection(conn net.Conn) *Connection {
	return &Connection{
		cfg:    DefaultConfig(),
		conn:   conn,
		w:      bufio.NewWriter(conn),
		Parser: NewParser(conn),
		id:     xid.New(),
		log:    zerolog.Nop(),
	}
}
