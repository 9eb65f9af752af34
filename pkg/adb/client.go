package adb

import (
	"context"
	"io"
	"time"

	"github.com/pg9182/adbkit/pkg/adb/framebuffer"
	"github.com/pg9182/adbkit/pkg/adb/host"
	"github.com/pg9182/adbkit/pkg/adb/sync"
	"github.com/pg9182/adbkit/pkg/adb/tracker"
	"github.com/pg9182/adbkit/pkg/adb/transport"
)

// Client is a convenience facade over host/transport/sync/tracker: it owns
// a Config and dials a fresh Connection for every call, the same
// one-socket-per-request model the daemon itself expects. Callers needing
// to pipeline several transport commands on one socket (e.g. a long shell
// session) should use Dial and the host/transport packages directly.
type Client struct {
	cfg  Config
	opts []Option
}

// NewClient builds a Client dialing cfg for every request.
func NewClient(cfg Config, opts ...Option) *Client {
	return &Client{cfg: cfg, opts: opts}
}

func (cl *Client) dial(ctx context.Context) (*Connection, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dialTimeout)
		defer cancel()
	}
	return Dial(ctx, cl.cfg, cl.opts...)
}

// Version returns the daemon's protocol version.
func (cl *Client) Version(ctx context.Context) (int, error) {
	c, err := cl.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer c.Close()
	return host.Version(c)
}

// Devices lists attached devices.
func (cl *Client) Devices(ctx context.Context) ([]host.Device, error) {
	c, err := cl.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return host.DevicesL(c)
}

// TrackDevices streams device add/remove/change events until ctx is
// cancelled or the daemon connection ends. The returned Tracker owns the
// connection and must not be used after ctx is done.
func (cl *Client) TrackDevices(ctx context.Context) (*tracker.Tracker, error) {
	c, err := cl.dial(ctx)
	if err != nil {
		return nil, err
	}
	r, err := host.TrackDevices(c)
	if err != nil {
		c.Close()
		return nil, err
	}
	go func() {
		<-ctx.Done()
		c.Close()
	}()
	return tracker.New(r), nil
}

// Connect connects the daemon to a device listening on hostport (e.g. over
// TCP/IP or an emulator console).
func (cl *Client) Connect(ctx context.Context, hostport string) error {
	c, err := cl.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	_, err = host.Connect(c, hostport)
	return err
}

// Disconnect severs the daemon's connection to hostport.
func (cl *Client) Disconnect(ctx context.Context, hostport string) error {
	c, err := cl.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	_, err = host.Disconnect(c, hostport)
	return err
}

// transport dials a Connection and attaches it to serial, leaving the
// connection in transport mode for the caller to issue further commands
// on.
func (cl *Client) transport(ctx context.Context, serial string) (*Connection, error) {
	c, err := cl.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := host.Transport(c, serial); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// TransportDialer returns a bridge.TransportDialer bound to serial, suitable
// for pkg/bridge.NewSocket: every call opens a fresh transport connection
// and attaches serviceName to it.
func (cl *Client) TransportDialer(serial string) func(ctx context.Context, serviceName string) (*Connection, error) {
	return func(ctx context.Context, serviceName string) (*Connection, error) {
		c, err := cl.transport(ctx, serial)
		if err != nil {
			return nil, err
		}
		if err := c.Write([]byte(serviceName)); err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	}
}

// Shell runs command on serial and returns its combined stdout/stderr.
func (cl *Client) Shell(ctx context.Context, serial, command string) ([]byte, error) {
	c, err := cl.transport(ctx, serial)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	r, err := transport.Shell(c, command)
	if err != nil {
		return nil, err
	}
	return readAllShell(r)
}

// Reboot restarts serial.
func (cl *Client) Reboot(ctx context.Context, serial string) error {
	c, err := cl.transport(ctx, serial)
	if err != nil {
		return err
	}
	defer c.Close()
	return transport.Reboot(c)
}

// Root restarts adbd as root on serial.
func (cl *Client) Root(ctx context.Context, serial string) error {
	c, err := cl.transport(ctx, serial)
	if err != nil {
		return err
	}
	defer c.Close()
	return transport.Root(c)
}

// Install pushes localPath to serial's temp directory and installs it.
func (cl *Client) Install(ctx context.Context, serial, localPath string) error {
	remote := sync.Temp(localPath)
	c, err := cl.transport(ctx, serial)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := transport.Sync(c); err != nil {
		return err
	}
	s := sync.New(c)
	t, err := s.PushFile(localPath, remote, 0)
	if err != nil {
		return err
	}
	<-t.Done()
	if err := t.Err(); err != nil {
		return err
	}

	c2, err := cl.transport(ctx, serial)
	if err != nil {
		return err
	}
	defer c2.Close()
	return transport.Install(c2, remote)
}

// Uninstall removes pkg from serial.
func (cl *Client) Uninstall(ctx context.Context, serial, pkg string) error {
	c, err := cl.transport(ctx, serial)
	if err != nil {
		return err
	}
	defer c.Close()
	return transport.Uninstall(c, pkg)
}

// Push copies localPath to remotePath on serial.
func (cl *Client) Push(ctx context.Context, serial, localPath, remotePath string) error {
	c, err := cl.transport(ctx, serial)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := transport.Sync(c); err != nil {
		return err
	}
	s := sync.New(c)
	t, err := s.PushFile(localPath, remotePath, 0)
	if err != nil {
		return err
	}
	<-t.Done()
	return t.Err()
}

// Pull starts copying remotePath from serial. It returns the Connection
// backing the transfer, which the caller must Close, and a PullTransfer
// whose WriteTo method drains the file's contents into a writer.
func (cl *Client) Pull(ctx context.Context, serial, remotePath string) (*Connection, *sync.PullTransfer, error) {
	c, err := cl.transport(ctx, serial)
	if err != nil {
		return nil, nil, err
	}
	if err := transport.Sync(c); err != nil {
		c.Close()
		return nil, nil, err
	}
	s := sync.New(c)
	return c, s.Pull(remotePath), nil
}

// WaitBootComplete blocks until serial finishes booting.
func (cl *Client) WaitBootComplete(ctx context.Context, serial string) error {
	c, err := cl.transport(ctx, serial)
	if err != nil {
		return err
	}
	defer c.Close()
	return transport.WaitBootComplete(c)
}

// AddForward forwards local connections on the daemon host to remote on
// serial (e.g. "tcp:8080", "tcp:80").
func (cl *Client) AddForward(ctx context.Context, serial, local, remote string) error {
	c, err := cl.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return host.AddForward(c, serial, local, remote)
}

// AddReverse forwards connections on serial's remote socket back to local
// on the daemon host.
func (cl *Client) AddReverse(ctx context.Context, serial, remote, local string) error {
	c, err := cl.transport(ctx, serial)
	if err != nil {
		return err
	}
	defer c.Close()
	return transport.AddReverse(c, remote, local)
}

// Logcat streams serial's "logcat -B *:I" buffer, normalizing the shell's
// line endings to bare LF. The caller must Close the returned
// io.ReadCloser (backed by the underlying Connection) when done.
func (cl *Client) Logcat(ctx context.Context, serial string, clear bool) (io.ReadCloser, error) {
	c, err := cl.transport(ctx, serial)
	if err != nil {
		return nil, err
	}
	r, err := transport.Logcat(c, clear)
	if err != nil {
		c.Close()
		return nil, err
	}
	return &transformReadCloser{r: NewLineTransform(r, true), c: c}, nil
}

// Screencap captures serial's current display as a PNG-encoded stream.
func (cl *Client) Screencap(ctx context.Context, serial string) (io.ReadCloser, error) {
	c, err := cl.transport(ctx, serial)
	if err != nil {
		return nil, err
	}
	r, err := transport.Screencap(c)
	if err != nil {
		c.Close()
		return nil, err
	}
	return &transformReadCloser{r: NewLineTransform(r, true), c: c}, nil
}

// Framebuffer captures serial's raw framebuffer, returning the decoded
// header alongside the still-packed pixel stream (caller applies
// framebuffer.NewRGBTransform if a non-RGB layout needs normalizing).
func (cl *Client) Framebuffer(ctx context.Context, serial string) (framebuffer.Header, io.ReadCloser, error) {
	c, err := cl.transport(ctx, serial)
	if err != nil {
		return framebuffer.Header{}, nil, err
	}
	h, r, err := transport.Framebuffer(c)
	if err != nil {
		c.Close()
		return framebuffer.Header{}, nil, err
	}
	return h, &transformReadCloser{r: r, c: c}, nil
}

// transformReadCloser pairs a derived stream with the Connection backing
// it, so callers of Logcat/Screencap/Framebuffer get a single Close.
type transformReadCloser struct {
	r io.Reader
	c *Connection
}

func (t *transformReadCloser) Read(p []byte) (int, error) { return t.r.Read(p) }
func (t *transformReadCloser) Close() error                { return t.c.Close() }

func readAllShell(r io.Reader) ([]byte, error) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			return out, nil
		}
	}
}

// dialTimeout is the default per-request dial timeout used by cmd/adbkit
// when no deadline is already set on ctx.
const dialTimeout = 10 * time.Second
