// Package host implements the ADB host command set: the requests a client
// issues against a fresh Connection before (or instead of) attaching a
// transport to a specific device.
package host

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/pg9182/adbkit/pkg/adb"
	"github.com/pg9182/adbkit/pkg/adb/adbproto"
)

// send writes req as a length-prefixed request and reads the 4-byte status
// tag, returning it so the caller can dispatch on OKAY/FAIL/other.
func send(c *adb.Connection, req string) (string, error) {
	if err := c.Write([]byte(req)); err != nil {
		return "", err
	}
	return c.Parser.ReadASCII(4)
}

// expectOKAY runs req and, on OKAY, returns nil; on FAIL, returns the
// daemon's error; on anything else, returns *adb.UnexpectedDataError.
func expectOKAY(c *adb.Connection, req string) error {
	tag, err := send(c, req)
	if err != nil {
		return err
	}
	switch tag {
	case adbproto.OKAY:
		return nil
	case adbproto.FAIL:
		return c.Parser.ReadError()
	default:
		return c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

// Version executes "host:version".
func Version(c *adb.Connection) (int, error) {
	tag, err := send(c, "host:version")
	if err != nil {
		return 0, err
	}
	switch tag {
	case adbproto.OKAY:
		v, err := c.Parser.ReadValue()
		if err != nil {
			return 0, err
		}
		n, err := strconv.ParseInt(string(v), 16, 32)
		if err != nil {
			return 0, fmt.Errorf("adb: parse version %q: %w", v, err)
		}
		return int(n), nil
	case adbproto.FAIL:
		return 0, c.Parser.ReadError()
	default:
		return 0, c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

// Connect executes "host:connect:HOST:PORT".
func Connect(c *adb.Connection, hostport string) (string, error) {
	tag, err := send(c, "host:connect:"+hostport)
	if err != nil {
		return "", err
	}
	switch tag {
	case adbproto.OKAY:
		v, err := c.Parser.ReadValue()
		if err != nil {
			return "", err
		}
		msg := string(v)
		if !strings.Contains(msg, "connected to") && !strings.Contains(msg, "already connected") {
			return "", fmt.Errorf("adb: connect: unexpected reply %q", msg)
		}
		return hostport, nil
	case adbproto.FAIL:
		return "", c.Parser.ReadError()
	default:
		return "", c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

// Disconnect executes "host:disconnect:HOST:PORT".
func Disconnect(c *adb.Connection, hostport string) (string, error) {
	tag, err := send(c, "host:disconnect:"+hostport)
	if err != nil {
		return "", err
	}
	switch tag {
	case adbproto.OKAY:
		v, err := c.Parser.ReadValue()
		if err != nil {
			return "", err
		}
		if len(v) != 0 {
			return "", fmt.Errorf("adb: disconnect: unexpected reply %q", v)
		}
		return hostport, nil
	case adbproto.FAIL:
		return "", c.Parser.ReadError()
	default:
		return "", c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

// Kill executes "host:kill".
func Kill(c *adb.Connection) error {
	return expectOKAY(c, "host:kill")
}

// Transport executes "host:transport:SERIAL", promoting c to a device
// stream. Afterwards c must only be used for transport-level commands.
func Transport(c *adb.Connection, serial string) error {
	tag, err := send(c, "host:transport:"+serial)
	if err != nil {
		return err
	}
	switch tag {
	case adbproto.OKAY:
		return nil
	case adbproto.FAIL:
		ferr := c.Parser.ReadError()
		if fe, ok := ferr.(*adb.FailError); ok {
			// The daemon reports e.g. "device 'SERIAL' not found".
			msg := strings.ToLower(fe.Message)
			if strings.Contains(msg, "device") && strings.Contains(msg, "not found") {
				return &adb.DeviceNotFoundError{Serial: serial}
			}
		}
		return ferr
	default:
		return c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

// GetSerialNo executes "host-serial:SERIAL:get-serialno".
func GetSerialNo(c *adb.Connection, serial string) (string, error) {
	return readSerialValue(c, "host-serial:"+serial+":get-serialno")
}

// GetDevPath executes "host-serial:SERIAL:get-devpath".
func GetDevPath(c *adb.Connection, serial string) (string, error) {
	return readSerialValue(c, "host-serial:"+serial+":get-devpath")
}

// GetState executes "host-serial:SERIAL:get-state".
func GetState(c *adb.Connection, serial string) (string, error) {
	return readSerialValue(c, "host-serial:"+serial+":get-state")
}

func readSerialValue(c *adb.Connection, req string) (string, error) {
	tag, err := send(c, req)
	if err != nil {
		return "", err
	}
	switch tag {
	case adbproto.OKAY:
		v, err := c.Parser.ReadValue()
		if err != nil {
			return "", err
		}
		return string(v), nil
	case adbproto.FAIL:
		return "", c.Parser.ReadError()
	default:
		return "", c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

// Forward is one entry from ListForward: the serial, local, and remote
// endpoint specs of a port forward registered with the daemon.
type Forward struct {
	Serial string
	Local  string
	Remote string
}

// AddForward executes "host-serial:SERIAL:forward:LOCAL;REMOTE", which
// replies with two consecutive OKAY tags on success.
func AddForward(c *adb.Connection, serial, local, remote string) error {
	req := fmt.Sprintf("host-serial:%s:forward:%s;%s", serial, local, remote)
	tag, err := send(c, req)
	if err != nil {
		return err
	}
	switch tag {
	case adbproto.OKAY:
		return expectSecondOKAY(c)
	case adbproto.FAIL:
		return c.Parser.ReadError()
	default:
		return c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

func expectSecondOKAY(c *adb.Connection) error {
	tag, err := c.Parser.ReadASCII(4)
	if err != nil {
		return err
	}
	switch tag {
	case adbproto.OKAY:
		return nil
	case adbproto.FAIL:
		return c.Parser.ReadError()
	default:
		return c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

// ListForward executes "host-serial:SERIAL:list-forward".
func ListForward(c *adb.Connection, serial string) ([]Forward, error) {
	tag, err := send(c, "host-serial:"+serial+":list-forward")
	if err != nil {
		return nil, err
	}
	switch tag {
	case adbproto.OKAY:
		v, err := c.Parser.ReadValue()
		if err != nil {
			return nil, err
		}
		return parseForwards(v), nil
	case adbproto.FAIL:
		return nil, c.Parser.ReadError()
	default:
		return nil, c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

func parseForwards(v []byte) []Forward {
	var out []Forward
	for _, line := range strings.Split(string(v), "\n") {
		if line == "" {
			continue
		}
		f := strings.Fields(line)
		if len(f) < 3 {
			continue
		}
		out = append(out, Forward{Serial: f[0], Local: f[1], Remote: f[2]})
	}
	return out
}

// WaitForAny executes "host-serial:SERIAL:wait-for-any", blocking until a
// device with the given serial is present. serial is sent as given; an
// empty serial is not turned into a host-wide "host:wait-for-any" request.
func WaitForAny(c *adb.Connection, serial string) (string, error) {
	tag, err := send(c, "host-serial:"+serial+":wait-for-any")
	if err != nil {
		return "", err
	}
	switch tag {
	case adbproto.OKAY:
		if err := expectSecondOKAY(c); err != nil {
			return "", err
		}
		return serial, nil
	case adbproto.FAIL:
		return "", c.Parser.ReadError()
	default:
		return "", c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

// Device is one line of a "host:devices" or "host:devices-l" reply.
type Device struct {
	Serial string
	State  string

	// Product, Model, Device, and TransportID are only populated by
	// Devices-l's extended "key:value" columns.
	Product     string
	Model       string
	Device      string
	TransportID string
}

// Devices executes "host:devices".
func Devices(c *adb.Connection) ([]Device, error) {
	return devices(c, "host:devices")
}

// DevicesL executes "host:devices-l", which includes the product/model/
// device/transport_id columns.
func DevicesL(c *adb.Connection) ([]Device, error) {
	return devices(c, "host:devices-l")
}

func devices(c *adb.Connection, req string) ([]Device, error) {
	tag, err := send(c, req)
	if err != nil {
		return nil, err
	}
	switch tag {
	case adbproto.OKAY:
		v, err := c.Parser.ReadValue()
		if err != nil {
			return nil, err
		}
		return parseDevices(v), nil
	case adbproto.FAIL:
		return nil, c.Parser.ReadError()
	default:
		return nil, c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

func parseDevices(v []byte) []Device {
	var out []Device
	for _, line := range strings.Split(string(v), "\n") {
		if line == "" {
			continue
		}
		f := strings.Fields(line)
		if len(f) < 2 {
			continue
		}
		d := Device{Serial: f[0], State: f[1]}
		for _, kv := range f[2:] {
			k, v, ok := strings.Cut(kv, ":")
			if !ok {
				continue
			}
			switch k {
			case "product":
				d.Product = v
			case "model":
				d.Model = v
			case "device":
				d.Device = v
			case "transport_id":
				d.TransportID = v
			}
		}
		out = append(out, d)
	}
	return out
}

// TrackDevices executes "host:track-devices" and, on OKAY, hands the raw
// reader for the change-set stream to the caller (normally
// pkg/adb/tracker.New) by consuming the Connection's Parser.
func TrackDevices(c *adb.Connection) (*bufio.Reader, error) {
	tag, err := send(c, "host:track-devices")
	if err != nil {
		return nil, err
	}
	switch tag {
	case adbproto.OKAY:
		return c.Parser.Raw(), nil
	case adbproto.FAIL:
		return nil, c.Parser.ReadError()
	default:
		return nil, c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}
