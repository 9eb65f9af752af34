// Package transport implements the commands sent over a Connection that has
// already attached to a device via host.Transport: shell execution, package
// management, port forwarding, and the various raw byte-stream services
// (logcat, framebuffer, local sockets).
package transport

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/pg9182/adbkit/pkg/adb"
	"github.com/pg9182/adbkit/pkg/adb/adbproto"
	"github.com/pg9182/adbkit/pkg/adb/framebuffer"
)

func send(c *adb.Connection, req string) (string, error) {
	if err := c.Write([]byte(req)); err != nil {
		return "", err
	}
	return c.Parser.ReadASCII(4)
}

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

// Shell runs command in a device shell, returning the raw stdout+stderr
// stream. The returned reader is the Connection's socket with no further
// framing; the caller owns reading it to EOF and closing the Connection.
func Shell(c *adb.Connection, command string) (*bufio.Reader, error) {
	tag, err := send(c, "shell:"+command)
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

// Reboot executes "reboot:" and waits for the stream to close.
func Reboot(c *adb.Connection) error {
	tag, err := send(c, "reboot:")
	if err != nil {
		return err
	}
	switch tag {
	case adbproto.OKAY:
		_, err := c.Parser.ReadAll()
		return err
	case adbproto.FAIL:
		return c.Parser.ReadError()
	default:
		return c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

var reRestartingRoot = regexp.MustCompile(`restarting adbd as root`)

// Root executes "root:", restarting adbd with root permissions.
func Root(c *adb.Connection) error {
	tag, err := send(c, "root:")
	if err != nil {
		return err
	}
	switch tag {
	case adbproto.OKAY:
		v, err := c.Parser.ReadAll()
		if err != nil {
			return err
		}
		if !reRestartingRoot.Match(v) {
			return fmt.Errorf("adb: root: %s", strings.TrimSpace(string(v)))
		}
		return nil
	case adbproto.FAIL:
		return c.Parser.ReadError()
	default:
		return c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

// Remount executes "remount:", remounting /system read-write.
func Remount(c *adb.Connection) error {
	return expectOKAY(c, "remount:")
}

var reRestartingIn = regexp.MustCompile(`restarting in`)

// TCPIP executes "tcpip:PORT", switching the device to listen for adb over
// TCP on the given port.
func TCPIP(c *adb.Connection, port int) error {
	return expectRestarting(c, fmt.Sprintf("tcpip:%d", port))
}

// USB executes "usb:", switching the device back to USB transport.
func USB(c *adb.Connection) error {
	return expectRestarting(c, "usb:")
}

func expectRestarting(c *adb.Connection, req string) error {
	tag, err := send(c, req)
	if err != nil {
		return err
	}
	switch tag {
	case adbproto.OKAY:
		v, err := c.Parser.ReadAll()
		if err != nil {
			return err
		}
		if !reRestartingIn.Match(v) {
			return fmt.Errorf("adb: %s", strings.TrimSpace(string(v)))
		}
		return nil
	case adbproto.FAIL:
		return c.Parser.ReadError()
	default:
		return c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

var reProp = regexp.MustCompile(`(?m)^\[([\s\S]*?)\]: \[([\s\S]*?)\]\r?$`)

// GetProp runs "getprop" in a shell and parses its "[key]: [value]" output.
func GetProp(c *adb.Connection) (map[string]string, error) {
	r, err := Shell(c, "getprop")
	if err != nil {
		return nil, err
	}
	data, err := readAllRaw(r)
	if err != nil {
		return nil, err
	}
	props := map[string]string{}
	for _, m := range reProp.FindAllStringSubmatch(string(data), -1) {
		props[m[1]] = m[2]
	}
	return props, nil
}

var rePackage = regexp.MustCompile(`(?m)^package:(.*?)\r?$`)

// ListPackages runs "pm list packages" in a shell.
func ListPackages(c *adb.Connection) ([]string, error) {
	r, err := Shell(c, "pm list packages 2>/dev/null")
	if err != nil {
		return nil, err
	}
	data, err := readAllRaw(r)
	if err != nil {
		return nil, err
	}
	var pkgs []string
	for _, m := range rePackage.FindAllStringSubmatch(string(data), -1) {
		pkgs = append(pkgs, m[1])
	}
	return pkgs, nil
}

var reFeature = regexp.MustCompile(`(?m)^feature:(.*?)(?:=(.*?))?\r?$`)

// ListFeatures runs "pm list features" in a shell.
func ListFeatures(c *adb.Connection) (map[string]string, error) {
	r, err := Shell(c, "pm list features 2>/dev/null")
	if err != nil {
		return nil, err
	}
	data, err := readAllRaw(r)
	if err != nil {
		return nil, err
	}
	features := map[string]string{}
	for _, m := range reFeature.FindAllStringSubmatch(string(data), -1) {
		v := m[2]
		if v == "" {
			v = "true"
		}
		features[m[1]] = v
	}
	return features, nil
}

func readAllRaw(r *bufio.Reader) ([]byte, error) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			return out, nil // EOF ends the shell stream; not an error here
		}
	}
}

// Install runs "pm install -r PATH" against an APK already pushed to the
// device filesystem (push it first with pkg/adb/sync).
func Install(c *adb.Connection, remotePath string) error {
	r, err := Shell(c, "pm install -r "+shellQuote(remotePath))
	if err != nil {
		return err
	}
	line, err := findLine(r, regexp.MustCompile(`^(Success|Failure \[(.*?)\])$`))
	if err != nil {
		return err
	}
	if line == nil {
		return fmt.Errorf("adb: install: no result line from pm")
	}
	if line[1] == "Success" {
		return nil
	}
	return &adb.InstallError{Code: line[2]}
}

// Uninstall runs "pm uninstall PKG".
func Uninstall(c *adb.Connection, pkg string) error {
	r, err := Shell(c, "pm uninstall "+pkg)
	if err != nil {
		return err
	}
	_, err = findLine(r, regexp.MustCompile(`^(Success|Failure.*|.*Unknown package:.*)$`))
	return err
}

// Clear runs "pm clear PKG", wiping the app's data.
func Clear(c *adb.Connection, pkg string) error {
	r, err := Shell(c, "pm clear "+pkg)
	if err != nil {
		return err
	}
	line, err := findLine(r, regexp.MustCompile(`^(Success|Failed)$`))
	if err != nil {
		return err
	}
	if line == nil || line[1] != "Success" {
		return fmt.Errorf("adb: clear: package %q could not be cleared", pkg)
	}
	return nil
}

// IsInstalled runs "pm path PKG" and reports whether the package resolves
// to an installed APK.
func IsInstalled(c *adb.Connection, pkg string) (bool, error) {
	tag, err := send(c, "shell:pm path "+pkg+" 2>/dev/null")
	if err != nil {
		return false, err
	}
	switch tag {
	case adbproto.OKAY:
		reply, err := c.Parser.ReadASCII(8)
		if err != nil {
			if _, ok := err.(*adb.PrematureEOFError); ok {
				return false, nil
			}
			return false, err
		}
		if reply == "package:" {
			return true, nil
		}
		return false, c.Parser.Unexpected(reply, `"package:"`)
	case adbproto.FAIL:
		return false, c.Parser.ReadError()
	default:
		return false, c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

func findLine(r *bufio.Reader, re *regexp.Regexp) ([]string, error) {
	for {
		line, err := r.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if m := re.FindStringSubmatch(trimmed); m != nil {
			return m, nil
		}
		if err != nil {
			return nil, nil
		}
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Reverse is one entry from ListReverse: a remote-to-local socket mapping
// registered on the device side.
type Reverse struct {
	Remote string
	Local  string
}

// AddReverse executes "reverse:forward:REMOTE;LOCAL".
func AddReverse(c *adb.Connection, remote, local string) error {
	req := fmt.Sprintf("reverse:forward:%s;%s", remote, local)
	tag, err := send(c, req)
	if err != nil {
		return err
	}
	switch tag {
	case adbproto.OKAY:
		tag2, err := c.Parser.ReadASCII(4)
		if err != nil {
			return err
		}
		switch tag2 {
		case adbproto.OKAY:
			return nil
		case adbproto.FAIL:
			return c.Parser.ReadError()
		default:
			return c.Parser.Unexpected(tag2, "OKAY or FAIL")
		}
	case adbproto.FAIL:
		return c.Parser.ReadError()
	default:
		return c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

// ListReverse executes "reverse:list-forward".
func ListReverse(c *adb.Connection) ([]Reverse, error) {
	tag, err := send(c, "reverse:list-forward")
	if err != nil {
		return nil, err
	}
	switch tag {
	case adbproto.OKAY:
		v, err := c.Parser.ReadValue()
		if err != nil {
			return nil, err
		}
		var out []Reverse
		for _, line := range strings.Split(string(v), "\n") {
			if line == "" {
				continue
			}
			f := strings.Fields(line)
			if len(f) != 3 {
				continue
			}
			out = append(out, Reverse{Remote: f[1], Local: f[2]})
		}
		return out, nil
	case adbproto.FAIL:
		return nil, c.Parser.ReadError()
	default:
		return nil, c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

// Sync executes "sync:", switching the connection into sync-protocol mode.
// The Connection's Parser is left live (Raw is not called); pkg/adb/sync.New
// takes the Connection directly.
func Sync(c *adb.Connection) error {
	return expectOKAY(c, "sync:")
}

// Local opens "localfilesystem:PATH" (or path verbatim, if it already
// contains a colon-delimited scheme), returning the raw connected stream.
func Local(c *adb.Connection, path string) (*bufio.Reader, error) {
	req := path
	if !strings.Contains(path, ":") {
		req = "localfilesystem:" + path
	}
	return rawStream(c, req)
}

// TCP opens "tcp:PORT" or "tcp:PORT:HOST" on the device.
func TCP(c *adb.Connection, port int, host string) (*bufio.Reader, error) {
	req := fmt.Sprintf("tcp:%d", port)
	if host != "" {
		req += ":" + host
	}
	return rawStream(c, req)
}

// Log opens "log:NAME", one of the device's persistent log buffers.
func Log(c *adb.Connection, name string) (*bufio.Reader, error) {
	return rawStream(c, "log:"+name)
}

func rawStream(c *adb.Connection, req string) (*bufio.Reader, error) {
	tag, err := send(c, req)
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

// Logcat starts "logcat -B *:I", optionally clearing the buffer first. The
// leading "echo" primes the stream with a single newline so the caller can
// auto-detect whether the shell is emitting bare LF or CRLF line endings.
func Logcat(c *adb.Connection, clear bool) (*bufio.Reader, error) {
	cmd := "logcat -B *:I 2>/dev/null"
	if clear {
		cmd = "logcat -c 2>/dev/null && " + cmd
	}
	return Shell(c, "echo && "+cmd)
}

// Framebuffer opens "framebuffer:", returning the parsed header followed by
// the raw, undecoded pixel stream.
func Framebuffer(c *adb.Connection) (framebuffer.Header, *bufio.Reader, error) {
	tag, err := send(c, "framebuffer:")
	if err != nil {
		return framebuffer.Header{}, nil, err
	}
	switch tag {
	case adbproto.OKAY:
		hb, err := c.Parser.ReadBytes(framebuffer.HeaderSize)
		if err != nil {
			return framebuffer.Header{}, nil, err
		}
		h, err := framebuffer.DecodeHeader(hb)
		if err != nil {
			return framebuffer.Header{}, nil, err
		}
		return h, c.Parser.Raw(), nil
	case adbproto.FAIL:
		return framebuffer.Header{}, nil, c.Parser.ReadError()
	default:
		return framebuffer.Header{}, nil, c.Parser.Unexpected(tag, "OKAY or FAIL")
	}
}

// Screencap runs "screencap -p" and returns the raw PNG stream. As with
// Logcat, the leading "echo" lets the caller auto-detect the shell's line
// ending convention before decoding the (binary, but shell-filtered)
// output.
func Screencap(c *adb.Connection) (*bufio.Reader, error) {
	return Shell(c, "echo && screencap -p 2>/dev/null")
}

// WaitBootComplete blocks until the device reports sys.boot_completed=1.
func WaitBootComplete(c *adb.Connection) error {
	r, err := Shell(c, "while getprop sys.boot_completed 2>/dev/null; do sleep 1; done")
	if err != nil {
		return err
	}
	_, err = findLine(r, regexp.MustCompile(`^1$`))
	return err
}

// Monkey starts "monkey --port PORT -v" for UI/application exerciser
// server mode, returning the raw shell stream as soon as the shell command
// is accepted. It does not wait for or check the server's announcement.
func Monkey(c *adb.Connection, port int) (*bufio.Reader, error) {
	return Shell(c, fmt.Sprintf("EXTERNAL_STORAGE=/data/local/tmp monkey --port %d -v", port))
}

// TrackJDWP executes "track-jdwp" and hands the raw pid-list change-stream
// reader to the caller.
func TrackJDWP(c *adb.Connection) (*bufio.Reader, error) {
	tag, err := send(c, "track-jdwp")
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

// IntentExtra is one "--es"/"--ei"/... argument to am start/startservice.
type IntentExtra struct {
	Key   string
	Type  string // "string", "null", "bool", "int", "long", "float", "uri", "component"
	Value string
}

// IntentOptions describes an Android Intent for StartActivity/StartService.
type IntentOptions struct {
	Action    string
	Data      string
	MimeType  string
	Category  []string
	Component string
	Flags     string
	Extras    []IntentExtra
	Debug     bool
	Wait      bool
	User      string
}

var intentExtraTypes = map[string]string{
	"string": "s", "null": "sn", "bool": "z", "int": "i",
	"long": "l", "float": "f", "uri": "u", "component": "cn",
}

func (o IntentOptions) args() ([]string, error) {
	var args []string
	for _, e := range o.Extras {
		typ := e.Type
		if typ == "" {
			typ = "string"
		}
		code, ok := intentExtraTypes[typ]
		if !ok {
			return nil, fmt.Errorf("adb: unsupported extra type %q for %q", typ, e.Key)
		}
		if typ == "null" {
			args = append(args, "--e"+code, shellQuote(e.Key))
		} else {
			args = append(args, "--e"+code, shellQuote(e.Key), shellQuote(e.Value))
		}
	}
	if o.Action != "" {
		args = append(args, "-a", shellQuote(o.Action))
	}
	if o.Data != "" {
		args = append(args, "-d", shellQuote(o.Data))
	}
	if o.MimeType != "" {
		args = append(args, "-t", shellQuote(o.MimeType))
	}
	for _, cat := range o.Category {
		args = append(args, "-c", shellQuote(cat))
	}
	if o.Component != "" {
		args = append(args, "-n", shellQuote(o.Component))
	}
	if o.Flags != "" {
		args = append(args, "-f", shellQuote(o.Flags))
	}
	return args, nil
}

var reAMError = regexp.MustCompile(`^Error: (.*)$`)

// StartActivity runs "am start" with the given intent options.
func StartActivity(c *adb.Connection, o IntentOptions) error {
	args, err := o.args()
	if err != nil {
		return err
	}
	if o.Debug {
		args = append(args, "-D")
	}
	if o.Wait {
		args = append(args, "-W")
	}
	if o.User != "" {
		args = append(args, "--user", shellQuote(o.User))
	}
	return runAM(c, "start", args)
}

// StartService runs "am startservice" with the given intent options.
func StartService(c *adb.Connection, o IntentOptions) error {
	args, err := o.args()
	if err != nil {
		return err
	}
	if o.User != "" {
		args = append(args, "--user", shellQuote(o.User))
	}
	return runAM(c, "startservice", args)
}

func runAM(c *adb.Connection, subcommand string, args []string) error {
	r, err := Shell(c, "am "+subcommand+" "+strings.Join(args, " "))
	if err != nil {
		return err
	}
	for {
		line, rerr := r.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if m := reAMError.FindStringSubmatch(trimmed); m != nil {
			return fmt.Errorf("adb: am %s: %s", subcommand, m[1])
		}
		if rerr != nil {
			return nil
		}
	}
}
