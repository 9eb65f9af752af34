// Command adbkit is a CLI over pkg/adb (talking to a running adb daemon)
// and pkg/bridge (exposing a device to TCP/IP clients as if it were a
// local USB daemon connection).
package main

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/hashicorp/go-envparse"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pg9182/adbkit/internal/buildinfo"
	"github.com/pg9182/adbkit/pkg/adb"
	"github.com/pg9182/adbkit/pkg/adb/auth"
	"github.com/pg9182/adbkit/pkg/adb/framebuffer"
	"github.com/pg9182/adbkit/pkg/adb/host"
	"github.com/pg9182/adbkit/pkg/adb/keystore"
	"github.com/pg9182/adbkit/pkg/bridge"
)

// env holds the environment this process configures itself from: either
// os.Environ(), or (with -e/--env-file) the contents of an env file,
// following the same env-file-overrides-environment idiom as cmd/atlas.
var env []string

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	globals := pflag.NewFlagSet("adbkit", pflag.ContinueOnError)
	globals.ParseErrorsWhitelist.UnknownFlags = true
	globals.SetInterspersed(false)
	envFile := globals.StringP("env-file", "e", "", "load configuration from an env file instead of the environment")
	globals.Parse(os.Args[1:])

	if *envFile != "" {
		e, err := readEnv(*envFile)
		if err != nil {
			fatalf("read env file: %v", err)
		}
		env = e
	} else {
		env = os.Environ()
	}

	rest := globals.Args()
	if len(rest) < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := adb.ConfigFromEnviron(env)
	if err != nil {
		fatalf("parse config: %v", err)
	}
	cl := adb.NewClient(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := rest[0], rest[1:]
	switch cmd {
	case "devices":
		runDevices(ctx, cl, args)
	case "shell":
		runShell(ctx, cl, args)
	case "install":
		runInstall(ctx, cl, args)
	case "push":
		runPush(ctx, cl, args)
	case "pull":
		runPull(ctx, cl, args)
	case "forward":
		runForward(ctx, cl, args)
	case "reverse":
		runReverse(ctx, cl, args)
	case "track":
		runTrack(ctx, cl, args)
	case "bridge":
		runBridge(ctx, cl, args)
	case "framebuffer":
		runFramebuffer(ctx, cl, args)
	case "logcat":
		runLogcat(ctx, cl, args)
	case "version":
		fmt.Println(buildinfo.String())
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s [-e env_file] <command> [options]

commands:
  devices [-l]
  shell <serial> <cmd...>
  install <serial> <apk>
  push <serial> <local> <remote>
  pull <serial> <remote> <local> [--gzip]
  forward <serial> <local> <remote>
  reverse <serial> <remote> <local>
  track
  bridge --addr HOST:PORT --keystore PATH [--max-conns N]
  framebuffer <serial> <out.png>
  logcat <serial> [--save FILE.gz]
  version

config env vars: ADB_HOST, ADB_PORT, ADB_BIN (client)
                 ADBKIT_BRIDGE_ADDR, ADBKIT_BRIDGE_KEYSTORE,
                 ADBKIT_BRIDGE_MAX_CONNS, ADBKIT_LOG_LEVEL,
                 ADBKIT_LOG_PRETTY (bridge)
`, os.Args[0])
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", a...)
	os.Exit(1)
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	return fs
}

func runDevices(ctx context.Context, cl *adb.Client, args []string) {
	fs := newFlagSet("devices")
	long := fs.BoolP("long", "l", false, "show device details")
	fs.Parse(args)

	devs, err := cl.Devices(ctx)
	if err != nil {
		fatalf("list devices: %v", err)
	}
	for _, d := range devs {
		if *long {
			fmt.Printf("%s\t%s\t%s\n", d.Serial, d.State, strings.Join(propPairs(d), " "))
		} else {
			fmt.Printf("%s\t%s\n", d.Serial, d.State)
		}
	}
}

func propPairs(d host.Device) []string {
	var out []string
	if d.Product != "" {
		out = append(out, "product:"+d.Product)
	}
	if d.Model != "" {
		out = append(out, "model:"+d.Model)
	}
	if d.Device != "" {
		out = append(out, "device:"+d.Device)
	}
	if d.TransportID != "" {
		out = append(out, "transport_id:"+d.TransportID)
	}
	return out
}

func runShell(ctx context.Context, cl *adb.Client, args []string) {
	if len(args) < 1 {
		fatalf("usage: shell <serial> <cmd...>")
	}
	serial, cmdArgs := args[0], args[1:]
	out, err := cl.Shell(ctx, serial, strings.Join(cmdArgs, " "))
	if err != nil {
		fatalf("shell: %v", err)
	}
	os.Stdout.Write(out)
}

func runInstall(ctx context.Context, cl *adb.Client, args []string) {
	if len(args) != 2 {
		fatalf("usage: install <serial> <apk>")
	}
	if err := cl.Install(ctx, args[0], args[1]); err != nil {
		fatalf("install: %v", err)
	}
}

func runPush(ctx context.Context, cl *adb.Client, args []string) {
	if len(args) != 3 {
		fatalf("usage: push <serial> <local> <remote>")
	}
	if err := cl.Push(ctx, args[0], args[1], args[2]); err != nil {
		fatalf("push: %v", err)
	}
}

func runPull(ctx context.Context, cl *adb.Client, args []string) {
	fs := newFlagSet("pull")
	useGzip := fs.Bool("gzip", false, "gzip-compress the local output file")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 3 {
		fatalf("usage: pull <serial> <remote> <local> [--gzip]")
	}
	serial, remote, local := rest[0], rest[1], rest[2]

	conn, t, err := cl.Pull(ctx, serial, remote)
	if err != nil {
		fatalf("pull: %v", err)
	}
	defer conn.Close()

	f, err := os.Create(local)
	if err != nil {
		fatalf("pull: create %s: %v", local, err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if *useGzip {
		gz = gzip.NewWriter(f)
		w = gz
	}
	if _, err := t.WriteTo(w); err != nil {
		fatalf("pull: %v", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			fatalf("pull: finish gzip: %v", err)
		}
	}
}

func runForward(ctx context.Context, cl *adb.Client, args []string) {
	if len(args) != 3 {
		fatalf("usage: forward <serial> <local> <remote>")
	}
	if err := cl.AddForward(ctx, args[0], args[1], args[2]); err != nil {
		fatalf("forward: %v", err)
	}
}

func runReverse(ctx context.Context, cl *adb.Client, args []string) {
	if len(args) != 3 {
		fatalf("usage: reverse <serial> <remote> <local>")
	}
	if err := cl.AddReverse(ctx, args[0], args[1], args[2]); err != nil {
		fatalf("reverse: %v", err)
	}
}

func runTrack(ctx context.Context, cl *adb.Client, args []string) {
	tr, err := cl.TrackDevices(ctx)
	if err != nil {
		fatalf("track: %v", err)
	}
	for cs := range tr.Changes() {
		for _, d := range cs.Added {
			fmt.Printf("+%s\t%s\n", d.Serial, d.State)
		}
		for _, d := range cs.Removed {
			fmt.Printf("-%s\t%s\n", d.Serial, d.State)
		}
		for _, d := range cs.Changed {
			fmt.Printf("~%s\t%s\n", d.Serial, d.State)
		}
	}
	if err := tr.Err(); err != nil {
		fatalf("track: %v", err)
	}
}

func runFramebuffer(ctx context.Context, cl *adb.Client, args []string) {
	if len(args) != 2 {
		fatalf("usage: framebuffer <serial> <out.png>")
	}
	serial, out := args[0], args[1]

	h, r, err := cl.Framebuffer(ctx, serial)
	if err != nil {
		fatalf("framebuffer: %v", err)
	}
	defer r.Close()

	rt, err := framebuffer.NewRGBTransform(h, r)
	if err != nil {
		fatalf("framebuffer: %v", err)
	}

	img := image.NewNRGBA(image.Rect(0, 0, int(h.Width), int(h.Height)))
	pixel := make([]byte, 3)
	for i := 0; i < int(h.Width)*int(h.Height); i++ {
		if _, err := io.ReadFull(rt, pixel); err != nil {
			fatalf("framebuffer: read pixel %d: %v", i, err)
		}
		o := i * 4
		img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = pixel[0], pixel[1], pixel[2], 0xff
	}

	f, err := os.Create(out)
	if err != nil {
		fatalf("framebuffer: create %s: %v", out, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		fatalf("framebuffer: encode png: %v", err)
	}
}

func runLogcat(ctx context.Context, cl *adb.Client, args []string) {
	fs := newFlagSet("logcat")
	save := fs.String("save", "", "save output to a gzip-compressed file instead of stdout")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		fatalf("usage: logcat <serial> [--save FILE.gz]")
	}
	serial := rest[0]

	r, err := cl.Logcat(ctx, serial, false)
	if err != nil {
		fatalf("logcat: %v", err)
	}
	defer r.Close()

	var w io.Writer = os.Stdout
	if *save != "" {
		f, err := os.Create(*save)
		if err != nil {
			fatalf("logcat: create %s: %v", *save, err)
		}
		defer f.Close()
		gz := gzip.NewWriter(f)
		defer gz.Close()
		w = gz
	}
	if _, err := io.Copy(w, r); err != nil && ctx.Err() == nil {
		fatalf("logcat: %v", err)
	}
}

func runBridge(ctx context.Context, cl *adb.Client, args []string) {
	fs := newFlagSet("bridge")
	addr := fs.String("addr", envOr("ADBKIT_BRIDGE_ADDR", ":5555"), "TCP address to listen on")
	keystorePath := fs.String("keystore", envOr("ADBKIT_BRIDGE_KEYSTORE", "adbkit-bridge.db"), "sqlite3 keystore path")
	maxConns := fs.Int("max-conns", envIntOr("ADBKIT_BRIDGE_MAX_CONNS", 0), "maximum concurrent client connections (0 = unlimited)")
	serial := fs.String("serial", "", "device serial to expose (default: the only attached device)")
	fs.Parse(args)

	log := newLogger()

	if *serial == "" {
		devs, err := cl.Devices(ctx)
		if err != nil {
			fatalf("bridge: list devices: %v", err)
		}
		if len(devs) != 1 {
			fatalf("bridge: --serial is required unless exactly one device is attached")
		}
		*serial = devs[0].Serial
	}

	ks, err := keystore.Open(*keystorePath)
	if err != nil {
		fatalf("bridge: open keystore: %v", err)
	}
	defer ks.Close()

	metrics := bridge.NewMetrics()
	ln, err := bridge.Listen(bridge.ListenerConfig{
		Addr:      *addr,
		MaxConns:  *maxConns,
		Authorize: keyAuthorizer(ks, log),
		Log:       log,
		Metrics:   metrics,
	}, cl, *serial)
	if err != nil {
		fatalf("bridge: listen: %v", err)
	}
	defer ln.Close()

	log.Info().Str("addr", ln.Addr().String()).Str("serial", *serial).Msg("bridge listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	if err := ln.Serve(); err != nil && ctx.Err() == nil {
		fatalf("bridge: serve: %v", err)
	}
}

// keyAuthorizer implements the enrollment policy described in the bridge's
// public-key authorization flow: previously enrolled keys are accepted
// silently, first-time keys are offered to the operator on stdin.
func keyAuthorizer(ks *keystore.Store, log zerolog.Logger) bridge.KeyAuthorizer {
	stdin := bufio.NewReader(os.Stdin)
	return func(key *auth.PublicKey) (bool, error) {
		ok, err := ks.Enrolled(key.Fingerprint)
		if err != nil {
			return false, err
		}
		if ok {
			return true, ks.Touch(key.Fingerprint)
		}
		fmt.Fprintf(os.Stderr, "new client key %s (%s): accept? [y/N] ", key.Fingerprint, key.Comment)
		line, _ := stdin.ReadString('\n')
		if strings.TrimSpace(strings.ToLower(line)) != "y" {
			log.Warn().Str("fingerprint", key.Fingerprint).Msg("rejected unenrolled key")
			return false, nil
		}
		return true, ks.Enroll(key.Fingerprint, key.Comment)
	}
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(envOr("ADBKIT_LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var w io.Writer = os.Stderr
	if envOr("ADBKIT_LOG_PRETTY", "") != "" {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func envOr(k, def string) string {
	if v, ok := getEnvList(k, env); ok && v != "" {
		return v
	}
	return def
}

func envIntOr(k string, def int) int {
	if v, ok := getEnvList(k, env); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvList(k string, e []string) (string, bool) {
	for _, x := range e {
		if xk, xv, ok := strings.Cut(x, "="); ok && xk == k {
			return xv, true
		}
	}
	return "", false
}

func readEnv(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	var r []string
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}
