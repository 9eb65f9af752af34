package transport_test

import (
	"bufio"
	"io"
	"net"
	"testing"

	"github.com/pg9182/adbkit/pkg/adb/adbtest"
	"github.com/pg9182/adbkit/pkg/adb/transport"
)

func TestShell(t *testing.T) {
	d := adbtest.New(t, func(r *bufio.Reader, w net.Conn) {
		req, err := adbtest.ReadRequest(r)
		if err != nil {
			t.Errorf("read request: %v", err)
			return
		}
		if req != "shell:echo hi" {
			t.Errorf("got request %q", req)
		}
		if err := adbtest.WriteTag(w, "OKAY"); err != nil {
			t.Errorf("write reply: %v", err)
			return
		}
		w.Write([]byte("hi\n"))
		w.Close()
	})
	r, err := transport.Shell(d.Conn(), "echo hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := io.ReadAll(r)
	if string(data) != "hi\n" {
		t.Fatalf("got %q", data)
	}
}

func TestGetProp(t *testing.T) {
	d := adbtest.New(t, func(r *bufio.Reader, w net.Conn) {
		if _, err := adbtest.ReadRequest(r); err != nil {
			t.Errorf("read request: %v", err)
			return
		}
		if err := adbtest.WriteTag(w, "OKAY"); err != nil {
			t.Errorf("write reply: %v", err)
			return
		}
		w.Write([]byte("[ro.product.model]: [sdk_gphone]\n[ro.build.version.sdk]: [30]\n"))
		w.Close()
	})
	props, err := transport.GetProp(d.Conn())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if props["ro.product.model"] != "sdk_gphone" || props["ro.build.version.sdk"] != "30" {
		t.Fatalf("got %+v", props)
	}
}

func TestListPackages(t *testing.T) {
	d := adbtest.New(t, func(r *bufio.Reader, w net.Conn) {
		if _, err := adbtest.ReadRequest(r); err != nil {
			t.Errorf("read request: %v", err)
			return
		}
		if err := adbtest.WriteTag(w, "OKAY"); err != nil {
			t.Errorf("write reply: %v", err)
			return
		}
		w.Write([]byte("package:com.android.chrome\npackage:com.example.app\n"))
		w.Close()
	})
	pkgs, err := transport.ListPackages(d.Conn())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pkgs) != 2 || pkgs[0] != "com.android.chrome" {
		t.Fatalf("got %+v", pkgs)
	}
}

func TestInstallSuccess(t *testing.T) {
	d := adbtest.New(t, func(r *bufio.Reader, w net.Conn) {
		if _, err := adbtest.ReadRequest(r); err != nil {
			t.Errorf("read request: %v", err)
			return
		}
		if err := adbtest.WriteTag(w, "OKAY"); err != nil {
			t.Errorf("write reply: %v", err)
			return
		}
		w.Write([]byte("pkg: /data/app/x.apk\nSuccess\n"))
		w.Close()
	})
	if err := transport.Install(d.Conn(), "/data/local/tmp/x.apk"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInstallFailure(t *testing.T) {
	d := adbtest.New(t, func(r *bufio.Reader, w net.Conn) {
		if _, err := adbtest.ReadRequest(r); err != nil {
			t.Errorf("read request: %v", err)
			return
		}
		if err := adbtest.WriteTag(w, "OKAY"); err != nil {
			t.Errorf("write reply: %v", err)
			return
		}
		w.Write([]byte("Failure [INSTALL_FAILED_ALREADY_EXISTS]\n"))
		w.Close()
	})
	err := transport.Install(d.Conn(), "/data/local/tmp/x.apk")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestIsInstalledFalseOnEOF(t *testing.T) {
	d := adbtest.New(t, func(r *bufio.Reader, w net.Conn) {
		if _, err := adbtest.ReadRequest(r); err != nil {
			t.Errorf("read request: %v", err)
			return
		}
		if err := adbtest.WriteTag(w, "OKAY"); err != nil {
			t.Errorf("write reply: %v", err)
			return
		}
		w.Close()
	})
	ok, err := transport.IsInstalled(d.Conn(), "com.example.app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected false")
	}
}
