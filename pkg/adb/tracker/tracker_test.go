package tracker_test

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/pg9182/adbkit/pkg/adb/tracker"
)

func writeSnapshot(t *testing.T, w net.Conn, body string) {
	t.Helper()
	lenStr := make([]byte, 4)
	n := len(body)
	const hex = "0123456789ABCDEF"
	for i := 3; i >= 0; i-- {
		lenStr[i] = hex[n&0xF]
		n >>= 4
	}
	w.Write(lenStr)
	w.Write([]byte(body))
}

func TestTrackerDiff(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		writeSnapshot(t, server, "emulator-5554\tdevice\n")
		writeSnapshot(t, server, "emulator-5554\tdevice\nABC123\tdevice\n")
		writeSnapshot(t, server, "ABC123\tdevice\n")
		server.Close()
	}()

	tr := tracker.New(bufio.NewReader(client))

	cs1 := <-tr.Changes()
	if len(cs1.Added) != 1 || cs1.Added[0].Serial != "emulator-5554" {
		t.Fatalf("snapshot 1: got %+v", cs1)
	}

	cs2 := <-tr.Changes()
	if len(cs2.Added) != 1 || cs2.Added[0].Serial != "ABC123" {
		t.Fatalf("snapshot 2: got %+v", cs2)
	}

	cs3 := <-tr.Changes()
	if len(cs3.Removed) != 1 || cs3.Removed[0].Serial != "emulator-5554" {
		t.Fatalf("snapshot 3: got %+v", cs3)
	}

	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("tracker did not finish")
	}
	if tr.Err() != nil {
		t.Fatalf("unexpected error: %v", tr.Err())
	}
}
