// Package tracker consumes the change-set stream started by
// host.TrackDevices, turning the daemon's periodic device-list snapshots
// into added/removed/changed diffs.
package tracker

import (
	"bufio"
	"strings"
	"sync"

	"github.com/pg9182/adbkit/pkg/adb/adbproto"
	"github.com/pg9182/adbkit/pkg/adb/host"
)

// ChangeSet is one diff between the previous and current device snapshot.
type ChangeSet struct {
	Added   []host.Device
	Removed []host.Device
	Changed []host.Device
}

// Tracker reads host.TrackDevices' stream in a background goroutine and
// republishes each snapshot as a ChangeSet.
type Tracker struct {
	r *bufio.Reader

	mu      sync.Mutex
	current map[string]host.Device
	changes chan ChangeSet
	err     error
	done    chan struct{}
}

// New starts tracking from r, the raw reader handed back by
// host.TrackDevices.
func New(r *bufio.Reader) *Tracker {
	t := &Tracker{
		r:       r,
		current: map[string]host.Device{},
		changes: make(chan ChangeSet, 8),
		done:    make(chan struct{}),
	}
	go t.run()
	return t
}

// Changes yields a ChangeSet each time the daemon sends an updated device
// list. The channel closes when the stream ends or errors; call Err after
// it closes to distinguish a clean close from an error.
func (t *Tracker) Changes() <-chan ChangeSet { return t.changes }

// Done closes when the tracker's read loop exits.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// Err returns the error that ended the stream, if any. Valid after Done
// closes.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Tracker) run() {
	defer close(t.changes)
	defer close(t.done)
	for {
		list, err := t.readSnapshot()
		if err != nil {
			t.mu.Lock()
			t.err = err
			t.mu.Unlock()
			return
		}
		if list == nil {
			return // clean EOF
		}
		t.changes <- t.diff(list)
	}
}

func (t *Tracker) readSnapshot() ([]host.Device, error) {
	lenBuf := make([]byte, 4)
	if _, err := readFull(t.r, lenBuf); err != nil {
		return nil, nil
	}
	n, err := adbproto.DecodeLength(string(lenBuf))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := readFull(t.r, buf); err != nil {
		return nil, err
	}
	return parseDeviceList(buf), nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	got := 0
	for got < len(buf) {
		n, err := r.Read(buf[got:])
		got += n
		if err != nil {
			return got, err
		}
	}
	return got, nil
}

func parseDeviceList(b []byte) []host.Device {
	var out []host.Device
	for _, line := range strings.Split(string(b), "\n") {
		if line == "" {
			continue
		}
		f := strings.Fields(line)
		if len(f) < 2 {
			continue
		}
		out = append(out, host.Device{Serial: f[0], State: f[1]})
	}
	return out
}

func (t *Tracker) diff(list []host.Device) ChangeSet {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cs ChangeSet
	newMap := make(map[string]host.Device, len(list))
	for _, d := range list {
		newMap[d.Serial] = d
		old, ok := t.current[d.Serial]
		switch {
		case !ok:
			cs.Added = append(cs.Added, d)
		case old.State != d.State:
			cs.Changed = append(cs.Changed, d)
		}
	}
	for serial, d := range t.current {
		if _, ok := newMap[serial]; !ok {
			cs.Removed = append(cs.Removed, d)
		}
	}
	t.current = newMap
	return cs
}
