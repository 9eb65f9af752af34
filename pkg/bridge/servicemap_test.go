package bridge

import "testing"

func TestServiceMapInsertGetRemove(t *testing.T) {
	m := NewServiceMap()
	svc := &Service{localID: 1, remoteID: 2, ack: make(chan struct{}, 1)}
	m.Insert(1, svc)

	if m.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", m.Count())
	}
	if got := m.Get(1); got != svc {
		t.Fatalf("Get(1) = %v, want %v", got, svc)
	}
	if got := m.Remove(1); got != svc {
		t.Fatalf("Remove(1) = %v, want %v", got, svc)
	}
	if m.Get(1) != nil {
		t.Fatalf("Get(1) after Remove should be nil")
	}
}

func TestServiceMapInsertDuplicatePanics(t *testing.T) {
	m := NewServiceMap()
	m.Insert(1, &Service{ack: make(chan struct{}, 1)})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic inserting duplicate localID")
		}
	}()
	m.Insert(1, &Service{ack: make(chan struct{}, 1)})
}

func TestServiceMapEnd(t *testing.T) {
	m := NewServiceMap()
	// ended=true keeps Service.End from touching socket.conn, which is nil
	// in this unit test.
	socket := &Socket{closed: make(chan struct{}), ended: true}
	svc := newService(socket, 1, 2)
	m.Insert(1, svc)

	m.End()

	if m.Count() != 0 {
		t.Fatalf("Count() after End() = %d, want 0", m.Count())
	}
	svc.mu.Lock()
	ended := svc.ended
	svc.mu.Unlock()
	if !ended {
		t.Fatalf("service not marked ended after ServiceMap.End()")
	}
}
