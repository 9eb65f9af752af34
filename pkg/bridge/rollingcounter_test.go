package bridge

import "testing"

func TestRollingCounterWraps(t *testing.T) {
	c := NewRollingCounter(3, 1)
	want := []uint32{2, 3, 1, 2, 3, 1}
	for i, w := range want {
		if got := c.Next(); got != w {
			t.Fatalf("Next() #%d = %d, want %d", i, got, w)
		}
	}
}

func TestRollingCounterSingleValue(t *testing.T) {
	c := NewRollingCounter(1, 1)
	for i := 0; i < 3; i++ {
		if got := c.Next(); got != 1 {
			t.Fatalf("Next() = %d, want 1", got)
		}
	}
}
