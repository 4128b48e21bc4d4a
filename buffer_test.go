package modbus

import "testing"

func TestBufferPushAndSpan(t *testing.T) {
	var b buffer
	if !b.empty() {
		t.Fatal("new buffer should be empty")
	}
	for i, v := range []byte{1, 2, 3} {
		if !b.push(v) {
			t.Fatalf("push(%d) failed at index %d", v, i)
		}
	}
	if b.empty() {
		t.Fatal("buffer should not be empty after pushes")
	}
	if got := b.span(); len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("span() = %v, want [1 2 3]", got)
	}
	if b.end() != 3 {
		t.Fatalf("end() = %d, want 3", b.end())
	}
	b.clear()
	if !b.empty() || b.end() != 0 {
		t.Fatal("clear() should reset size to 0")
	}
}

func TestBufferPushFailsAtCapacity(t *testing.T) {
	var b buffer
	for i := 0; i < defaultFrameCapacity; i++ {
		if !b.push(byte(i)) {
			t.Fatalf("push failed before reaching capacity, at index %d", i)
		}
	}
	if b.push(0xFF) {
		t.Fatal("push should fail once the buffer is at capacity")
	}
}
