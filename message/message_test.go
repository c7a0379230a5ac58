package message

import "testing"

func TestPoolIndexPresentAsInt(t *testing.T) {
	m := &Message{Metadata: map[string]any{"poolIndex": 2}}
	idx, ok := m.PoolIndex()
	if !ok || idx != 2 {
		t.Fatalf("PoolIndex() = (%d, %v), want (2, true)", idx, ok)
	}
}

func TestPoolIndexPresentAsFloat64(t *testing.T) {
	// json.Unmarshal into map[string]any always produces float64 for
	// numbers, so a REGISTER decoded off the wire needs this to work too.
	m := &Message{Metadata: map[string]any{"poolIndex": float64(3)}}
	idx, ok := m.PoolIndex()
	if !ok || idx != 3 {
		t.Fatalf("PoolIndex() = (%d, %v), want (3, true)", idx, ok)
	}
}

func TestPoolIndexAbsent(t *testing.T) {
	m := &Message{}
	if _, ok := m.PoolIndex(); ok {
		t.Fatal("PoolIndex() reported present on a nil-metadata message")
	}
	m = &Message{Metadata: map[string]any{"other": 1}}
	if _, ok := m.PoolIndex(); ok {
		t.Fatal("PoolIndex() reported present for unrelated metadata key")
	}
}

func TestPoolIndexNonIntegerValueIgnored(t *testing.T) {
	m := &Message{Metadata: map[string]any{"poolIndex": "not-a-number"}}
	if _, ok := m.PoolIndex(); ok {
		t.Fatal("PoolIndex() accepted a non-numeric value")
	}
}

func TestWithPoolIndexRoundTrip(t *testing.T) {
	m := &Message{Metadata: WithPoolIndex(5)}
	idx, ok := m.PoolIndex()
	if !ok || idx != 5 {
		t.Fatalf("PoolIndex() = (%d, %v), want (5, true)", idx, ok)
	}
}
