package codec

import (
	"reflect"
	"testing"

	"github.com/nirikshan/nestjs-ipc-bro/message"
)

func sampleCall() *message.Message {
	return &message.Message{
		Type:   message.TypeCall,
		ID:     "req-1000-abc123",
		From:   "B",
		To:     "A",
		Method: "echo",
		Params: map[string]any{"v": float64(42)},
		Context: &message.IPCContext{
			Root:     "root-1000-xyz789",
			Chain:    []string{"B"},
			Depth:    1,
			Deadline: 1234567890,
		},
	}
}

func TestCodecsRoundTrip(t *testing.T) {
	for _, codecType := range []Type{TypeJSON, TypeMsgpack} {
		codecType := codecType
		t.Run(string(rune('0'+codecType)), func(t *testing.T) {
			c := Get(codecType)
			in := sampleCall()

			data, err := c.Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			out, err := c.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}

			if out.Type != in.Type || out.ID != in.ID || out.From != in.From || out.To != in.To || out.Method != in.Method {
				t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
			}
			if !reflect.DeepEqual(out.Context, in.Context) {
				t.Fatalf("context mismatch: got %+v, want %+v", out.Context, in.Context)
			}
		})
	}
}

func TestMsgpackSmallerThanJSONForTypicalPayload(t *testing.T) {
	in := sampleCall()

	jsonData, err := Get(TypeJSON).Encode(in)
	if err != nil {
		t.Fatalf("json encode: %v", err)
	}
	packData, err := Get(TypeMsgpack).Encode(in)
	if err != nil {
		t.Fatalf("msgpack encode: %v", err)
	}

	if len(packData) == 0 || len(jsonData) == 0 {
		t.Fatalf("unexpected empty encoding")
	}
	if len(packData) >= len(jsonData) {
		t.Fatalf("msgpack encoding is %d bytes, want fewer than JSON's %d", len(packData), len(jsonData))
	}
}

func TestDecodeMalformedPayloadFails(t *testing.T) {
	if _, err := Get(TypeJSON).Decode([]byte("{not json")); err == nil {
		t.Fatal("expected decode error for malformed JSON")
	}
	if _, err := Get(TypeMsgpack).Decode([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatal("expected decode error for malformed msgpack")
	}
}

func TestDecodeZeroLengthPayloadIsLegal(t *testing.T) {
	for _, codecType := range []Type{TypeJSON, TypeMsgpack} {
		c := Get(codecType)
		m, err := c.Decode(nil)
		if err != nil {
			t.Fatalf("Decode(nil): %v", err)
		}
		if !reflect.DeepEqual(m, &message.Message{}) {
			t.Fatalf("Decode(nil) = %+v, want the empty Message", m)
		}

		m, err = c.Decode([]byte{})
		if err != nil {
			t.Fatalf("Decode([]byte{}): %v", err)
		}
		if !reflect.DeepEqual(m, &message.Message{}) {
			t.Fatalf("Decode([]byte{}) = %+v, want the empty Message", m)
		}
	}
}
