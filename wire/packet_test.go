package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeSingleSlot(t *testing.T) {
	slots := []Slot{{MsgSeq: 7, Type: App, Payload: []byte("ping")}}
	body := EncodeBody(slots)

	decoded, err := DecodeBody(App, 1, body)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if len(decoded) != 1 || decoded[0].MsgSeq != 7 || !bytes.Equal(decoded[0].Payload, []byte("ping")) {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestEncodeDecodeMultiSlot(t *testing.T) {
	slots := []Slot{
		{MsgSeq: 1, Type: App, Payload: []byte("a")},
		{MsgSeq: 2, Type: AppFragment, Payload: []byte("bb")},
		{MsgSeq: 3, Type: App, Payload: []byte("ccc")},
	}
	body := EncodeBody(slots)

	decoded, err := DecodeBody(App, uint8(len(slots)), body)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if len(decoded) != len(slots) {
		t.Fatalf("got %d slots, want %d", len(decoded), len(slots))
	}
	for i, s := range slots {
		if decoded[i].MsgSeq != s.MsgSeq || decoded[i].Type != s.Type || !bytes.Equal(decoded[i].Payload, s.Payload) {
			t.Errorf("slot %d = %+v, want %+v", i, decoded[i], s)
		}
	}
}

func TestSlotOverhead(t *testing.T) {
	if SlotOverhead(1) != 2 {
		t.Errorf("SlotOverhead(1) = %d, want 2", SlotOverhead(1))
	}
	if SlotOverhead(2) != 5 {
		t.Errorf("SlotOverhead(2) = %d, want 5", SlotOverhead(2))
	}
}

func TestDecodeBodyTruncated(t *testing.T) {
	slots := []Slot{
		{MsgSeq: 1, Type: App, Payload: []byte("hello")},
		{MsgSeq: 2, Type: App, Payload: []byte("world")},
	}
	body := EncodeBody(slots)
	if _, err := DecodeBody(App, 2, body[:len(body)-1]); err == nil {
		t.Error("expected error decoding truncated multi-slot body")
	}
}
