package model

import (
	"encoding/json"
	"testing"
)

func TestDecodePayloadCopyPasteKeepsGestureKey(t *testing.T) {
	raw, err := json.Marshal(&InputPayload{Surface: SurfaceText, Key: "copy"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := DecodePayload(EventCopyPaste, "", raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	in, ok := decoded.(*InputPayload)
	if !ok {
		t.Fatalf("copy_paste decoded as %T, want *InputPayload", decoded)
	}
	if in.Key != "copy" || in.Surface != SurfaceText {
		t.Fatalf("gesture fields lost: %+v", in)
	}
}

func TestDecodePayloadClipboardSuspicious(t *testing.T) {
	raw, err := json.Marshal(&PastePayload{Surface: SurfaceCode, Delta: 120, PriorLength: 40, Ratio: 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := DecodePayload(EventClipboardSuspicious, "", raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, ok := decoded.(*PastePayload)
	if !ok {
		t.Fatalf("clipboard_suspicious decoded as %T, want *PastePayload", decoded)
	}
	if p.Delta != 120 || p.PriorLength != 40 {
		t.Fatalf("paste fields lost: %+v", p)
	}
}

func TestDecodePayloadSuspiciousActivityBySubtype(t *testing.T) {
	audio, _ := json.Marshal(&AudioPayload{RMS: 0.4, Threshold: 0.2})
	decoded, err := DecodePayload(EventSuspiciousActivity, SubtypeBackgroundNoise, audio)
	if err != nil {
		t.Fatalf("decode audio: %v", err)
	}
	if _, ok := decoded.(*AudioPayload); !ok {
		t.Fatalf("background_noise decoded as %T", decoded)
	}

	focus, _ := json.Marshal(&BehaviorPayload{Metric: "focus_percent", Value: 0.3})
	decoded, err = DecodePayload(EventSuspiciousActivity, SubtypeLowFocus, focus)
	if err != nil {
		t.Fatalf("decode focus: %v", err)
	}
	if _, ok := decoded.(*BehaviorPayload); !ok {
		t.Fatalf("low_focus decoded as %T", decoded)
	}
}

func TestDecodePayloadEmptyAndUnknown(t *testing.T) {
	if p, err := DecodePayload(EventTabSwitch, "", nil); err != nil || p != nil {
		t.Fatalf("empty payload: %v %v", p, err)
	}
	if _, err := DecodePayload(EventType("bogus"), "", []byte("{}")); err == nil {
		t.Fatal("unknown event type must fail")
	}
}
