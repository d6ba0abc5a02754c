package codec

import (
	"testing"

	"github.com/brennhill/tracebackbone/internal/errs"
	"github.com/brennhill/tracebackbone/internal/types"
)

func validEvent() types.Event {
	return types.Event{
		ID:        "e1",
		Timestamp: 1000,
		SessionID: "s1",
		AgentID:   "a1",
		Type:      types.AgentSpawn,
		Metadata:  types.Metadata{Severity: types.SeverityLow},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := validEvent()
	data, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != e.ID || got.SessionID != e.SessionID || got.Type != e.Type {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, e)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	e := validEvent()
	e.Payload = map[string]any{"z": 1, "a": 2, "m": map[string]any{"y": 1, "b": 2}}
	a, err := Encode(e)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(e)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatalf("encoding not deterministic:\n%s\nvs\n%s", a, b)
	}
	if Checksum(a) != Checksum(b) {
		t.Fatalf("checksum not stable across identical encodings")
	}
}

func TestDecodeMissingRequiredFieldsFails(t *testing.T) {
	_, err := Decode([]byte(`{"session_id":"s1","type":"AGENT_SPAWN"}`))
	if err == nil {
		t.Fatal("expected error for missing id/timestamp")
	}
	if errs.KindOf(err) != errs.InvalidEvent {
		t.Fatalf("expected INVALID_EVENT, got %v", errs.KindOf(err))
	}
}

func TestChecksumLength(t *testing.T) {
	sum := Checksum([]byte("hello"))
	if len(sum) != 16 {
		t.Fatalf("expected 16 hex chars, got %d: %q", len(sum), sum)
	}
}

func TestGzipRoundTrip(t *testing.T) {
	data := []byte(`{"hello":"world"}`)
	compressed, err := Gzip(data)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Gunzip(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(data) {
		t.Fatalf("gunzip mismatch: got %q", out)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"id":"e1"}`)
	frame := EncodeFrame(FrameTraceEvent, payload)
	typ, got, err := DecodeFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	if typ != FrameTraceEvent || string(got) != string(payload) {
		t.Fatalf("frame round trip mismatch: type=%v payload=%q", typ, got)
	}
}

func TestFrameRejectsChecksumMismatch(t *testing.T) {
	frame := EncodeFrame(FrameTraceEvent, []byte("abc"))
	frame[len(frame)-1] ^= 0xFF // corrupt the payload after checksum is computed
	if _, _, err := DecodeFrame(frame); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestFrameRejectsTooShort(t *testing.T) {
	if _, _, err := DecodeFrame([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected too-short error")
	}
}
