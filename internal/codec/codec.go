// Package codec implements the canonical on-disk and on-wire encoding for
// events and snapshots (§4.1): deterministic JSON with sorted top-level
// keys, a 16-hex-character SHA-256 checksum, and optional gzip framing.
// Grounded on the teacher's preference for small, composable encode/decode
// helpers over a generated-schema codec.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/klauspost/compress/gzip"

	"github.com/brennhill/tracebackbone/internal/errs"
	"github.com/brennhill/tracebackbone/internal/types"
)

// Encode canonicalizes e into deterministic JSON bytes: object keys are
// emitted in sorted order at every level, which for Go's map[string]any
// payload values happens naturally via encoding/json; the top-level Event
// struct's field order is fixed by its json tags, so canonicalization
// there means re-marshaling through a generic map so keys sort too.
func Encode(e types.Event) ([]byte, error) {
	if err := Validate(e); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidEvent, err)
	}
	return Canonicalize(raw)
}

// Canonicalize re-serializes arbitrary JSON bytes with every object's keys
// sorted, recursively. Array element order is preserved.
func Canonicalize(raw []byte) ([]byte, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, errs.Wrap(errs.InvalidEvent, err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, errs.Wrap(errs.InvalidEvent, err)
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// Decode parses canonical JSON bytes back into an Event, rejecting events
// missing any of the required fields (id, timestamp, session, type) with
// INVALID_EVENT (§4.1).
func Decode(data []byte) (types.Event, error) {
	var e types.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return types.Event{}, errs.Wrap(errs.InvalidEvent, err)
	}
	if err := Validate(e); err != nil {
		return types.Event{}, err
	}
	return e, nil
}

// Validate checks the required-field invariant independent of encoding.
func Validate(e types.Event) error {
	if e.ID == "" {
		return errs.New(errs.InvalidEvent, "missing id")
	}
	if e.Timestamp == 0 {
		return errs.New(errs.InvalidEvent, "missing timestamp")
	}
	if e.SessionID == "" {
		return errs.New(errs.InvalidEvent, "missing session_id")
	}
	if !types.IsValidEventType(e.Type) {
		return errs.New(errs.InvalidEvent, "missing or unknown type %q", e.Type)
	}
	return nil
}

// Checksum returns the first 16 hex characters of the SHA-256 digest of
// canonical bytes (§3 "Snapshot", §4.1).
func Checksum(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16]
}

// VerifyChecksum reports whether canonical matches the given checksum.
func VerifyChecksum(canonical []byte, checksum string) bool {
	return Checksum(canonical) == checksum
}

// Gzip compresses canonical bytes. Used by the collector/streaming wire
// path and by the snapshot manager above its compression threshold.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Gunzip reverses Gzip.
func Gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return buf.Bytes(), nil
}
