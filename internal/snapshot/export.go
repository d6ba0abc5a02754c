package snapshot

import (
	"context"

	"github.com/brennhill/tracebackbone/internal/codec"
	"github.com/brennhill/tracebackbone/internal/errs"
	"github.com/brennhill/tracebackbone/internal/types"
)

// exportedSnapshot is the wire shape of one snapshot record inside a
// Bundle, kept separate from types.Snapshot so the bundle format never
// accidentally carries internal-only struct fields.
type exportedSnapshot struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	Timestamp  int64  `json:"timestamp"`
	Kind       string `json:"kind"`
	ParentID   string `json:"parent_id,omitempty"`
	Checksum   string `json:"checksum"`
	Compressed bool   `json:"compressed"`
	Data       []byte `json:"data"`
}

// Bundle is the export/import unit for a session's snapshots (§4.5
// "export"/"import").
type Bundle struct {
	SessionID string              `json:"session_id"`
	Snapshots []exportedSnapshot  `json:"snapshots"`
}

// ExportOptions narrows which snapshots Export includes.
type ExportOptions struct {
	SnapshotIDs []string // empty means "all snapshots for the session"
}

// Export bundles a session's snapshot records and raw bytes for transfer
// (§4.5 "export").
func (m *Manager) Export(ctx context.Context, sessionID string, opts ExportOptions) (Bundle, error) {
	metas, err := m.store.ListSnapshotMeta(ctx, sessionID)
	if err != nil {
		return Bundle{}, err
	}
	want := map[string]bool{}
	for _, id := range opts.SnapshotIDs {
		want[id] = true
	}

	bundle := Bundle{SessionID: sessionID}
	for _, meta := range metas {
		if len(want) > 0 && !want[meta.ID] {
			continue
		}
		_, data, found, err := m.store.GetSnapshot(ctx, meta.ID)
		if err != nil {
			return Bundle{}, err
		}
		if !found {
			continue
		}
		bundle.Snapshots = append(bundle.Snapshots, exportedSnapshot{
			ID: meta.ID, SessionID: meta.SessionID, Timestamp: meta.Timestamp,
			Kind: string(meta.Kind), ParentID: meta.ParentID, Checksum: meta.Checksum,
			Compressed: meta.Compressed, Data: data,
		})
	}
	return bundle, nil
}

// ImportOptions configures Import (§4.5 "import").
type ImportOptions struct {
	ValidateIntegrity bool
	Overwrite         bool
}

// ImportResult reports per-record outcomes.
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []string
}

// Import restores a bundle's snapshots. When ValidateIntegrity is set,
// each record's checksum is recomputed against its (decompressed) bytes
// and the record is skipped with an error on mismatch rather than failing
// the whole import (§4.5 "import", §8 invariant 5).
func (m *Manager) Import(ctx context.Context, bundle Bundle, opts ImportOptions) ImportResult {
	var res ImportResult
	for _, rec := range bundle.Snapshots {
		if !opts.Overwrite {
			if _, _, found, err := m.store.GetSnapshot(ctx, rec.ID); err == nil && found {
				res.Skipped++
				continue
			}
		}
		if opts.ValidateIntegrity {
			if err := verifyRecordChecksum(rec); err != nil {
				res.Skipped++
				res.Errors = append(res.Errors, errs.Wrap(errs.SnapshotError, err).Error())
				continue
			}
		}
		meta := metaFromExported(rec)
		if err := m.store.StoreSnapshot(ctx, meta, rec.Data); err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		res.Imported++
	}
	return res
}

func verifyRecordChecksum(rec exportedSnapshot) error {
	canonical := rec.Data
	if rec.Compressed {
		var err error
		canonical, err = codec.Gunzip(rec.Data)
		if err != nil {
			return err
		}
	}
	if !codec.VerifyChecksum(canonical, rec.Checksum) {
		return errs.New(errs.SnapshotError, "checksum mismatch importing snapshot %s", rec.ID)
	}
	return nil
}

func metaFromExported(rec exportedSnapshot) types.Snapshot {
	return types.Snapshot{
		ID:         rec.ID,
		SessionID:  rec.SessionID,
		Timestamp:  rec.Timestamp,
		Kind:       types.SnapshotKind(rec.Kind),
		ParentID:   rec.ParentID,
		Checksum:   rec.Checksum,
		Compressed: rec.Compressed,
		SizeBytes:  int64(len(rec.Data)),
	}
}
