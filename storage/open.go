package storage

import (
	"github.com/google/uuid"

	"github.com/waxdb/wax/waxerr"
)

// OpenMode selects the role a session takes on the container file.
// Only one read-write session can hold a file at a time (enforced by
// OS-level advisory locking); any number of read-only sessions can
// coexist alongside it.
type OpenMode int

const (
	ReadWrite OpenMode = iota
	ReadOnly
)

// defaultWALCapacity is the WAL ring size chosen for a freshly created
// container when the caller doesn't override it.
const defaultWALCapacity = 4 << 20 // 4 MiB

// defaultCheckpointThresholdPercent is the fraction of WAL capacity in
// pending bytes that triggers an auto-commit.
const defaultCheckpointThresholdPercent = 75

// CreateOptions configures a brand-new container at creation time.
type CreateOptions struct {
	WALCapacity                int64 // 0 = defaultWALCapacity
	CheckpointThresholdPercent int   // 0 = defaultCheckpointThresholdPercent
}

// Create initializes a new container file at path: both root pages are
// written with an empty catalog and WAL, the second duplicating the
// first, exactly as the lifecycle requires.
func Create(path string, opts CreateOptions) (*Container, error) {
	osf, err := openOSFile(path, false)
	if err != nil {
		return nil, err
	}
	fl, err := lockFile(path, osf.fd())
	if err != nil {
		osf.Close()
		return nil, err
	}

	walCapacity := opts.WALCapacity
	if walCapacity <= 0 {
		walCapacity = defaultWALCapacity
	}
	thresholdPercent := opts.CheckpointThresholdPercent
	if thresholdPercent <= 0 {
		thresholdPercent = defaultCheckpointThresholdPercent
	}

	f := newFile(osf)
	walOffset := int64(rootPageCount) * PageSize
	payloadOffset := walOffset + walCapacity
	if err := f.Truncate(payloadOffset); err != nil {
		releaseAndClose(f, fl)
		return nil, err
	}

	instanceID := uuid.New()
	root := &RootHeader{
		Epoch:               1,
		WALOffset:           walOffset,
		WALCapacity:         walCapacity,
		WALHeadSequence:     1,
		WALTailSequence:     1,
		WALCommittedSeq:     0,
		PayloadRegionOffset: payloadOffset,
		PayloadRegionLength: 0,
		CatalogNextFrameID:  1,
	}
	copy(root.FileInstanceID[:], instanceID[:])

	if err := writeRoot(f, 0, root); err != nil {
		releaseAndClose(f, fl)
		return nil, err
	}
	if err := writeRoot(f, 1, root); err != nil {
		releaseAndClose(f, fl)
		return nil, err
	}

	wal := newWALRing(f, walOffset, walCapacity)
	payloads := newPayloadStore(f, payloadOffset, 0)
	catalog := newFrameCatalog(wal, payloads, root.CatalogNextFrameID)
	manifest := newIndexManifest(wal, payloads)

	return &Container{
		f: f, fl: fl,
		rootSlot: 1, root: root,
		wal: wal, payloads: payloads, catalog: catalog, manifest: manifest,
		checkpointThresholdPercent: thresholdPercent,
	}, nil
}

// Open attaches to an existing container, validates both root pages,
// and replays the WAL ring to rebuild the committed catalog, plus the
// initial pending view of a read-write session (skipped for a
// read-only open).
func Open(path string, mode OpenMode) (*Container, error) {
	osf, err := openOSFile(path, mode == ReadOnly)
	if err != nil {
		return nil, err
	}
	var fl *fileLock
	if mode == ReadWrite {
		fl, err = lockFile(path, osf.fd())
		if err != nil {
			osf.Close()
			return nil, err
		}
	}

	f := newFile(osf)
	root, slot, err := loadValidRoot(f)
	if err != nil {
		releaseAndClose(f, fl)
		return nil, err
	}

	replay, err := replayWALRing(f, root.WALOffset, root.WALCapacity, root.WALTailSequence, root.WALCommittedSeq)
	if err != nil {
		releaseAndClose(f, fl)
		return nil, err
	}

	wal := openWALRing(f, root.WALOffset, root.WALCapacity, replay.headSeq, root.WALTailSequence, root.WALCommittedSeq, replay.headPos)
	payloads := newPayloadStore(f, root.PayloadRegionOffset, root.PayloadRegionLength)
	catalog := newFrameCatalog(wal, payloads, root.CatalogNextFrameID)
	manifest := newIndexManifest(wal, payloads)

	if err := applyReplayedRecords(catalog, manifest, replay.committed, true); err != nil {
		releaseAndClose(f, fl)
		return nil, err
	}
	if mode == ReadWrite {
		if err := applyReplayedRecords(catalog, manifest, replay.pending, false); err != nil {
			releaseAndClose(f, fl)
			return nil, err
		}
	}

	return &Container{
		f: f, fl: fl,
		rootSlot: slot, root: root,
		wal: wal, payloads: payloads, catalog: catalog, manifest: manifest,
		checkpointThresholdPercent: defaultCheckpointThresholdPercent,
	}, nil
}

// applyReplayedRecords reapplies the catalog and manifest WAL records
// recovered during replay. Committed records are folded directly into
// the committed tables; everything else becomes the initial pending
// view.
func applyReplayedRecords(catalog *FrameCatalog, manifest *IndexManifest, records []WALRecord, committed bool) error {
	for _, rec := range records {
		switch rec.Kind {
		case WALCatalogPut:
			fm, err := decodeFrameMeta(rec.Payload)
			if err != nil {
				return waxerr.New(waxerr.Corruption, "replay_catalog_put", err)
			}
			if committed {
				catalog.committed[fm.FrameID] = fm
				if fm.FrameID >= catalog.nextID {
					catalog.nextID = fm.FrameID + 1
				}
			} else {
				catalog.pending[fm.FrameID] = fm
			}
		case WALSupersede:
			oldID, newID, err := decodeSupersedeRecord(rec.Payload)
			if err != nil {
				return waxerr.New(waxerr.Corruption, "replay_supersede", err)
			}
			target := catalog.committed
			if !committed {
				target = catalog.pending
			}
			if fm, ok := catalog.lookupLocked(oldID); ok {
				updated := *fm
				updated.Status = StatusSuperseded
				updated.SupersededBy = newID
				target[oldID] = &updated
			}
		case WALDelete:
			id, err := decodeDeleteRecord(rec.Payload)
			if err != nil {
				return waxerr.New(waxerr.Corruption, "replay_delete", err)
			}
			target := catalog.committed
			if !committed {
				target = catalog.pending
			}
			if fm, ok := catalog.lookupLocked(id); ok {
				updated := *fm
				updated.Status = StatusDeleted
				target[id] = &updated
			}
		case WALStageLexIndex, WALStageVecIndex, WALStageKVIndex:
			entry, err := decodeManifestEntry(rec.Payload)
			if err != nil {
				return waxerr.New(waxerr.Corruption, "replay_manifest_stage", err)
			}
			if committed {
				manifest.entries[entry.Kind] = entry
			} else {
				manifest.pending[entry.Kind] = entry
			}
		}
	}
	return nil
}

func releaseAndClose(f *file, fl *fileLock) {
	fl.unlock()
	f.Close()
}
