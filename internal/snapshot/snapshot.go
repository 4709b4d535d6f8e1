// Package snapshot implements periodic WSV serialization and startup
// reconciliation: write to snapshot.tmp, atomically rename to
// snapshot.data, and on startup cross-check every recorded block hash
// against Kura before trusting a restored World. Kura is the durable
// source of truth a peer must never contradict.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/kura"
	"iroha-peer/internal/wsv"
)

// Mode controls whether and how a peer persists periodic snapshots.
type Mode int

const (
	ModeReadWrite Mode = iota
	ModeReadOnly
	ModeDisabled
)

// Config bounds the Snapshot task.
type Config struct {
	Mode        Mode
	CreateEvery time.Duration
	StoreDir    string
}

const (
	tmpFileName  = "snapshot.tmp"
	dataFileName = "snapshot.data"
)

// Manifest accompanies the serialized World with the block hash this
// snapshot was taken against at every height up to its own, letting
// Restore detect whether Kura has since diverged.
type Manifest struct {
	Height      uint64
	BlockHashes map[uint64]datamodel.Hash
}

// Snapshot is the periodic-write task one peer runs against its own WSV.
type Snapshot struct {
	logger *logrus.Logger
	wsv    *wsv.WSV
	kura   *kura.Kura
	cfg    Config

	mu      sync.Mutex
	writing bool
}

// New constructs a Snapshot task. cfg.StoreDir is created by Write if missing.
func New(logger *logrus.Logger, w *wsv.WSV, k *kura.Kura, cfg Config) *Snapshot {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.CreateEvery <= 0 {
		cfg.CreateEvery = time.Minute
	}
	return &Snapshot{logger: logger, wsv: w, kura: k, cfg: cfg}
}

func (s *Snapshot) tmpPath() string  { return filepath.Join(s.cfg.StoreDir, tmpFileName) }
func (s *Snapshot) dataPath() string { return filepath.Join(s.cfg.StoreDir, dataFileName) }

// Start runs the periodic blocking-write loop on a background goroutine.
// A no-op when Mode is not ReadWrite.
func (s *Snapshot) Start(stop <-chan struct{}) {
	if s.cfg.Mode != ModeReadWrite {
		return
	}
	go func() {
		ticker := time.NewTicker(s.cfg.CreateEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.Write(); err != nil {
					s.logger.WithError(err).Warn("snapshot: write failed, retrying next tick")
				}
			}
		}
	}()
}

// Write serializes the current WSV to snapshot.tmp and atomically renames
// it to snapshot.data.
func (s *Snapshot) Write() error {
	s.mu.Lock()
	if s.writing {
		s.mu.Unlock()
		return nil // previous write still in flight; skip this tick rather than overlap
	}
	s.writing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.writing = false
		s.mu.Unlock()
	}()

	if err := os.MkdirAll(s.cfg.StoreDir, 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir %s: %w", s.cfg.StoreDir, err)
	}

	height := s.kura.BlockCount()
	manifest := Manifest{Height: height, BlockHashes: make(map[uint64]datamodel.Hash, height)}
	for h := uint64(1); h <= height; h++ {
		blk, err := s.kura.GetBlock(h)
		if err != nil || blk == nil {
			return fmt.Errorf("snapshot: read kura block at height %d: %w", h, err)
		}
		hash, err := blk.Block.Hash()
		if err != nil {
			return err
		}
		manifest.BlockHashes[h] = hash.Hash()
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(manifest); err != nil {
		return fmt.Errorf("snapshot: encode manifest: %w", err)
	}
	if err := s.wsv.EncodeWorld(enc); err != nil {
		return fmt.Errorf("snapshot: encode world: %w", err)
	}

	tmp := s.tmpPath()
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("snapshot: create %s: %w", tmp, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("snapshot: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("snapshot: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.dataPath()); err != nil {
		return fmt.Errorf("snapshot: rename %s to %s: %w", tmp, s.dataPath(), err)
	}
	s.logger.WithField("height", height).Info("snapshot: wrote WSV snapshot")
	return nil
}

// Outcome discriminates what Restore found.
type Outcome int

const (
	// OutcomeNone: no snapshot file exists; the caller must replay every
	// block from height 1.
	OutcomeNone Outcome = iota
	// OutcomeRestore: the snapshot's World and every recorded block hash
	// matched Kura; restore World and replay from Height+1.
	OutcomeRestore
	// OutcomeSoftForkDiscard: every height below the snapshot's tip
	// matched, but the tip itself diverged from Kura (a soft fork on the
	// final block). Rather than attempting to subtract the stale tip's
	// effects from the restored World with no undo log to do it safely,
	// the snapshot is discarded outright and the caller replays from
	// height 1. Slower than reverting just the last block, never wrong.
	OutcomeSoftForkDiscard
)

// RestoreResult is what Restore hands back to the peer supervisor's
// startup sequence.
type RestoreResult struct {
	Outcome    Outcome
	World      *datamodel.World // non-nil only when Outcome == OutcomeRestore
	ReplayFrom uint64
}

// Restore reads storeDir's snapshot.data, if any, and reconciles it
// against k. Any mismatch strictly before the snapshot's own height is
// fatal.
func Restore(logger *logrus.Logger, k *kura.Kura, storeDir string) (RestoreResult, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	path := filepath.Join(storeDir, dataFileName)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return RestoreResult{Outcome: OutcomeNone, ReplayFrom: 1}, nil
	}
	if err != nil {
		return RestoreResult{}, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()

	dec := gob.NewDecoder(f)
	var manifest Manifest
	if err := dec.Decode(&manifest); err != nil {
		return RestoreResult{}, fmt.Errorf("snapshot: decode manifest: %w", err)
	}
	world := datamodel.NewWorld("")
	if err := dec.Decode(world); err != nil {
		return RestoreResult{}, fmt.Errorf("snapshot: decode world: %w", err)
	}

	kuraHeight := k.BlockCount()
	if manifest.Height > kuraHeight {
		return RestoreResult{}, fmt.Errorf("snapshot: manifest height %d exceeds kura height %d", manifest.Height, kuraHeight)
	}
	if manifest.Height == 0 {
		return RestoreResult{Outcome: OutcomeRestore, World: world, ReplayFrom: 1}, nil
	}

	for h := uint64(1); h < manifest.Height; h++ {
		blk, err := k.GetBlock(h)
		if err != nil || blk == nil {
			return RestoreResult{}, fmt.Errorf("snapshot: missing kura block at height %d", h)
		}
		hash, err := blk.Block.Hash()
		if err != nil {
			return RestoreResult{}, err
		}
		if hash.Hash() != manifest.BlockHashes[h] {
			return RestoreResult{}, fmt.Errorf("snapshot: block hash mismatch at height %d (not the tip): fatal", h)
		}
	}

	tipBlk, err := k.GetBlock(manifest.Height)
	if err != nil || tipBlk == nil {
		return RestoreResult{}, fmt.Errorf("snapshot: missing kura block at snapshot height %d", manifest.Height)
	}
	tipHash, err := tipBlk.Block.Hash()
	if err != nil {
		return RestoreResult{}, err
	}
	if tipHash.Hash() != manifest.BlockHashes[manifest.Height] {
		logger.WithField("height", manifest.Height).Warn("snapshot: tip hash diverges from kura, discarding snapshot and replaying from genesis")
		return RestoreResult{Outcome: OutcomeSoftForkDiscard, ReplayFrom: 1}, nil
	}

	return RestoreResult{Outcome: OutcomeRestore, World: world, ReplayFrom: manifest.Height + 1}, nil
}
