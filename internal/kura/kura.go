// Package kura implements the append-only, content-addressed block store:
// blocks keyed by 1-based height and by HashOf[BlockHeader], a hot
// in-memory LRU window, and a length-prefixed on-disk cold tail with
// optional fsync-before-ack durability.
package kura

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"iroha-peer/internal/datamodel"
)

// InitMode controls write-path durability.
type InitMode int

const (
	// Strict fsyncs the underlying file before StoreBlock returns.
	Strict InitMode = iota
	// Fast relies on the OS page cache and never blocks on fsync.
	Fast
)

// Config configures a Kura store.
type Config struct {
	StorePath       string // path to blocks.data
	InitMode        InitMode
	BlocksInMemory  int // hot LRU window size
	Logger          *logrus.Logger
}

// offsetEntry records where a stored block's length-prefixed record begins
// in the cold file, so GetBlock can seek directly instead of rescanning.
type offsetEntry struct {
	offset int64
	length uint32
}

// Kura is a single-writer, many-reader block store.
type Kura struct {
	mu sync.RWMutex

	cfg    Config
	logger *logrus.Logger

	file *os.File

	height uint64 // number of stored blocks; next height to store is height+1
	byHash map[datamodel.Hash]uint64

	offsets []offsetEntry // 0-indexed by (height-1)
	hot     *lru.Cache[uint64, *datamodel.SignedBlock]
}

// Open opens (creating if necessary) the block store at cfg.StorePath and
// replays its on-disk index so height/hash lookups work immediately.
func Open(cfg Config) (*Kura, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.BlocksInMemory <= 0 {
		cfg.BlocksInMemory = 256
	}

	if dir := filepath.Dir(cfg.StorePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("kura: create store dir: %w", err)
		}
	}
	f, err := os.OpenFile(cfg.StorePath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("kura: open store: %w", err)
	}

	hot, err := lru.New[uint64, *datamodel.SignedBlock](cfg.BlocksInMemory)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("kura: new lru: %w", err)
	}

	k := &Kura{
		cfg:    cfg,
		logger: cfg.Logger,
		file:   f,
		byHash: make(map[datamodel.Hash]uint64),
		hot:    hot,
	}

	if err := k.replayIndex(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("kura: replay index: %w", err)
	}
	k.logger.WithField("height", k.height).Info("kura: opened block store")
	return k, nil
}

// replayIndex scans blocks.data once at startup, decoding each record to
// recover its hash and recording its offset/length/hash/height; only the
// most recent cfg.BlocksInMemory decoded blocks stay in the hot cache.
func (k *Kura) replayIndex() error {
	if _, err := k.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(k.file)
	var offset int64
	height := uint64(0)

	for {
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return err
		}

		blk, err := decodeSignedBlock(body)
		if err != nil {
			return fmt.Errorf("decode record at offset %d: %w", offset, err)
		}
		height++
		hash, err := blk.Block.Hash()
		if err != nil {
			return err
		}
		k.offsets = append(k.offsets, offsetEntry{offset: offset, length: length})
		k.byHash[hash.Hash()] = height
		k.hot.Add(height, blk) // the LRU itself evicts anything past BlocksInMemory

		offset += int64(4 + length)
	}
	k.height = height
	return nil
}

// StoreBlock appends block to the store, incrementing height. Must be
// called in height order.
func (k *Kura) StoreBlock(block *datamodel.SignedBlock) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	expected := k.height + 1
	if block.Block.Header.Height != expected {
		return fmt.Errorf("kura: out-of-order store: expected height %d, got %d", expected, block.Block.Header.Height)
	}

	body, err := encodeSignedBlock(block)
	if err != nil {
		return fmt.Errorf("kura: encode block: %w", err)
	}

	offset, err := k.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("kura: seek end: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := k.file.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("kura: write length prefix: %w", err)
	}
	if _, err := k.file.Write(body); err != nil {
		return fmt.Errorf("kura: write body: %w", err)
	}

	if k.cfg.InitMode == Strict {
		if err := k.file.Sync(); err != nil {
			return fmt.Errorf("kura: fsync: %w", err)
		}
	}

	k.offsets = append(k.offsets, offsetEntry{offset: offset, length: uint32(len(body))})
	k.height = expected
	hash, err := block.Block.Hash()
	if err != nil {
		return err
	}
	k.byHash[hash.Hash()] = expected
	k.hot.Add(expected, block)

	k.logger.WithFields(logrus.Fields{"height": expected, "hash": hash.String()}).Debug("kura: stored block")
	return nil
}

// GetBlock returns the block at height, or nil if none is stored there.
func (k *Kura) GetBlock(height uint64) (*datamodel.SignedBlock, error) {
	if height == 0 {
		return nil, nil
	}
	k.mu.RLock()
	defer k.mu.RUnlock()

	if height > k.height {
		return nil, nil
	}
	if blk, ok := k.hot.Get(height); ok {
		return blk, nil
	}
	entry := k.offsets[height-1]
	body := make([]byte, entry.length)
	if _, err := k.file.ReadAt(body, entry.offset+4); err != nil {
		return nil, fmt.Errorf("kura: read block at height %d: %w", height, err)
	}
	blk, err := decodeSignedBlock(body)
	if err != nil {
		return nil, fmt.Errorf("kura: decode block at height %d: %w", height, err)
	}
	k.hot.Add(height, blk)
	return blk, nil
}

// GetBlockHeightByHash resolves a block header hash to its height, or 0 if
// unknown.
func (k *Kura) GetBlockHeightByHash(h datamodel.Hash) uint64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.byHash[h]
}

// BlockCount returns the latest stored height.
func (k *Kura) BlockCount() uint64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.height
}

// Close releases the underlying file handle.
func (k *Kura) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.file.Close()
}
