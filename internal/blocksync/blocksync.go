// Package blocksync implements the gossip-driven catch-up protocol:
// periodic GetBlocksAfter requests, ShareBlocks responses capped at
// gossip_size, and feeding whatever arrives into Sumeragi as a
// BlockSyncUpdate, reordered into height order first.
package blocksync

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/kura"
	"iroha-peer/internal/p2pnet"
)

// Transport is the seam between this package and p2pnet, kept narrow (raw
// bytes in, raw bytes out, sender-tagged) so this package depends only on
// p2pnet.Node's public surface, never libp2p directly.
type Transport interface {
	Broadcast(topic string, payload []byte) error
	SubscribeWithSender(topic string) (<-chan p2pnet.RawInbound, func(), error)
	SendToID(peerID string, payload []byte) error
}

// Applier is the seam into package sumeragi: block-sync never re-runs
// validate_transaction itself, only the "same signature and header checks"
// a normally committed block receives.
type Applier interface {
	ApplyBlockSyncUpdate(sb datamodel.SignedBlock) error
}

// Config bounds the catch-up protocol.
type Config struct {
	GossipPeriod time.Duration
	GossipSize   int
}

// BlockSync is the per-peer catch-up task.
type BlockSync struct {
	logger    *logrus.Logger
	kura      *kura.Kura
	applier   Applier
	transport Transport
	cfg       Config

	mu      sync.Mutex
	pending map[uint64]datamodel.SignedBlock // buffered out-of-order deliveries awaiting the next height
}

// New constructs a BlockSync task.
func New(logger *logrus.Logger, k *kura.Kura, applier Applier, transport Transport, cfg Config) *BlockSync {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.GossipPeriod <= 0 {
		cfg.GossipPeriod = 5 * time.Second
	}
	if cfg.GossipSize <= 0 {
		cfg.GossipSize = 32
	}
	return &BlockSync{
		logger:    logger,
		kura:      k,
		applier:   applier,
		transport: transport,
		cfg:       cfg,
		pending:   make(map[uint64]datamodel.SignedBlock),
	}
}

// Start runs the request loop and the response/ingest loop until ctx is
// cancelled: a ticking requester plus a long-lived inbound handler.
func (b *BlockSync) Start(ctx context.Context) {
	inbound, unsub, err := b.transport.SubscribeWithSender(Topic)
	if err != nil {
		b.logger.WithError(err).Error("blocksync: subscribe failed")
		return
	}
	go b.requestLoop(ctx)
	go b.respondLoop(ctx, inbound, unsub)
}

// requestLoop broadcasts a GetBlocksAfter every gossip_period.
func (b *BlockSync) requestLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.GossipPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sendRequest()
		}
	}
}

func (b *BlockSync) sendRequest() {
	height := b.kura.BlockCount()
	var prevHash, latestHash datamodel.Hash
	if height > 0 {
		blk, err := b.kura.GetBlock(height)
		if err != nil || blk == nil {
			b.logger.WithError(err).Warn("blocksync: could not read own tip")
			return
		}
		h, err := blk.Block.Hash()
		if err != nil {
			return
		}
		latestHash = h.Hash()
		prevHash = blk.Block.Header.PrevHash
	}

	b.mu.Lock()
	seen := make([]uint64, 0, len(b.pending))
	for h := range b.pending {
		seen = append(seen, h)
	}
	b.mu.Unlock()
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })

	msg := Message{
		Kind: MessageGetBlocksAfter,
		GetBlocksAfter: &GetBlocksAfter{
			PrevHash:     prevHash,
			LatestHash:   latestHash,
			LatestHeight: height,
			SeenBlocks:   seen,
		},
	}
	payload, err := encode(msg)
	if err != nil {
		return
	}
	if err := b.transport.Broadcast(Topic, payload); err != nil {
		b.logger.WithError(err).Debug("blocksync: broadcast request failed")
	}
}

// respondLoop answers GetBlocksAfter requests from peers and ingests
// ShareBlocks responses addressed to us.
func (b *BlockSync) respondLoop(ctx context.Context, inbound <-chan p2pnet.RawInbound, unsub func()) {
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-inbound:
			if !ok {
				return
			}
			msg, err := decode(in.Data)
			if err != nil {
				continue // malformed message: dropped, not queued
			}
			switch msg.Kind {
			case MessageGetBlocksAfter:
				if msg.GetBlocksAfter != nil {
					b.handleRequest(in.From, *msg.GetBlocksAfter)
				}
			case MessageShareBlocks:
				if msg.ShareBlocks != nil {
					b.handleShareBlocks(msg.ShareBlocks.Blocks)
				}
			}
		}
	}
}

// handleRequest answers req: nothing unless our height exceeds
// req.LatestHeight and our tip hash differs from req.LatestHash, otherwise
// up to gossip_size blocks starting at req.LatestHeight+1, skipping anything
// the requester already acknowledged. The requester's own tip block is not
// re-sent, and req.PrevHash is not consulted.
func (b *BlockSync) handleRequest(from string, req GetBlocksAfter) {
	ourHeight := b.kura.BlockCount()
	if ourHeight <= req.LatestHeight {
		return // nothing newer to offer
	}
	ourTip, err := b.kura.GetBlock(ourHeight)
	if err != nil || ourTip == nil {
		return
	}
	ourTipHash, err := ourTip.Block.Hash()
	if err != nil {
		return
	}
	if ourTipHash.Hash() == req.LatestHash {
		return // tips already match
	}

	startHeight := req.LatestHeight + 1
	if startHeight == 0 {
		startHeight = 1
	}
	seen := make(map[uint64]bool, len(req.SeenBlocks))
	for _, h := range req.SeenBlocks {
		seen[h] = true
	}

	out := make([]datamodel.SignedBlock, 0, b.cfg.GossipSize)
	for h := startHeight; h <= ourHeight && len(out) < b.cfg.GossipSize; h++ {
		if seen[h] {
			continue
		}
		blk, err := b.kura.GetBlock(h)
		if err != nil || blk == nil {
			break
		}
		out = append(out, *blk)
	}
	if len(out) == 0 {
		return
	}

	msg := Message{Kind: MessageShareBlocks, ShareBlocks: &ShareBlocks{Blocks: out}}
	payload, err := encode(msg)
	if err != nil {
		return
	}
	if err := b.transport.SendToID(from, payload); err != nil {
		b.logger.WithError(err).Debug("blocksync: reply to request failed")
	}
}

// handleShareBlocks validates and buffers received blocks, then applies
// every contiguous run starting at the next expected height in strictly
// increasing order.
func (b *BlockSync) handleShareBlocks(blocks []datamodel.SignedBlock) {
	if len(blocks) == 0 {
		return
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Block.Header.Height < blocks[j].Block.Header.Height })

	b.mu.Lock()
	for _, blk := range blocks {
		if blk.Block.Header.Height <= b.kura.BlockCount() {
			continue
		}
		b.pending[blk.Block.Header.Height] = blk
	}
	b.mu.Unlock()

	for {
		next := b.kura.BlockCount() + 1
		b.mu.Lock()
		blk, ok := b.pending[next]
		if ok {
			delete(b.pending, next)
		}
		b.mu.Unlock()
		if !ok {
			return
		}
		if err := b.applier.ApplyBlockSyncUpdate(blk); err != nil {
			b.logger.WithError(err).WithField("height", next).Warn("blocksync: apply failed, will retry next gossip round")
			return
		}
	}
}

func encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("blocksync: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (Message, error) {
	var msg Message
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("blocksync: decode: %w", err)
	}
	return msg, nil
}
