// Package peer wires every component of one iroha-peer node together and
// runs its cooperative-task lifecycle: bounded startup, a single
// fanned-out shutdown signal, bounded wait before abort. There is no
// generic actor/mailbox framework here; each component is a task owning a
// select loop.
package peer

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"iroha-peer/internal/blocksync"
	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/executor"
	"iroha-peer/internal/kura"
	"iroha-peer/internal/p2pnet"
	"iroha-peer/internal/queue"
	"iroha-peer/internal/snapshot"
	"iroha-peer/internal/sumeragi"
	"iroha-peer/internal/txgossip"
	"iroha-peer/internal/txpipeline"
	"iroha-peer/internal/wsv"
	"iroha-peer/pkg/config"
)

// TrustedPeer is one entry of the --trusted-peers configuration: a peer's
// public key plus the address p2pnet should dial to reach it.
type TrustedPeer struct {
	Id      datamodel.PeerId
	Address string
}

// Options bundles everything needed to stand up a Supervisor that the
// config file alone does not carry (identity, CLI flags).
type Options struct {
	Config         *config.Config
	Self           datamodel.KeyPair
	TrustedPeers   []TrustedPeer
	SubmitGenesis  bool
	GenesisKeyPair *datamodel.KeyPair // nil unless this peer authors genesis
	// GenesisExecutorWasm is the initial policy module genesis installs
	// via its opening Upgrade instruction. Only read when SubmitGenesis
	// is set.
	GenesisExecutorWasm []byte
	Logger         *logrus.Logger
}

// Supervisor owns every long-lived component of one running peer.
type Supervisor struct {
	logger *logrus.Logger
	opts   Options

	wsv    *wsv.WSV
	kura   *kura.Kura
	queue  *queue.Queue
	exec   *executor.Executor
	node   *p2pnet.Node
	sumer  *sumeragi.Sumeragi
	sync_  *blocksync.BlockSync
	gossip *txgossip.TxGossip
	snap   *snapshot.Snapshot

	submission *localSubmissionBuffer
}

// New constructs every component but does not start any goroutines.
func New(opts Options) (*Supervisor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("peer: nil config")
	}

	k, err := kura.Open(kura.Config{
		StorePath:      cfg.Kura.StoreDir + "/blocks.data",
		InitMode:       kuraInitMode(cfg.Kura.InitMode),
		BlocksInMemory: cfg.Kura.BlocksInMemory,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("peer: open kura: %w", err)
	}

	var world *datamodel.World
	replayFrom := uint64(1)
	if cfg.Snapshot.Mode != config.SnapshotDisabled {
		result, err := snapshot.Restore(logger, k, cfg.Snapshot.StoreDir)
		if err != nil {
			return nil, fmt.Errorf("peer: restore snapshot: %w", err)
		}
		replayFrom = result.ReplayFrom
		if result.Outcome == snapshot.OutcomeRestore {
			world = result.World
		}
	}
	if world == nil {
		world = datamodel.NewWorld(datamodel.ChainId(cfg.ChainId))
	}
	w := wsv.New(world)

	if err := replayFromKura(w, k, replayFrom); err != nil {
		return nil, fmt.Errorf("peer: replay kura: %w", err)
	}

	q := queue.New(queue.Config{
		Capacity:        cfg.Queue.Capacity,
		CapacityPerUser: cfg.Queue.CapacityPerUser,
		TransactionTTL:  cfg.TransactionTTL(),
	})

	exec := executor.NewWithPool(logger, executor.PoolConfig{
		Workers:        cfg.Executor.PoolWorkers,
		CallsPerSecond: cfg.Executor.CallsPerSecondLimit,
		Burst:          cfg.Executor.Burst,
	})

	node, err := p2pnet.NewNode(p2pnet.Config{
		ListenAddr:     cfg.Network.Address,
		PublicAddress:  cfg.Network.PublicAddress,
		DiscoveryTag:   cfg.Network.DiscoveryTag,
		BootstrapPeers: cfg.Network.BootstrapPeers,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("peer: start p2pnet: %w", err)
	}

	peerIDs := make(map[string]string, len(opts.TrustedPeers))
	trustedIDs := make([]datamodel.PeerId, 0, len(opts.TrustedPeers))
	for _, tp := range opts.TrustedPeers {
		trustedIDs = append(trustedIDs, tp.Id)
		if tp.Address != "" {
			if err := node.AddPeerAddress(tp.Id.String(), tp.Address); err != nil {
				logger.WithError(err).WithField("peer", tp.Id.String()).Warn("peer: could not register trusted peer address")
				continue
			}
			peerIDs[tp.Id.String()] = tp.Id.String()
		}
	}

	adapter := p2pnet.NewSumeragiAdapter(node, opts.Self.Public, peerIDs)

	sum := sumeragi.New(logger, w, k, q, exec, adapter, sumeragi.Config{
		Self:               opts.Self,
		Peers:              trustedIDs,
		DebugForceSoftFork: cfg.Sumeragi.Debug.ForceSoftFork,
	})

	bs := blocksync.New(logger, k, sum, node, blocksync.Config{
		GossipPeriod: cfg.BlockGossipPeriod(),
		GossipSize:   cfg.Network.BlockGossipSize,
	})

	submission := newLocalSubmissionBuffer(cfg.Network.TransactionGossipSize)
	gossip := txgossip.New(logger, node, &gossipAccepter{w: w, q: q}, submission, txgossip.Config{
		GossipPeriod: time.Duration(cfg.Network.TransactionGossipPeriodMS) * time.Millisecond,
		GossipSize:   cfg.Network.TransactionGossipSize,
	})

	var snap *snapshot.Snapshot
	if cfg.Snapshot.Mode == config.SnapshotReadWrite {
		snap = snapshot.New(logger, w, k, snapshot.Config{
			Mode:        snapshot.ModeReadWrite,
			CreateEvery: cfg.SnapshotCreateEvery(),
			StoreDir:    cfg.Snapshot.StoreDir,
		})
	}

	return &Supervisor{
		logger:     logger,
		opts:       opts,
		wsv:        w,
		kura:       k,
		queue:      q,
		exec:       exec,
		node:       node,
		sumer:      sum,
		sync_:      bs,
		gossip:     gossip,
		snap:       snap,
		submission: submission,
	}, nil
}

func kuraInitMode(m config.KuraInitMode) kura.InitMode {
	if m == config.KuraFast {
		return kura.Fast
	}
	return kura.Strict
}

// replayFromKura brings w forward through every block Kura already has
// starting at from, replaying each block's transactions through
// txpipeline's Replay; signatures and headers are not re-checked.
func replayFromKura(w *wsv.WSV, k *kura.Kura, from uint64) error {
	height := k.BlockCount()
	for h := from; h <= height; h++ {
		blk, err := k.GetBlock(h)
		if err != nil || blk == nil {
			return fmt.Errorf("peer: missing kura block at height %d", h)
		}
		scope, err := w.OpenBlock(blk.Block.Header)
		if err != nil {
			return err
		}
		view := w.View()
		pipeline := txpipeline.NewPipeline(nil, view.Executor().Wasm, view.Schema(), 8)
		if err := pipeline.Replay(scope, blk.Block.Transactions, view.Parameters()); err != nil {
			scope.Revert()
			return fmt.Errorf("peer: replay block %d: %w", h, err)
		}
		scope.Commit()
	}
	return nil
}

// Run starts every component and blocks until ctx is cancelled, then fans
// a single ShutdownSignal out, waiting up to 2s before returning
// regardless.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.opts.SubmitGenesis && s.opts.GenesisKeyPair != nil {
		if err := s.submitGenesis(); err != nil {
			return fmt.Errorf("peer: submit genesis: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.sumer.Start(runCtx)
	s.sync_.Start(runCtx)
	s.gossip.Start(runCtx)
	go s.evictLoop(runCtx)
	stop := make(chan struct{})
	if s.snap != nil {
		s.snap.Start(stop)
	}

	<-runCtx.Done()
	cancel()
	close(stop)

	done := make(chan struct{})
	go func() {
		if s.snap != nil {
			if err := s.snap.Write(); err != nil {
				s.logger.WithError(err).Warn("peer: final snapshot write failed")
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.logger.Warn("peer: shutdown wait exceeded, aborting remaining tasks")
	}
	s.exec.Close()
	return s.node.Close()
}

// evictLoop drives the queue's eager TTL eviction on a timer,
// complementing PopBatch's lazy eviction.
func (s *Supervisor) evictLoop(ctx context.Context) {
	period := s.opts.Config.TransactionTTL() / 4
	if period <= 0 {
		period = time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.queue.EvictExpired(now)
		}
	}
}

// SubmitTransaction runs tx through acceptance and pushes it onto the
// local queue, exactly the path a RPC/CLI submission would take.
func (s *Supervisor) SubmitTransaction(tx datamodel.SignedTransaction) error {
	view := s.wsv.View()
	accepted, err := txpipeline.Accept(tx, view.ChainId(), view.Parameters(), time.Now())
	if err != nil {
		return err
	}
	if err := s.queue.Push(accepted.SignedTransaction, view, time.Now()); err != nil {
		return err
	}
	s.submission.record(tx)
	return nil
}

// gossipAccepter implements txgossip.Accepter: a gossiped transaction gets
// exactly the admission path a local submission does.
type gossipAccepter struct {
	w *wsv.WSV
	q *queue.Queue
}

func (a *gossipAccepter) AcceptGossipedTransaction(tx datamodel.SignedTransaction) error {
	view := a.w.View()
	accepted, err := txpipeline.Accept(tx, view.ChainId(), view.Parameters(), time.Now())
	if err != nil {
		return err
	}
	return a.q.Push(accepted.SignedTransaction, view, time.Now())
}
