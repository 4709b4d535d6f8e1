package sumeragi

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/executor"
	"iroha-peer/internal/kura"
	"iroha-peer/internal/queue"
	"iroha-peer/internal/txpipeline"
	"iroha-peer/internal/wsv"
)

// State is the per-peer consensus phase:
// Idle -> Proposing -> Voting -> Committing -> Idle, with a side-transition
// Idle/Proposing/Voting/Committing -> ViewChanging -> Idle on timeout.
type State int

const (
	StateIdle State = iota
	StateProposing
	StateVoting
	StateCommitting
	StateViewChanging
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateProposing:
		return "Proposing"
	case StateVoting:
		return "Voting"
	case StateCommitting:
		return "Committing"
	case StateViewChanging:
		return "ViewChanging"
	default:
		return "Unknown"
	}
}

// Config bundles a Sumeragi's fixed identity and wiring. Peers need not be
// pre-sorted; NewSumeragi sorts them into the canonical topology order.
type Config struct {
	Self           datamodel.KeyPair
	Peers          []datamodel.PeerId
	QueueBatchSize int
	TriggerBudget  int
	// DebugForceSoftFork makes this peer discard its own matching block
	// candidate and re-apply the certified copy through the foreign-block
	// path instead, exercising soft-fork acceptance on every height. Debug
	// only; never set in production.
	DebugForceSoftFork bool
}

// Sumeragi is one peer's consensus engine: it owns the single WSV
// block-scope writer slot for as long as a round is in flight, and is the
// sole caller of Kura.StoreBlock and Queue.PopBatch.
type Sumeragi struct {
	logger *logrus.Logger
	wsv    *wsv.WSV
	kura   *kura.Kura
	queue  *queue.Queue
	exec   *executor.Executor
	net    NetworkAdapter

	self           datamodel.KeyPair
	peers          []datamodel.PeerId
	queueBatchSize int
	triggerBudget  int
	forceSoftFork  bool

	mu              sync.Mutex
	height          uint64
	viewChangeIndex uint32
	state           State
	invalidated     map[datamodel.Hash]bool
	cur             *round
}

// New constructs a Sumeragi. height is seeded from kura's current block
// count so a restarted peer resumes at the right height.
func New(logger *logrus.Logger, w *wsv.WSV, k *kura.Kura, q *queue.Queue, exec *executor.Executor, net NetworkAdapter, cfg Config) *Sumeragi {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	peers := append([]datamodel.PeerId(nil), cfg.Peers...)
	sort.Slice(peers, func(i, j int) bool { return peers[i].String() < peers[j].String() })
	batch := cfg.QueueBatchSize
	if batch <= 0 {
		batch = 100
	}
	budget := cfg.TriggerBudget
	if budget <= 0 {
		budget = 8
	}
	return &Sumeragi{
		logger:         logger,
		wsv:            w,
		kura:           k,
		queue:          q,
		exec:           exec,
		net:            net,
		self:           cfg.Self,
		peers:          peers,
		queueBatchSize: batch,
		triggerBudget:  budget,
		forceSoftFork:  cfg.DebugForceSoftFork,
		height:         k.BlockCount(),
		invalidated:    make(map[datamodel.Hash]bool),
		state:          StateIdle,
	}
}

// round holds the mutable, single-height working state a peer accumulates
// while that height's view(s) are in flight.
type round struct {
	height  uint64
	viewIdx uint32
	topo    Topology

	created    chan *BlockCreated
	signed     chan *BlockSigned
	committed  chan *BlockCommitted
	viewChange chan *ViewChangeSuggested
}

func newRound(height uint64, viewIdx uint32, topo Topology, buf int) *round {
	if buf < 1 {
		buf = 1
	}
	return &round{
		height:     height,
		viewIdx:    viewIdx,
		topo:       topo,
		created:    make(chan *BlockCreated, buf),
		signed:     make(chan *BlockSigned, buf),
		committed:  make(chan *BlockCommitted, buf),
		viewChange: make(chan *ViewChangeSuggested, buf),
	}
}

// Start runs the consensus loop until ctx is cancelled. It is meant to be
// invoked once, in its own goroutine, by the peer supervisor.
func (s *Sumeragi) Start(ctx context.Context) {
	sub, unsub := s.net.Subscribe(SumeragiTopic)
	defer unsub()

	go s.dispatchLoop(ctx, sub)

	for ctx.Err() == nil {
		s.runHeight(ctx)
	}
}

func (s *Sumeragi) dispatchLoop(ctx context.Context, sub <-chan Inbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-sub:
			s.dispatch(in)
		}
	}
}

func (s *Sumeragi) dispatch(in Inbound) {
	s.mu.Lock()
	r := s.cur
	s.mu.Unlock()
	if r == nil {
		return
	}
	switch in.Msg.Kind {
	case MessageBlockCreated:
		trySend(r.created, in.Msg.BlockCreated)
	case MessageBlockSigned:
		trySend(r.signed, in.Msg.BlockSigned)
	case MessageBlockCommitted:
		trySend(r.committed, in.Msg.BlockCommitted)
	case MessageViewChangeSuggested:
		trySend(r.viewChange, in.Msg.ViewChangeSuggested)
	}
}

func trySend[T any](ch chan *T, v *T) {
	if v == nil {
		return
	}
	select {
	case ch <- v:
	default:
		// bounded channel is full: the message is dropped rather than
		// blocking the single dispatch goroutine.
	}
}

// roundOutcome reports how a height's round concluded. certificate is the
// fully signed block when committed came from this peer's own proxy-tail
// run, so commitOwn persists the certificate other peers will later check,
// not an unsigned copy.
type roundOutcome struct {
	committed    bool
	newViewIndex uint32
	certificate  *datamodel.SignedBlock
}

func (s *Sumeragi) runHeight(ctx context.Context) {
	viewIdx := s.viewIndex()
	h := s.height + 1

	for ctx.Err() == nil {
		topo := ComputeTopology(s.peers, viewIdx)
		r := newRound(h, viewIdx, topo, len(s.peers)+1)

		s.mu.Lock()
		s.cur = r
		s.state = StateProposing
		s.mu.Unlock()

		outcome := s.runRound(ctx, r)

		s.mu.Lock()
		s.cur = nil
		if outcome.committed {
			s.height = h
			s.state = StateIdle
			s.mu.Unlock()
			return
		}
		s.viewChangeIndex = outcome.newViewIndex
		s.state = StateIdle
		s.mu.Unlock()
		viewIdx = outcome.newViewIndex
	}
}

func (s *Sumeragi) viewIndex() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewChangeIndex
}

func (s *Sumeragi) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// runRound drives one (height, view) attempt through propose/vote/commit,
// or times out into a view change.
func (s *Sumeragi) runRound(ctx context.Context, r *round) roundOutcome {
	params := s.wsv.View().Parameters()
	self := s.self.Public

	prevHash, prevErr := s.prevHash()
	if prevErr != nil {
		s.logger.WithError(prevErr).Error("sumeragi: cannot determine previous block hash")
		return s.viewChangeOutcome(ctx, r, params)
	}

	var ownScope *wsv.BlockTransaction
	var ownHeader datamodel.BlockHeader
	var ownCommitted []datamodel.CommittedTransaction
	haveOwn := false

	isVoter := r.topo.IsVoter(self)

	if r.topo.IsLeader(self) {
		s.waitProposalGate(ctx, params)
		scope, header, committed, err := s.proposeBlock(r, params, prevHash)
		if err != nil {
			s.logger.WithError(err).Error("sumeragi: propose failed")
			return s.viewChangeOutcome(ctx, r, params)
		}
		ownScope, ownHeader, ownCommitted, haveOwn = scope, header, committed, true

		block := datamodel.Block{Header: header, Transactions: committed}
		if err := s.net.Broadcast(SumeragiTopic, Message{Kind: MessageBlockCreated, BlockCreated: &BlockCreated{Block: block}}); err != nil {
			s.logger.WithError(err).Warn("sumeragi: broadcast BlockCreated failed")
		}
	}

	// Voters allow the leader its full block_time gate plus the commit
	// window before suspecting it silent.
	blockTimeout := time.NewTimer(params.BlockTime + params.CommitTimeout)
	defer blockTimeout.Stop()

	s.setState(StateVoting)
	if isVoter && !r.topo.IsLeader(self) {
		// Wait for the leader's proposal, replay it locally, and sign if it
		// matches what this peer independently computes.
		select {
		case created := <-r.created:
			scope, header, committed, err := s.validateProposal(r, params, prevHash, created.Block)
			if err != nil {
				s.logger.WithError(err).Warn("sumeragi: proposal failed local validation")
				return s.viewChangeOutcome(ctx, r, params)
			}
			ownScope, ownHeader, ownCommitted, haveOwn = scope, header, committed, true

			sig, err := datamodel.NewSignatureOf(s.self, header)
			if err != nil {
				s.logger.WithError(err).Error("sumeragi: sign header failed")
				return s.viewChangeOutcome(ctx, r, params)
			}
			msg := Message{Kind: MessageBlockSigned, BlockSigned: &BlockSigned{Height: r.height, Header: header, Signature: sig}}
			if r.topo.IsProxyTail(self) {
				s.dispatch(Inbound{From: self, Msg: msg})
			} else if err := s.net.SendTo(r.topo.ProxyTail(), SumeragiTopic, msg); err != nil {
				s.logger.WithError(err).Warn("sumeragi: send BlockSigned failed")
			}
		case <-blockTimeout.C:
			return s.viewChangeOutcome(ctx, r, params)
		case <-ctx.Done():
			if haveOwn {
				ownScope.Revert()
			}
			return roundOutcome{}
		}
	} else if r.topo.IsLeader(self) {
		sig, err := datamodel.NewSignatureOf(s.self, ownHeader)
		if err == nil {
			msg := Message{Kind: MessageBlockSigned, BlockSigned: &BlockSigned{Height: r.height, Header: ownHeader, Signature: sig}}
			if r.topo.IsProxyTail(self) {
				s.dispatch(Inbound{From: self, Msg: msg})
			} else if err := s.net.SendTo(r.topo.ProxyTail(), SumeragiTopic, msg); err != nil {
				s.logger.WithError(err).Warn("sumeragi: send BlockSigned failed")
			}
		}
	}

	s.setState(StateCommitting)
	if r.topo.IsProxyTail(self) {
		outcome := s.runProxyTail(ctx, r, params, ownHeader, ownCommitted, haveOwn)
		if outcome.committed && haveOwn && outcome.certificate != nil {
			s.commitOwn(ownScope, *outcome.certificate, params)
		} else if !outcome.committed && haveOwn {
			ownScope.Revert()
			s.markInvalidated(ownHeader)
		}
		return outcome
	}

	// Non-proxy-tail voters and observers wait for BlockCommitted.
	commitTimeout := time.NewTimer(params.CommitTimeout)
	defer commitTimeout.Stop()
	select {
	case bc := <-r.committed:
		if haveOwn && bc.SignedBlock.Block.Header == ownHeader {
			if s.forceSoftFork {
				ownScope.Revert()
				if err := s.applyForeignBlock(bc.SignedBlock, r.topo, params); err != nil {
					s.logger.WithError(err).Error("sumeragi: forced soft-fork apply failed")
					return s.viewChangeOutcome(ctx, r, params)
				}
				return roundOutcome{committed: true}
			}
			s.commitOwn(ownScope, bc.SignedBlock, params)
			return roundOutcome{committed: true}
		}
		if haveOwn {
			ownScope.Revert()
			s.markInvalidated(ownHeader)
		}
		if err := s.applyForeignBlock(bc.SignedBlock, r.topo, params); err != nil {
			s.logger.WithError(err).Error("sumeragi: failed to apply certified block")
			return s.viewChangeOutcome(ctx, r, params)
		}
		return roundOutcome{committed: true}
	case <-commitTimeout.C:
		if haveOwn {
			ownScope.Revert()
			s.markInvalidated(ownHeader)
		}
		return s.viewChangeOutcome(ctx, r, params)
	case <-ctx.Done():
		if haveOwn {
			ownScope.Revert()
		}
		return roundOutcome{}
	}
}

// markInvalidated records an in-flight block candidate killed by a view
// change, so a late BlockCommitted for it is refused rather than applied.
func (s *Sumeragi) markInvalidated(header datamodel.BlockHeader) {
	h, err := datamodel.NewHashOf(header)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.invalidated[h.Hash()] = true
	s.mu.Unlock()
}

// waitProposalGate delays a leader's proposal until block_time has elapsed
// or the queue has a full block's worth of transactions, whichever comes
// first.
func (s *Sumeragi) waitProposalGate(ctx context.Context, params datamodel.Parameters) {
	if params.BlockTime <= 0 {
		return
	}
	deadline := time.NewTimer(params.BlockTime)
	defer deadline.Stop()
	poll := params.BlockTime / 10
	if poll <= 0 {
		poll = time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			if params.MaxTransactionsInBlock > 0 && uint32(s.queue.Len()) >= params.MaxTransactionsInBlock {
				return
			}
		}
	}
}

// proposeBlock drains the queue, opens the peer's block scope, and runs
// every popped transaction through the pipeline.
func (s *Sumeragi) proposeBlock(r *round, params datamodel.Parameters, prevHash datamodel.Hash) (*wsv.BlockTransaction, datamodel.BlockHeader, []datamodel.CommittedTransaction, error) {
	view := s.wsv.View()
	now := time.Now()
	n := s.queueBatchSize
	if params.MaxTransactionsInBlock > 0 && int(params.MaxTransactionsInBlock) < n {
		n = int(params.MaxTransactionsInBlock)
	}
	batch := s.queue.PopBatch(n, view, now)

	root, err := merkleRoot(batch)
	if err != nil {
		return nil, datamodel.BlockHeader{}, nil, err
	}
	header := datamodel.BlockHeader{
		PrevHash:               prevHash,
		Height:                 r.height,
		Timestamp:              now,
		TransactionsMerkleRoot: root,
		ViewChangeIndex:        r.viewIdx,
		ConsensusEstimation:    params.BlockTime,
	}

	scope, err := s.wsv.OpenBlock(header)
	if err != nil {
		return nil, datamodel.BlockHeader{}, nil, err
	}

	pipeline := txpipeline.NewPipeline(s.exec, view.Executor().Wasm, view.Schema(), s.triggerBudget)
	committed := make([]datamodel.CommittedTransaction, 0, len(batch))
	for _, tx := range batch {
		ct, err := pipeline.Run(scope, tx, params)
		if err != nil {
			scope.Revert()
			return nil, datamodel.BlockHeader{}, nil, err
		}
		committed = append(committed, ct)
	}
	return scope, header, committed, nil
}

// validateProposal replays a received BlockCreated against this peer's own
// WSV and pipeline, to be compared against what the leader claims.
func (s *Sumeragi) validateProposal(r *round, params datamodel.Parameters, prevHash datamodel.Hash, block datamodel.Block) (*wsv.BlockTransaction, datamodel.BlockHeader, []datamodel.CommittedTransaction, error) {
	if block.Header.PrevHash != prevHash || block.Header.Height != r.height {
		return nil, datamodel.BlockHeader{}, nil, fmt.Errorf("sumeragi: proposal does not extend this peer's chain tip")
	}
	view := s.wsv.View()
	scope, err := s.wsv.OpenBlock(block.Header)
	if err != nil {
		return nil, datamodel.BlockHeader{}, nil, err
	}
	pipeline := txpipeline.NewPipeline(s.exec, view.Executor().Wasm, view.Schema(), s.triggerBudget)
	committed := make([]datamodel.CommittedTransaction, 0, len(block.Transactions))
	for _, ct := range block.Transactions {
		accepted := datamodel.AcceptedTransaction{SignedTransaction: ct.SignedTransaction}
		own, err := pipeline.Run(scope, accepted, params)
		if err != nil {
			scope.Revert()
			return nil, datamodel.BlockHeader{}, nil, err
		}
		committed = append(committed, own)
	}
	root, err := merkleRootFromSigned(block.Transactions)
	if err != nil {
		scope.Revert()
		return nil, datamodel.BlockHeader{}, nil, err
	}
	if root != block.Header.TransactionsMerkleRoot {
		scope.Revert()
		return nil, datamodel.BlockHeader{}, nil, fmt.Errorf("sumeragi: proposal merkle root mismatch")
	}
	return scope, block.Header, committed, nil
}

// runProxyTail collects BlockSigned messages until a quorum of 2f+1
// distinct signers is reached, then certifies and broadcasts the block.
func (s *Sumeragi) runProxyTail(ctx context.Context, r *round, params datamodel.Parameters, header datamodel.BlockHeader, committed []datamodel.CommittedTransaction, haveOwn bool) roundOutcome {
	if !haveOwn {
		return s.viewChangeOutcome(ctx, r, params)
	}
	var sigs datamodel.SignaturesOf[datamodel.BlockHeader]
	got := false
	deadline := time.NewTimer(params.CommitTimeout)
	defer deadline.Stop()

	for {
		select {
		case bs := <-r.signed:
			if bs.Height != r.height || bs.Header != header {
				continue
			}
			var err error
			if !got {
				sigs, err = datamodel.NewSignaturesOf(header, []datamodel.SignatureOf[datamodel.BlockHeader]{bs.Signature})
				got = err == nil
			} else {
				sigs, err = sigs.Add(header, bs.Signature)
			}
			if err != nil {
				s.logger.WithError(err).Warn("sumeragi: rejected BlockSigned with bad signature")
				continue
			}
			if sigs.Len() >= r.topo.QuorumSize() {
				signedBlock := datamodel.SignedBlock{Block: datamodel.Block{Header: header, Transactions: committed}, Signatures: sigs}
				if err := s.net.Broadcast(SumeragiTopic, Message{Kind: MessageBlockCommitted, BlockCommitted: &BlockCommitted{SignedBlock: signedBlock}}); err != nil {
					s.logger.WithError(err).Warn("sumeragi: broadcast BlockCommitted failed")
				}
				return roundOutcome{committed: true, certificate: &signedBlock}
			}
		case <-deadline.C:
			return s.viewChangeOutcome(ctx, r, params)
		case <-ctx.Done():
			return roundOutcome{}
		}
	}
}

// commitOwn finalizes a block this peer already independently computed:
// commits the open scope, persists the certified block (signatures and
// all, so block-sync can later hand it to peers that will re-check the
// quorum) to Kura, and drains triggers.
func (s *Sumeragi) commitOwn(scope *wsv.BlockTransaction, certified datamodel.SignedBlock, params datamodel.Parameters) {
	events := scope.Commit()
	if err := s.kura.StoreBlock(&certified); err != nil {
		s.logger.WithError(err).Error("sumeragi: kura store failed")
	}
	s.drainTriggers(events, params)
}

// applyForeignBlock installs a certified block this peer never proposed or
// voted on (soft-fork acceptance, or a peer that sat out voting): it
// checks the quorum and then replays the already-decided transactions
// rather than re-running validate_transaction a third time.
func (s *Sumeragi) applyForeignBlock(sb datamodel.SignedBlock, topo Topology, params datamodel.Parameters) error {
	// Height 1 is the one case with no prior topology to have voted with
	// at all: the genesis submitter's own signature is all there ever was.
	minSignatures := topo.QuorumSize()
	if sb.Block.Header.Height == 1 {
		minSignatures = 1
	}
	if sb.Signatures.Len() < minSignatures {
		return fmt.Errorf("sumeragi: certified block has only %d signatures, need %d", sb.Signatures.Len(), minSignatures)
	}
	if bh, err := datamodel.NewHashOf(sb.Block.Header); err == nil {
		s.mu.Lock()
		dead := s.invalidated[bh.Hash()]
		s.mu.Unlock()
		if dead {
			return fmt.Errorf("sumeragi: block %s was invalidated by a view change", bh)
		}
	}
	scope, err := s.wsv.OpenBlock(sb.Block.Header)
	if err != nil {
		return err
	}
	view := s.wsv.View()
	pipeline := txpipeline.NewPipeline(s.exec, view.Executor().Wasm, view.Schema(), s.triggerBudget)
	if err := pipeline.Replay(scope, sb.Block.Transactions, params); err != nil {
		scope.Revert()
		return err
	}
	events := scope.Commit()
	if err := s.kura.StoreBlock(&sb); err != nil {
		s.logger.WithError(err).Error("sumeragi: kura store failed")
	}
	s.drainTriggers(events, params)
	return nil
}

func (s *Sumeragi) drainTriggers(events []wsv.Event, params datamodel.Parameters) {
	if len(events) == 0 {
		return
	}
	view := s.wsv.View()
	pipeline := txpipeline.NewPipeline(s.exec, view.Executor().Wasm, view.Schema(), s.triggerBudget)
	header := datamodel.BlockHeader{} // trigger draining opens its own nested scope; header is unused beyond opening
	block, err := s.wsv.OpenBlock(header)
	if err != nil {
		// A block scope is already open (should not happen: commit/replay
		// already released it); skip this round's trigger drain rather
		// than blocking the peer.
		s.logger.WithError(err).Warn("sumeragi: skipping trigger drain, block scope busy")
		return
	}
	if err := pipeline.DrainTriggers(block, events, params); err != nil {
		s.logger.WithError(err).Warn("sumeragi: trigger drain did not fully converge")
	}
	block.Commit()
}

// viewChangeOutcome runs the view-change sub-protocol: broadcast this
// peer's signed statement, collect 2f+1 matching signatures, and return
// the new view index.
func (s *Sumeragi) viewChangeOutcome(ctx context.Context, r *round, params datamodel.Parameters) roundOutcome {
	s.mu.Lock()
	s.state = StateViewChanging
	s.mu.Unlock()

	newView := r.viewIdx + 1
	statement := ViewChangeStatement{Height: r.height, PrevViewIndex: r.viewIdx, NewViewIndex: newView}
	sig, err := datamodel.NewSignatureOf(s.self, statement)
	if err != nil {
		s.logger.WithError(err).Error("sumeragi: sign view change statement failed")
		return roundOutcome{newViewIndex: newView}
	}
	msg := Message{Kind: MessageViewChangeSuggested, ViewChangeSuggested: &ViewChangeSuggested{Statement: statement, Signature: sig}}
	if err := s.net.Broadcast(SumeragiTopic, msg); err != nil {
		s.logger.WithError(err).Warn("sumeragi: broadcast ViewChangeSuggested failed")
	}

	sigs, err := datamodel.NewSignaturesOf(statement, []datamodel.SignatureOf[ViewChangeStatement]{sig})
	if err != nil {
		return roundOutcome{newViewIndex: newView}
	}
	deadline := time.NewTimer(params.CommitTimeout)
	defer deadline.Stop()
	for sigs.Len() < r.topo.QuorumSize() {
		select {
		case vc := <-r.viewChange:
			if vc.Statement != statement {
				continue
			}
			if merged, err := sigs.Add(statement, vc.Signature); err == nil {
				sigs = merged
			}
		case <-deadline.C:
			return roundOutcome{newViewIndex: newView}
		case <-ctx.Done():
			return roundOutcome{newViewIndex: newView}
		}
	}
	proof := ViewChangeProof{Statement: statement, Signatures: sigs}
	s.logger.WithFields(logrus.Fields{
		"height":     proof.Statement.Height,
		"new_view":   proof.Statement.NewViewIndex,
		"signatures": proof.Signatures.Len(),
	}).Info("sumeragi: view change certified")
	return roundOutcome{newViewIndex: newView}
}

func (s *Sumeragi) prevHash() (datamodel.Hash, error) {
	if s.height == 0 {
		return datamodel.Hash{}, nil
	}
	blk, err := s.kura.GetBlock(s.height)
	if err != nil {
		return datamodel.Hash{}, err
	}
	if blk == nil {
		return datamodel.Hash{}, fmt.Errorf("sumeragi: missing block at height %d", s.height)
	}
	h, err := blk.Block.Hash()
	if err != nil {
		return datamodel.Hash{}, err
	}
	return h.Hash(), nil
}

// State returns the peer's current consensus phase, for the peer
// supervisor's status reporting.
func (s *Sumeragi) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Height returns the last committed block height.
func (s *Sumeragi) Height() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height
}

// ApplyBlockSyncUpdate installs a block delivered by package blocksync,
// applying the exact same signature and header checks a normally committed
// block receives. It rejects anything that isn't the immediate next
// height, leaving gaps for a later gossip round to fill.
func (s *Sumeragi) ApplyBlockSyncUpdate(sb datamodel.SignedBlock) error {
	s.mu.Lock()
	expected := s.height + 1
	if sb.Block.Header.Height != expected {
		s.mu.Unlock()
		return fmt.Errorf("sumeragi: block-sync update at height %d, expected %d", sb.Block.Header.Height, expected)
	}
	s.mu.Unlock()

	topo := ComputeTopology(s.peers, sb.Block.Header.ViewChangeIndex)
	params := s.wsv.View().Parameters()
	if err := s.applyForeignBlock(sb, topo, params); err != nil {
		return err
	}

	s.mu.Lock()
	s.height = expected
	s.mu.Unlock()
	return nil
}

type txMerkleInput struct {
	Hashes []datamodel.Hash
}

func merkleRoot(batch []datamodel.AcceptedTransaction) (datamodel.Hash, error) {
	hashes := make([]datamodel.Hash, len(batch))
	for i, tx := range batch {
		h, err := tx.SignedTransaction.Hash()
		if err != nil {
			return datamodel.Hash{}, err
		}
		hashes[i] = h.Hash()
	}
	root, err := datamodel.NewHashOf(txMerkleInput{Hashes: hashes})
	if err != nil {
		return datamodel.Hash{}, err
	}
	return root.Hash(), nil
}

func merkleRootFromSigned(committed []datamodel.CommittedTransaction) (datamodel.Hash, error) {
	hashes := make([]datamodel.Hash, len(committed))
	for i, ct := range committed {
		h, err := ct.SignedTransaction.Hash()
		if err != nil {
			return datamodel.Hash{}, err
		}
		hashes[i] = h.Hash()
	}
	root, err := datamodel.NewHashOf(txMerkleInput{Hashes: hashes})
	if err != nil {
		return datamodel.Hash{}, err
	}
	return root.Hash(), nil
}
