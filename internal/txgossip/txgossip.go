// Package txgossip implements transaction gossip: a peer periodically
// shares transactions from its own queue with its neighbors, and ingests
// whatever a neighbor sends it into its own queue, subject to the same
// admission checks a locally submitted transaction receives.
package txgossip

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"iroha-peer/internal/datamodel"
)

// Topic is the single gossip topic transactions travel over.
const Topic = "txgossip"

// Transport is the seam into p2pnet this package depends on.
type Transport interface {
	Broadcast(topic string, payload []byte) error
	Subscribe(topic string) (<-chan []byte, func(), error)
}

// Accepter is the seam into package queue/txpipeline: a gossiped
// transaction gets exactly the admission treatment a locally submitted one
// would (accept, then push), never a shortcut around it.
type Accepter interface {
	AcceptGossipedTransaction(tx datamodel.SignedTransaction) error
}

// Config bounds the gossip task.
type Config struct {
	GossipPeriod time.Duration
	GossipSize   int
}

// Message is the wire envelope for a batch of gossiped transactions.
type Message struct {
	Transactions []datamodel.SignedTransaction
}

// Source supplies the next batch of transactions this peer should offer its
// neighbors (recently accepted, not the whole queue).
type Source interface {
	RecentlyAccepted(max int) []datamodel.SignedTransaction
}

// TxGossip is the per-peer transaction dissemination task.
type TxGossip struct {
	logger    *logrus.Logger
	transport Transport
	accepter  Accepter
	source    Source
	cfg       Config
}

// New constructs a TxGossip task.
func New(logger *logrus.Logger, transport Transport, accepter Accepter, source Source, cfg Config) *TxGossip {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.GossipPeriod <= 0 {
		cfg.GossipPeriod = time.Second
	}
	if cfg.GossipSize <= 0 {
		cfg.GossipSize = 64
	}
	return &TxGossip{logger: logger, transport: transport, accepter: accepter, source: source, cfg: cfg}
}

// Start runs the periodic broadcast loop and the inbound ingest loop until
// ctx is cancelled.
func (g *TxGossip) Start(ctx context.Context) {
	inbound, unsub, err := g.transport.Subscribe(Topic)
	if err != nil {
		g.logger.WithError(err).Error("txgossip: subscribe failed")
		return
	}
	go g.broadcastLoop(ctx)
	go g.ingestLoop(ctx, inbound, unsub)
}

func (g *TxGossip) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.GossipPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.broadcastOnce()
		}
	}
}

func (g *TxGossip) broadcastOnce() {
	txs := g.source.RecentlyAccepted(g.cfg.GossipSize)
	if len(txs) == 0 {
		return
	}
	payload, err := encode(Message{Transactions: txs})
	if err != nil {
		return
	}
	if err := g.transport.Broadcast(Topic, payload); err != nil {
		g.logger.WithError(err).Debug("txgossip: broadcast failed")
	}
}

func (g *TxGossip) ingestLoop(ctx context.Context, inbound <-chan []byte, unsub func()) {
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-inbound:
			if !ok {
				return
			}
			msg, err := decode(payload)
			if err != nil {
				continue
			}
			for _, tx := range msg.Transactions {
				if err := g.accepter.AcceptGossipedTransaction(tx); err != nil {
					g.logger.WithError(err).Debug("txgossip: rejected gossiped transaction")
				}
			}
		}
	}
}

func encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("txgossip: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (Message, error) {
	var msg Message
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("txgossip: decode: %w", err)
	}
	return msg, nil
}
