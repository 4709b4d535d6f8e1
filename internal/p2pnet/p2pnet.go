// Package p2pnet is the gossip transport underlying Sumeragi's consensus
// messages, block-sync, and transaction gossip. It is the only package allowed to import libp2p
// directly; sumeragi and blocksync depend on the narrow NetworkAdapter/
// Transport interfaces they each declare: a libp2p host plus gossipsub,
// with mDNS discovery for LAN bootstrap and explicit multiaddr dialing
// for configured peers.
package p2pnet

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// DirectProtocol is the libp2p stream protocol used for SendTo's unicast
// delivery.
const DirectProtocol = "/iroha/direct/1.0.0"

// Config configures a Node.
type Config struct {
	ListenAddr     string
	PublicAddress  string
	DiscoveryTag   string
	BootstrapPeers []string // multiaddrs, each optionally carrying /p2p/<id>
	Logger         *logrus.Logger
}

// Node wraps a libp2p host plus gossipsub, multiplexing arbitrary named
// topics, plus direct unicast streams for SendTo.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	topicMu sync.Mutex
	topics  map[string]*pubsub.Topic
	subs    map[string]*pubsub.Subscription

	peerMu   sync.RWMutex
	addrBook map[string]peer.AddrInfo // keyed by AddPeerAddress's logical id, or the libp2p id of bootstrap/mDNS peers

	directMu sync.RWMutex
	onDirect func(from string, payload []byte)
}

// NewNode creates and bootstraps a p2pnet Node.
func NewNode(cfg Config) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("p2pnet: new host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("p2pnet: new gossipsub: %w", err)
	}

	n := &Node{
		host:     h,
		pubsub:   ps,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		topics:   make(map[string]*pubsub.Topic),
		subs:     make(map[string]*pubsub.Subscription),
		addrBook: make(map[string]peer.AddrInfo),
	}

	h.SetStreamHandler(DirectProtocol, n.handleDirectStream)

	for _, addr := range cfg.BootstrapPeers {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			cfg.Logger.WithError(err).WithField("addr", addr).Warn("p2pnet: invalid bootstrap addr")
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			cfg.Logger.WithError(err).WithField("peer", info.ID.String()).Warn("p2pnet: bootstrap dial failed")
			continue
		}
		n.peerMu.Lock()
		n.addrBook[info.ID.String()] = *info
		n.peerMu.Unlock()
	}

	if cfg.DiscoveryTag != "" {
		mdns.NewMdnsService(h, cfg.DiscoveryTag, mdnsNotifee{n})
	}

	return n, nil
}

type mdnsNotifee struct{ n *Node }

func (m mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == m.n.host.ID() {
		return
	}
	m.n.peerMu.Lock()
	_, known := m.n.addrBook[info.ID.String()]
	if !known {
		m.n.addrBook[info.ID.String()] = info
	}
	m.n.peerMu.Unlock()
	if known {
		return
	}
	if err := m.n.host.Connect(m.n.ctx, info); err != nil {
		m.n.logger.WithError(err).Warn("p2pnet: mDNS connect failed")
	}
}

// Broadcast publishes payload to every subscriber of topic.
func (n *Node) Broadcast(topic string, payload []byte) error {
	t, err := n.joinTopic(topic)
	if err != nil {
		return err
	}
	return t.Publish(n.ctx, payload)
}

func (n *Node) joinTopic(topic string) (*pubsub.Topic, error) {
	n.topicMu.Lock()
	defer n.topicMu.Unlock()
	t, ok := n.topics[topic]
	if ok {
		return t, nil
	}
	t, err := n.pubsub.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("p2pnet: join topic %s: %w", topic, err)
	}
	n.topics[topic] = t
	return t, nil
}

// Subscribe returns a channel of raw payloads received on topic plus an
// unsubscribe func. The channel is closed when the subscription ends.
func (n *Node) Subscribe(topic string) (<-chan []byte, func(), error) {
	t, err := n.joinTopic(topic)
	if err != nil {
		return nil, nil, err
	}
	n.topicMu.Lock()
	sub, ok := n.subs[topic]
	if !ok {
		sub, err = t.Subscribe()
		if err != nil {
			n.topicMu.Unlock()
			return nil, nil, fmt.Errorf("p2pnet: subscribe topic %s: %w", topic, err)
		}
		n.subs[topic] = sub
	}
	n.topicMu.Unlock()

	out := make(chan []byte, 32)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == n.host.ID() {
				continue // don't echo our own publishes back to ourselves
			}
			select {
			case out <- msg.Data:
			case <-done:
				return
			case <-n.ctx.Done():
				return
			}
		}
	}()
	unsub := func() { close(done) }
	return out, unsub, nil
}

// RawInbound pairs a gossip payload with the libp2p peer id string it
// arrived from, letting a topic responder address a direct reply back to
// the specific requester
// without needing that peer pre-registered via AddPeerAddress.
type RawInbound struct {
	From string
	Data []byte
}

// SubscribeWithSender is Subscribe plus the sender's peer id, for protocols
// (block-sync) that must reply to whoever asked rather than broadcast.
func (n *Node) SubscribeWithSender(topic string) (<-chan RawInbound, func(), error) {
	t, err := n.joinTopic(topic)
	if err != nil {
		return nil, nil, err
	}
	n.topicMu.Lock()
	sub, ok := n.subs[topic]
	if !ok {
		sub, err = t.Subscribe()
		if err != nil {
			n.topicMu.Unlock()
			return nil, nil, fmt.Errorf("p2pnet: subscribe topic %s: %w", topic, err)
		}
		n.subs[topic] = sub
	}
	n.topicMu.Unlock()

	out := make(chan RawInbound, 32)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == n.host.ID() {
				continue
			}
			select {
			case out <- RawInbound{From: msg.ReceivedFrom.String(), Data: msg.Data}:
			case <-done:
				return
			case <-n.ctx.Done():
				return
			}
		}
	}()
	unsub := func() { close(done) }
	return out, unsub, nil
}

// SendToID opens a direct stream to a peer the host already knows about
// from an existing gossipsub connection (its address need not be in
// addrBook: libp2p's peerstore already has it from that connection).
func (n *Node) SendToID(peerID string, payload []byte) error {
	id, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("p2pnet: decode peer id %s: %w", peerID, err)
	}
	s, err := n.host.NewStream(n.ctx, id, DirectProtocol)
	if err != nil {
		return fmt.Errorf("p2pnet: open stream to %s: %w", peerID, err)
	}
	defer s.Close()
	return writeFramed(s, payload)
}

// SendTo opens a direct stream to peerID (an address-book key: the logical
// id passed to AddPeerAddress, or the libp2p id of a bootstrap or
// mDNS-found peer) and writes a length-prefixed payload.
func (n *Node) SendTo(peerID string, payload []byte) error {
	n.peerMu.RLock()
	info, ok := n.addrBook[peerID]
	n.peerMu.RUnlock()
	if !ok {
		return fmt.Errorf("p2pnet: unknown peer %s", peerID)
	}
	s, err := n.host.NewStream(n.ctx, info.ID, DirectProtocol)
	if err != nil {
		return fmt.Errorf("p2pnet: open stream to %s: %w", peerID, err)
	}
	defer s.Close()
	return writeFramed(s, payload)
}

// AddPeerAddress records addr (a multiaddr carrying /p2p/<id>) as the
// reachable address for a logical peer, keyed by the caller's own PeerId
// string form so SendTo can resolve it later.
func (n *Node) AddPeerAddress(logicalID, addr string) error {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("p2pnet: invalid addr %s: %w", addr, err)
	}
	n.peerMu.Lock()
	n.addrBook[logicalID] = *info
	n.peerMu.Unlock()
	return nil
}

// handleDirectStream routes an inbound unicast stream to whatever handler
// OnDirect installed.
func (n *Node) handleDirectStream(s network.Stream) {
	defer s.Close()
	payload, err := readFramed(s)
	if err != nil {
		n.logger.WithError(err).Debug("p2pnet: direct stream read failed")
		return
	}
	n.directMu.RLock()
	h := n.onDirect
	n.directMu.RUnlock()
	if h != nil {
		h(s.Conn().RemotePeer().String(), payload)
	}
}

// OnDirect installs the handler invoked for every unicast message this node
// receives via SendTo.
func (n *Node) OnDirect(h func(from string, payload []byte)) {
	n.directMu.Lock()
	n.onDirect = h
	n.directMu.Unlock()
}

func writeFramed(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFramed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// HostID returns this node's own libp2p peer id string.
func (n *Node) HostID() string { return n.host.ID().String() }

// Close tears down the host and all subscriptions.
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}
