package p2pnet

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/sumeragi"
)

// SumeragiAdapter implements sumeragi.NetworkAdapter over a Node, encoding
// each Message with gob behind the length-prefixed envelope (variant tag +
// payload; gob's own type descriptor serves as the tag here since Message
// is a single closed sum type).
type SumeragiAdapter struct {
	node *Node
	self datamodel.PeerId
	// peerIDs resolves a datamodel.PeerId's string form to the Node
	// address-book key SendTo needs, populated from the same trusted-peer/address
	// configuration the peer supervisor already has.
	peerIDs map[string]string

	directMu sync.RWMutex
	direct   []chan sumeragi.Inbound // every live Subscribe's merge target
}

// NewSumeragiAdapter wraps node for use by package sumeragi. self is this
// peer's own PeerId; it is stored but not otherwise used. It installs its
// own OnDirect handler so unicast deliveries (BlockSigned to the proxy
// tail) surface on the same channel Subscribe hands to Sumeragi, without
// Sumeragi needing to know direct delivery exists as a separate source.
func NewSumeragiAdapter(node *Node, self datamodel.PeerId, peerIDs map[string]string) *SumeragiAdapter {
	a := &SumeragiAdapter{node: node, self: self, peerIDs: peerIDs}
	node.OnDirect(func(from string, payload []byte) {
		msg, err := decodeMessage(payload)
		if err != nil {
			return
		}
		in := sumeragi.Inbound{Msg: msg}
		a.directMu.RLock()
		for _, ch := range a.direct {
			select {
			case ch <- in:
			default:
			}
		}
		a.directMu.RUnlock()
	})
	return a
}

func encodeMessage(msg sumeragi.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("p2pnet: encode sumeragi message: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeMessage(data []byte) (sumeragi.Message, error) {
	var msg sumeragi.Message
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&msg); err != nil {
		return sumeragi.Message{}, fmt.Errorf("p2pnet: decode sumeragi message: %w", err)
	}
	return msg, nil
}

// Broadcast publishes msg to every peer subscribed to topic.
func (a *SumeragiAdapter) Broadcast(topic string, msg sumeragi.Message) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return a.node.Broadcast(topic, payload)
}

// SendTo delivers msg directly to peer over a unicast stream (used for
// BlockSigned, which only the proxy tail needs to see).
func (a *SumeragiAdapter) SendTo(peer datamodel.PeerId, topic string, msg sumeragi.Message) error {
	libp2pID, ok := a.peerIDs[peer.String()]
	if !ok {
		return fmt.Errorf("p2pnet: no known address for peer %s", peer.String())
	}
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return a.node.SendTo(libp2pID, payload)
}

// Subscribe returns a channel merging topic's gossip deliveries with every
// unicast message this node receives via SendTo.
func (a *SumeragiAdapter) Subscribe(topic string) (<-chan sumeragi.Inbound, func()) {
	out := make(chan sumeragi.Inbound, 32)

	a.directMu.Lock()
	a.direct = append(a.direct, out)
	a.directMu.Unlock()

	raw, unsubGossip, err := a.node.Subscribe(topic)
	done := make(chan struct{})
	if err != nil {
		raw = nil
	}
	// out is intentionally never closed: the direct-delivery handler above
	// sends to every live entry in a.direct from an arbitrary libp2p
	// callback goroutine, so closing it here could race a send against a
	// close. unsub removes out from a.direct and stops the gossip reader;
	// the channel itself is left for garbage collection, matching
	// sumeragi.dispatchLoop's select-on-ctx-not-on-close termination.
	go func() {
		for {
			select {
			case <-done:
				return
			case payload, ok := <-raw:
				if !ok {
					return
				}
				msg, err := decodeMessage(payload)
				if err != nil {
					continue
				}
				select {
				case out <- sumeragi.Inbound{Msg: msg}:
				case <-done:
					return
				}
			}
		}
	}()

	unsub := func() {
		close(done)
		if unsubGossip != nil {
			unsubGossip()
		}
		a.directMu.Lock()
		for i, ch := range a.direct {
			if ch == out {
				a.direct = append(a.direct[:i], a.direct[i+1:]...)
				break
			}
		}
		a.directMu.Unlock()
	}
	return out, unsub
}

var _ sumeragi.NetworkAdapter = (*SumeragiAdapter)(nil)
