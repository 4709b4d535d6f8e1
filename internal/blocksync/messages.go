package blocksync

import "iroha-peer/internal/datamodel"

// Topic is the single gossip topic block-sync requests and responses
// travel over.
const Topic = "blocksync"

// MessageKind discriminates the two block-sync wire variants.
type MessageKind int

const (
	MessageGetBlocksAfter MessageKind = iota
	MessageShareBlocks
)

// Message is the closed sum type carried on Topic, mirroring
// sumeragi.Message's one-struct-per-variant shape.
type Message struct {
	Kind MessageKind

	GetBlocksAfter *GetBlocksAfter
	ShareBlocks    *ShareBlocks
}

// GetBlocksAfter is a catch-up request: the requester's current
// tip (PrevHash/LatestHash) plus the set of heights it has already seen (so
// a responder racing a previous round doesn't resend them).
type GetBlocksAfter struct {
	PrevHash    datamodel.Hash
	LatestHash  datamodel.Hash
	LatestHeight uint64
	SeenBlocks  []uint64
}

// ShareBlocks streams up to gossip_size blocks in height order, starting at
// the requester's LatestHeight+1, skipping anything already in SeenBlocks.
type ShareBlocks struct {
	Blocks []datamodel.SignedBlock
}
