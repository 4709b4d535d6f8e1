package sumeragi

import "iroha-peer/internal/datamodel"

// MessageKind discriminates the consensus wire variants:
// BlockCreated|BlockSigned|BlockCommitted|ViewChangeSuggested plus the
// TransactionReceipt liveness probe. The
// BlockSync variants (GetBlocksAfter|ShareBlocks) belong to package
// blocksync; TransactionGossip belongs to package txgossip.
type MessageKind int

const (
	MessageBlockCreated MessageKind = iota
	MessageBlockSigned
	MessageBlockCommitted
	MessageViewChangeSuggested
	MessageTransactionReceipt
)

// Message is the closed sum type carried over the SumeragiMessage topic,
// mirroring datamodel.Instruction's one-struct-per-variant shape.
type Message struct {
	Kind MessageKind

	BlockCreated        *BlockCreated
	BlockSigned         *BlockSigned
	BlockCommitted      *BlockCommitted
	ViewChangeSuggested *ViewChangeSuggested
	TransactionReceipt  *TransactionReceipt
}

// BlockCreated is the leader's proposal.
type BlockCreated struct {
	Block datamodel.Block
}

// BlockSigned is a validator's endorsement of the leader's header after
// checking its prev hash and height against its own tip, replaying the
// proposal's transactions, and matching the merkle root recomputed from
// them. The header's other fields are taken as proposed.
type BlockSigned struct {
	Height    uint64
	Header    datamodel.BlockHeader
	Signature datamodel.SignatureOf[datamodel.BlockHeader]
}

// BlockCommitted is the proxy tail's fully certified block, broadcast once
// 2f+1 signatures are collected.
type BlockCommitted struct {
	SignedBlock datamodel.SignedBlock
}

// ViewChangeStatement is what a view-change signature actually covers.
type ViewChangeStatement struct {
	Height        uint64
	PrevViewIndex uint32
	NewViewIndex  uint32
}

// ViewChangeSuggested carries one peer's signed vote to advance the view;
// ViewChangeProof accumulates these into a quorum.
type ViewChangeSuggested struct {
	Statement ViewChangeStatement
	Signature datamodel.SignatureOf[ViewChangeStatement]
}

// ViewChangeProof is an accepted view change: (height, prev_view_index,
// new_view_index, signatures >= 2f+1).
type ViewChangeProof struct {
	Statement  ViewChangeStatement
	Signatures datamodel.SignaturesOf[ViewChangeStatement]
}

// TransactionReceipt acknowledges a forwarded transaction by hash. No peer
// sends it and the dispatch loop drops it on receipt, so a missing receipt
// triggers no view change.
type TransactionReceipt struct {
	TransactionHash datamodel.Hash
}
