package peer

import (
	"fmt"
	"time"

	"iroha-peer/internal/datamodel"
)

// genesisDomain is the fixed domain genesis registers to hold the
// submitter's own account, before any user-defined domains exist.
const genesisDomain = datamodel.Name("genesis")

// genesisMerkleInput mirrors the shape sumeragi's own (unexported) merkle
// helper hashes over; defined separately here since nothing outside height
// 1 ever re-derives or checks this root (applyForeignBlock trusts a
// certified block's header as given), so any deterministic encoding works.
type genesisMerkleInput struct {
	Hashes []datamodel.Hash
}

// buildGenesisTransactions assembles the fixed sequence a genesis block
// opens with: Upgrade(executor) first, then parameter/domain/account/
// topology setup, each its own transaction signed by key.
func buildGenesisTransactions(key datamodel.KeyPair, chain datamodel.ChainId, trusted []TrustedPeer, executorWasm []byte) ([]datamodel.SignedTransaction, error) {
	now := time.Now()
	self := datamodel.AccountId{Domain: genesisDomain, Key: key.Public}

	peerInstructions := make([]datamodel.Instruction, 0, len(trusted)+1)
	seen := map[string]bool{key.Public.String(): true}
	peerInstructions = append(peerInstructions, datamodel.Instruction{
		Kind: datamodel.InstructionRegister,
		Register: &datamodel.RegisterPayload{
			Kind: datamodel.RegisterPeer,
			Peer: &datamodel.Peer{Id: key.Public},
		},
	})
	for _, tp := range trusted {
		if seen[tp.Id.String()] {
			continue
		}
		seen[tp.Id.String()] = true
		peerInstructions = append(peerInstructions, datamodel.Instruction{
			Kind: datamodel.InstructionRegister,
			Register: &datamodel.RegisterPayload{
				Kind: datamodel.RegisterPeer,
				Peer: &datamodel.Peer{Id: tp.Id, Address: tp.Address},
			},
		})
	}

	groups := [][]datamodel.Instruction{
		{{Kind: datamodel.InstructionUpgrade, Upgrade: &datamodel.UpgradePayload{ExecutorWasm: executorWasm}}},
		{{Kind: datamodel.InstructionSetParameter, SetParameter: &datamodel.SetParameterPayload{Parameters: datamodel.Parameters{
			BlockTime:              2 * time.Second,
			CommitTimeout:          4 * time.Second,
			MaxTransactionsInBlock: 512,
			MaxInstructionsPerTx:   4096,
			ExecutorFuelLimit:      10_000_000,
			ExecutorMaxMemoryBytes: 64 << 20,
			QueuePeriod:            time.Second,
			GossipPeriod:           time.Second,
			IdentifierLengthLimit:  128,
		}}}},
		{
			{Kind: datamodel.InstructionRegister, Register: &datamodel.RegisterPayload{
				Kind:   datamodel.RegisterDomain,
				Domain: &datamodel.Domain{Id: genesisDomain, Owner: self},
			}},
			{Kind: datamodel.InstructionRegister, Register: &datamodel.RegisterPayload{
				Kind: datamodel.RegisterAccount,
				Account: &datamodel.Account{
					Id:          self,
					Signatories: map[datamodel.PublicKey]struct{}{key.Public: {}},
				},
			}},
		},
		peerInstructions,
	}

	out := make([]datamodel.SignedTransaction, 0, len(groups))
	for _, instructions := range groups {
		payload := datamodel.TransactionPayload{
			Chain:        chain,
			Authority:    self,
			Instructions: instructions,
			CreatedAt:    now,
		}
		sig, err := datamodel.NewSignatureOf(key, payload)
		if err != nil {
			return nil, fmt.Errorf("peer: sign genesis transaction: %w", err)
		}
		out = append(out, datamodel.SignedTransaction{
			Chain:        payload.Chain,
			Authority:    payload.Authority,
			Instructions: payload.Instructions,
			CreatedAt:    payload.CreatedAt,
			Signature:    sig,
		})
	}
	return out, nil
}

// submitGenesis constructs, self-certifies and applies the height-1 block
// directly: unlike every later height, there is no predecessor topology to
// vote with, so the submitter's own signature is the block's only
// signature. It is then
// applied through the same ApplyBlockSyncUpdate path block-sync uses,
// which the height==1 exception in applyForeignBlock accepts with a
// single signature, and which itself stores the block in Kura and commits
// it to the WSV. Other peers pick it up through ordinary block-sync gossip
// once they see this peer is a height ahead; no separate genesis wire
// message is needed.
func (s *Supervisor) submitGenesis() error {
	if s.kura.BlockCount() > 0 {
		return nil // already has a chain; nothing to submit
	}
	key := *s.opts.GenesisKeyPair
	chain := s.wsv.View().ChainId()
	txs, err := buildGenesisTransactions(key, chain, s.opts.TrustedPeers, s.opts.GenesisExecutorWasm)
	if err != nil {
		return err
	}

	committed := make([]datamodel.CommittedTransaction, len(txs))
	hashes := make([]datamodel.Hash, len(txs))
	for i, tx := range txs {
		committed[i] = datamodel.CommittedTransaction{SignedTransaction: tx, Status: datamodel.StatusValid}
		h, err := tx.Hash()
		if err != nil {
			return err
		}
		hashes[i] = h.Hash()
	}
	root, err := datamodel.NewHashOf(genesisMerkleInput{Hashes: hashes})
	if err != nil {
		return err
	}

	header := datamodel.BlockHeader{
		PrevHash:               datamodel.Hash{},
		Height:                 1,
		Timestamp:              time.Now(),
		TransactionsMerkleRoot: root.Hash(),
	}
	sig, err := datamodel.NewSignatureOf(key, header)
	if err != nil {
		return fmt.Errorf("peer: sign genesis header: %w", err)
	}
	sigs, err := datamodel.NewSignaturesOf(header, []datamodel.SignatureOf[datamodel.BlockHeader]{sig})
	if err != nil {
		return fmt.Errorf("peer: certify genesis header: %w", err)
	}

	signedBlock := datamodel.SignedBlock{
		Block:      datamodel.Block{Header: header, Transactions: committed},
		Signatures: sigs,
	}
	if err := s.sumer.ApplyBlockSyncUpdate(signedBlock); err != nil {
		return fmt.Errorf("peer: apply genesis block: %w", err)
	}
	return nil
}
