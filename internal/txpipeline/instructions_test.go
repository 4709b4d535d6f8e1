package txpipeline

import (
	"errors"
	"testing"

	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/wsv"
)

func fixtureKey(b byte) datamodel.PublicKey {
	var pk datamodel.PublicKey
	pk.Algorithm = "ed25519"
	pk.Bytes[0] = b
	return pk
}

// fixtureWorld builds a world with alice and bob in "wonderland", a numeric
// "rose" definition, and alice holding 100 roses.
func fixtureWorld(t *testing.T) (*wsv.WSV, datamodel.AccountId, datamodel.AccountId, datamodel.AssetId) {
	t.Helper()
	alice := datamodel.AccountId{Domain: "wonderland", Key: fixtureKey(1)}
	bob := datamodel.AccountId{Domain: "wonderland", Key: fixtureKey(2)}
	defId := datamodel.AssetDefinitionId{Name: "rose", Domain: "wonderland"}
	aliceRose := datamodel.AssetId{Definition: defId, Account: alice}

	world := datamodel.NewWorld("test-chain")
	dom := &datamodel.Domain{
		Id:               "wonderland",
		Owner:            alice,
		Accounts:         make(map[datamodel.AccountId]*datamodel.Account),
		AssetDefinitions: make(map[datamodel.AssetDefinitionId]*datamodel.AssetDefinition),
	}
	dom.Accounts[alice] = &datamodel.Account{
		Id:          alice,
		Signatories: map[datamodel.PublicKey]struct{}{alice.Key: {}},
		Assets:      make(map[datamodel.AssetId]*datamodel.Asset),
	}
	dom.Accounts[bob] = &datamodel.Account{
		Id:          bob,
		Signatories: map[datamodel.PublicKey]struct{}{bob.Key: {}},
		Assets:      make(map[datamodel.AssetId]*datamodel.Asset),
	}
	dom.AssetDefinitions[defId] = &datamodel.AssetDefinition{
		Id: defId, Owner: alice,
		ValueKind: datamodel.AssetValueNumeric,
		Mintable:  datamodel.MintableInfinitely,
	}
	dom.Accounts[alice].Assets[aliceRose] = &datamodel.Asset{
		Id:    aliceRose,
		Value: datamodel.AssetValue{Kind: datamodel.AssetValueNumeric, Numeric: datamodel.NewNumeric(100, 0)},
	}
	world.Domains["wonderland"] = dom
	return wsv.New(world), alice, bob, aliceRose
}

func numericAmount(n int64) datamodel.AssetValue {
	return datamodel.AssetValue{Kind: datamodel.AssetValueNumeric, Numeric: datamodel.NewNumeric(n, 0)}
}

func transferInstr(src datamodel.AssetId, dst datamodel.AccountId, n int64) datamodel.Instruction {
	return datamodel.Instruction{
		Kind:     datamodel.InstructionTransfer,
		Transfer: &datamodel.TransferPayload{Source: src, Destination: dst, Amount: numericAmount(n)},
	}
}

func balanceOf(t *testing.T, w *wsv.WSV, id datamodel.AssetId) datamodel.Numeric {
	t.Helper()
	a, err := w.View().Asset(id)
	if err != nil {
		t.Fatalf("Asset(%s): %v", id, err)
	}
	return a.Value.Numeric
}

func TestTransferMovesBalance(t *testing.T) {
	w, alice, bob, aliceRose := fixtureWorld(t)
	params := datamodel.Parameters{}

	block, err := w.OpenBlock(datamodel.BlockHeader{Height: 1})
	if err != nil {
		t.Fatalf("OpenBlock: %v", err)
	}
	scope := block.Begin()
	ov := newOverlay(scope.View())
	if err := executeInstruction(ov, alice, transferInstr(aliceRose, bob, 30), params); err != nil {
		t.Fatalf("executeInstruction: %v", err)
	}
	scope.Stage(ov.stageMutations())
	scope.Apply()
	block.Commit()

	if got := balanceOf(t, w, aliceRose); got.Cmp(datamodel.NewNumeric(70, 0)) != 0 {
		t.Fatalf("alice balance = %s, want 70", got)
	}
	bobRose := datamodel.AssetId{Definition: aliceRose.Definition, Account: bob}
	if got := balanceOf(t, w, bobRose); got.Cmp(datamodel.NewNumeric(30, 0)) != 0 {
		t.Fatalf("bob balance = %s, want 30", got)
	}
}

func TestOverTransferFailsWithoutSideEffect(t *testing.T) {
	w, alice, bob, aliceRose := fixtureWorld(t)
	params := datamodel.Parameters{}

	ov := newOverlay(w.View())
	err := executeInstruction(ov, alice, transferInstr(aliceRose, bob, 200), params)
	var ierr *InstructionExecutionError
	if !errors.As(err, &ierr) || ierr.Kind != ErrKindMath {
		t.Fatalf("executeInstruction = %v, want Math error", err)
	}

	if got := balanceOf(t, w, aliceRose); got.Cmp(datamodel.NewNumeric(100, 0)) != 0 {
		t.Fatalf("alice balance = %s, want 100 untouched", got)
	}
	bobRose := datamodel.AssetId{Definition: aliceRose.Definition, Account: bob}
	if _, err := w.View().Asset(bobRose); err != datamodel.ErrNotFound {
		t.Fatalf("bob asset lookup = %v, want ErrNotFound", err)
	}
}

func TestRegisterExistingDomainRejected(t *testing.T) {
	w, alice, _, _ := fixtureWorld(t)
	params := datamodel.Parameters{}

	ov := newOverlay(w.View())
	instr := datamodel.Instruction{
		Kind:     datamodel.InstructionRegister,
		Register: &datamodel.RegisterPayload{Kind: datamodel.RegisterDomain, Domain: &datamodel.Domain{Id: "wonderland"}},
	}
	err := executeInstruction(ov, alice, instr, params)
	var ierr *InstructionExecutionError
	if !errors.As(err, &ierr) || ierr.Kind != ErrKindRepetition {
		t.Fatalf("executeInstruction = %v, want Repetition error", err)
	}
}

// A second transaction in the same block must observe the first one's
// spend, so a balance cannot be spent twice before the block commits.
func TestChildOverlaySeesAppliedSibling(t *testing.T) {
	w, alice, bob, aliceRose := fixtureWorld(t)
	params := datamodel.Parameters{}

	blockOv := newOverlay(w.View())

	tx1 := newChildOverlay(blockOv)
	if err := executeInstruction(tx1, alice, transferInstr(aliceRose, bob, 80), params); err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	blockOv.merge(tx1)

	tx2 := newChildOverlay(blockOv)
	err := executeInstruction(tx2, alice, transferInstr(aliceRose, bob, 80), params)
	var ierr *InstructionExecutionError
	if !errors.As(err, &ierr) || ierr.Kind != ErrKindMath {
		t.Fatalf("second transfer = %v, want Math error (only 20 left)", err)
	}

	tx3 := newChildOverlay(blockOv)
	if err := executeInstruction(tx3, alice, transferInstr(aliceRose, bob, 20), params); err != nil {
		t.Fatalf("third transfer of the remaining 20: %v", err)
	}
}

func TestMintOnceEnforcedAcrossTransactions(t *testing.T) {
	w, alice, _, _ := fixtureWorld(t)
	params := datamodel.Parameters{}

	defId := datamodel.AssetDefinitionId{Name: "medal", Domain: "wonderland"}
	assetId := datamodel.AssetId{Definition: defId, Account: alice}
	blockOv := newOverlay(w.View())

	reg := newChildOverlay(blockOv)
	instr := datamodel.Instruction{
		Kind: datamodel.InstructionRegister,
		Register: &datamodel.RegisterPayload{
			Kind: datamodel.RegisterAssetDefinition,
			AssetDefinition: &datamodel.AssetDefinition{
				Id: defId, Owner: alice,
				ValueKind: datamodel.AssetValueNumeric,
				Mintable:  datamodel.MintableOnce,
			},
		},
	}
	if err := executeInstruction(reg, alice, instr, params); err != nil {
		t.Fatalf("register definition: %v", err)
	}
	blockOv.merge(reg)

	mint := datamodel.Instruction{
		Kind: datamodel.InstructionMint,
		Mint: &datamodel.MintPayload{Asset: assetId, Amount: numericAmount(1)},
	}
	tx1 := newChildOverlay(blockOv)
	if err := executeInstruction(tx1, alice, mint, params); err != nil {
		t.Fatalf("first mint: %v", err)
	}
	blockOv.merge(tx1)

	tx2 := newChildOverlay(blockOv)
	err := executeInstruction(tx2, alice, mint, params)
	var ierr *InstructionExecutionError
	if !errors.As(err, &ierr) || ierr.Kind != ErrKindMintability {
		t.Fatalf("second mint = %v, want Mintability error", err)
	}
}

func TestUnregisterDomainCascades(t *testing.T) {
	w, alice, _, aliceRose := fixtureWorld(t)
	params := datamodel.Parameters{}

	block, err := w.OpenBlock(datamodel.BlockHeader{Height: 1})
	if err != nil {
		t.Fatalf("OpenBlock: %v", err)
	}
	scope := block.Begin()
	ov := newOverlay(scope.View())
	instr := datamodel.Instruction{
		Kind:       datamodel.InstructionUnregister,
		Unregister: &datamodel.UnregisterPayload{Kind: datamodel.RegisterDomain, Id: "wonderland"},
	}
	if err := executeInstruction(ov, alice, instr, params); err != nil {
		t.Fatalf("unregister domain: %v", err)
	}
	scope.Stage(ov.stageMutations())
	scope.Apply()
	block.Commit()

	if _, err := w.View().Domain("wonderland"); err != datamodel.ErrNotFound {
		t.Fatalf("Domain lookup = %v, want ErrNotFound", err)
	}
	if _, err := w.View().Account(alice); err != datamodel.ErrNotFound {
		t.Fatalf("Account lookup = %v, want ErrNotFound", err)
	}
	if _, err := w.View().Asset(aliceRose); err != datamodel.ErrNotFound {
		t.Fatalf("Asset lookup = %v, want ErrNotFound", err)
	}
}
