package queue

import (
	"crypto/ed25519"
	"testing"
	"time"

	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/wsv"
)

func newAccount(t *testing.T, domain datamodel.DomainId) (datamodel.AccountId, datamodel.KeyPair) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var pk datamodel.PublicKey
	pk.Algorithm = "ed25519"
	copy(pk.Bytes[:], pub)
	return datamodel.AccountId{Domain: domain, Key: pk}, datamodel.KeyPair{Public: pk, Private: priv}
}

func newWorldWithAccounts(t *testing.T, accounts ...datamodel.AccountId) *datamodel.World {
	t.Helper()
	w := datamodel.NewWorld("test-chain")
	dom := &datamodel.Domain{Id: "wonderland", Accounts: make(map[datamodel.AccountId]*datamodel.Account)}
	for _, id := range accounts {
		dom.Accounts[id] = &datamodel.Account{
			Id:          id,
			Signatories: map[datamodel.PublicKey]struct{}{id.Key: {}},
			Assets:      make(map[datamodel.AssetId]*datamodel.Asset),
		}
	}
	w.Domains["wonderland"] = dom
	return w
}

func signedTx(t *testing.T, kp datamodel.KeyPair, authority datamodel.AccountId) datamodel.SignedTransaction {
	t.Helper()
	payload := datamodel.TransactionPayload{
		Chain:     "test-chain",
		Authority: authority,
		CreatedAt: time.Now(),
	}
	sig, err := datamodel.NewSignatureOf(kp, payload)
	if err != nil {
		t.Fatalf("NewSignatureOf: %v", err)
	}
	return datamodel.SignedTransaction{
		Chain:      payload.Chain,
		Authority:  payload.Authority,
		CreatedAt:  payload.CreatedAt,
		TimeToLive: payload.TimeToLive,
		Signature:  sig,
	}
}

func TestPushRejectsDuplicate(t *testing.T) {
	acc, kp := newAccount(t, "wonderland")
	world := newWorldWithAccounts(t, acc)
	view := wsv.New(world).View()

	q := New(Config{Capacity: 10, CapacityPerUser: 10, TransactionTTL: time.Hour})
	tx := signedTx(t, kp, acc)

	now := time.Now()
	if err := q.Push(tx, view, now); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := q.Push(tx, view, now); err != ErrDuplicate {
		t.Fatalf("second push = %v, want ErrDuplicate", err)
	}
}

func TestPushRejectsUnknownAccount(t *testing.T) {
	acc, kp := newAccount(t, "wonderland")
	stranger, _ := newAccount(t, "wonderland")
	world := newWorldWithAccounts(t, acc) // stranger never registered
	view := wsv.New(world).View()

	q := New(Config{Capacity: 10, CapacityPerUser: 10, TransactionTTL: time.Hour})
	tx := signedTx(t, kp, stranger)

	if err := q.Push(tx, view, time.Now()); err != ErrUnknownAccount {
		t.Fatalf("push for unknown account = %v, want ErrUnknownAccount", err)
	}
}

func TestPushEnforcesCapacities(t *testing.T) {
	acc, kp := newAccount(t, "wonderland")
	world := newWorldWithAccounts(t, acc)
	view := wsv.New(world).View()

	q := New(Config{Capacity: 1, CapacityPerUser: 10, TransactionTTL: time.Hour})
	now := time.Now()

	tx1 := datamodel.SignedTransaction{
		Chain: "test-chain", Authority: acc, CreatedAt: now,
	}
	sig1, _ := datamodel.NewSignatureOf(kp, datamodel.TransactionPayload{Chain: "test-chain", Authority: acc, CreatedAt: now})
	tx1.Signature = sig1

	tx2 := datamodel.SignedTransaction{
		Chain: "test-chain", Authority: acc, CreatedAt: now.Add(time.Millisecond),
	}
	sig2, _ := datamodel.NewSignatureOf(kp, datamodel.TransactionPayload{Chain: "test-chain", Authority: acc, CreatedAt: now.Add(time.Millisecond)})
	tx2.Signature = sig2

	if err := q.Push(tx1, view, now); err != nil {
		t.Fatalf("push tx1: %v", err)
	}
	if err := q.Push(tx2, view, now); err != ErrQueueFull {
		t.Fatalf("push tx2 = %v, want ErrQueueFull", err)
	}
}

func TestPopBatchIsRoundRobinAcrossAccounts(t *testing.T) {
	accA, kpA := newAccount(t, "wonderland")
	accB, kpB := newAccount(t, "wonderland")
	world := newWorldWithAccounts(t, accA, accB)
	view := wsv.New(world).View()

	q := New(Config{Capacity: 100, CapacityPerUser: 100, TransactionTTL: time.Hour})
	now := time.Now()

	// Account A gets three transactions, account B gets one.
	for i := 0; i < 3; i++ {
		payload := datamodel.TransactionPayload{Chain: "test-chain", Authority: accA, CreatedAt: now.Add(time.Duration(i) * time.Millisecond)}
		sig, _ := datamodel.NewSignatureOf(kpA, payload)
		tx := datamodel.SignedTransaction{Chain: payload.Chain, Authority: payload.Authority, CreatedAt: payload.CreatedAt, Signature: sig}
		if err := q.Push(tx, view, now); err != nil {
			t.Fatalf("push A[%d]: %v", i, err)
		}
	}
	payloadB := datamodel.TransactionPayload{Chain: "test-chain", Authority: accB, CreatedAt: now}
	sigB, _ := datamodel.NewSignatureOf(kpB, payloadB)
	txB := datamodel.SignedTransaction{Chain: payloadB.Chain, Authority: payloadB.Authority, CreatedAt: payloadB.CreatedAt, Signature: sigB}
	if err := q.Push(txB, view, now); err != nil {
		t.Fatalf("push B: %v", err)
	}

	batch := q.PopBatch(2, view, now)
	if len(batch) != 2 {
		t.Fatalf("PopBatch(2) returned %d transactions, want 2", len(batch))
	}
	seen := map[string]bool{}
	for _, tx := range batch {
		seen[tx.SignedTransaction.Authority.String()] = true
	}
	if !seen[accA.String()] || !seen[accB.String()] {
		t.Fatalf("round-robin did not serve both accounts in first two pops: %v", batch)
	}
	if q.Len() != 2 {
		t.Fatalf("Len() after pop = %d, want 2", q.Len())
	}
}

func TestPopBatchEvictsExpired(t *testing.T) {
	acc, kp := newAccount(t, "wonderland")
	world := newWorldWithAccounts(t, acc)
	view := wsv.New(world).View()

	q := New(Config{Capacity: 10, CapacityPerUser: 10, TransactionTTL: time.Millisecond})
	now := time.Now()
	tx := signedTx(t, kp, acc)
	if err := q.Push(tx, view, now); err != nil {
		t.Fatalf("push: %v", err)
	}

	later := now.Add(time.Second)
	batch := q.PopBatch(10, view, later)
	if len(batch) != 0 {
		t.Fatalf("expected expired transaction to be discarded, got %v", batch)
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after expiry sweep", q.Len())
	}
}
