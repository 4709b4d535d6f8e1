// Package queue implements the bounded transaction mempool: global and
// per-account capacity limits, TTL eviction lazy on pop and eager on
// timer, dedup by transaction hash, and round-robin popping across
// accounts so one busy account cannot starve the rest.
package queue

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/wsv"
)

var (
	ErrDuplicate      = errors.New("queue: duplicate transaction")
	ErrQueueFull      = errors.New("queue: at capacity")
	ErrAccountFull    = errors.New("queue: account at capacity_per_user")
	ErrUnknownAccount = errors.New("queue: unknown signatory or account")
)

// Config bounds a Queue.
type Config struct {
	Capacity         int
	CapacityPerUser  int
	TransactionTTL   time.Duration
}

type entry struct {
	tx       datamodel.AcceptedTransaction
	hash     datamodel.Hash
	account  datamodel.AccountId
	arrived  time.Time
	elem     *list.Element // this entry's node in its account queue
}

// Queue is a bounded, per-account-fair mempool. A single mutex-guarded
// struct rather than a lock-free structure: push/pop both walk account
// queues, so fine-grained locking buys little here.
type Queue struct {
	mu  sync.Mutex
	cfg Config

	total int

	byHash    map[datamodel.Hash]*entry
	byAccount map[datamodel.AccountId]*list.List // FIFO of *entry per account
	rotation  *list.List                          // ring of datamodel.AccountId with >=1 pending tx
	ringPos   map[datamodel.AccountId]*list.Element
}

// New constructs an empty Queue.
func New(cfg Config) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if cfg.CapacityPerUser <= 0 {
		cfg.CapacityPerUser = cfg.Capacity
	}
	return &Queue{
		cfg:       cfg,
		byHash:    make(map[datamodel.Hash]*entry),
		byAccount: make(map[datamodel.AccountId]*list.List),
		rotation:  list.New(),
		ringPos:   make(map[datamodel.AccountId]*list.Element),
	}
}

// Push validates tx against view and admits it, enforcing both capacity
// limits and rejecting duplicates.
func (q *Queue) Push(tx datamodel.SignedTransaction, view *wsv.View, now time.Time) error {
	h, err := tx.Hash()
	if err != nil {
		return err
	}
	hash := h.Hash()
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byHash[hash]; ok {
		return ErrDuplicate
	}
	if q.total >= q.cfg.Capacity {
		return ErrQueueFull
	}

	account, err := view.Account(tx.Authority)
	if err != nil {
		return ErrUnknownAccount
	}
	if !q.signatureConditionSatisfiable(account, tx) {
		return ErrUnknownAccount
	}

	accQueue := q.byAccount[tx.Authority]
	if accQueue == nil {
		accQueue = list.New()
		q.byAccount[tx.Authority] = accQueue
	}
	if accQueue.Len() >= q.cfg.CapacityPerUser {
		return ErrAccountFull
	}

	e := &entry{
		tx:      datamodel.AcceptedTransaction{SignedTransaction: tx},
		hash:    hash,
		account: tx.Authority,
		arrived: now,
	}
	e.elem = accQueue.PushBack(e)
	q.byHash[hash] = e
	q.total++

	if _, inRing := q.ringPos[tx.Authority]; !inRing {
		q.ringPos[tx.Authority] = q.rotation.PushBack(tx.Authority)
	}
	return nil
}

// signatureConditionSatisfiable checks that at least one of the account's
// registered signatories backs this transaction's signature. The full
// boolean-expression evaluator lives with the account's
// signature_check_condition, not here.
func (q *Queue) signatureConditionSatisfiable(account *datamodel.Account, tx datamodel.SignedTransaction) bool {
	if len(account.Signatories) == 0 {
		return false
	}
	_, ok := account.Signatories[tx.Signature.Signer]
	return ok
}

// PopBatch removes and returns up to n transactions still valid under
// view, round-robin across accounts so no single account can starve the
// rest. Entries whose TTL has expired or whose account has disappeared are
// discarded, not returned.
func (q *Queue) PopBatch(n int, view *wsv.View, now time.Time) []datamodel.AcceptedTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]datamodel.AcceptedTransaction, 0, n)
	q.evictExpiredLocked(now)

	attempts := 0
	maxAttempts := q.rotation.Len() * 2
	for len(out) < n && q.rotation.Len() > 0 && attempts < maxAttempts+n {
		attempts++
		front := q.rotation.Front()
		account := front.Value.(datamodel.AccountId)
		q.rotation.MoveToBack(front)

		accQueue := q.byAccount[account]
		if accQueue == nil || accQueue.Len() == 0 {
			q.dropFromRotation(account)
			continue
		}

		head := accQueue.Front()
		e := head.Value.(*entry)

		if now.Sub(e.arrived) > q.cfg.TransactionTTL {
			q.removeEntryLocked(e)
			continue
		}
		if _, err := view.Account(e.account); err != nil {
			q.removeEntryLocked(e)
			continue
		}

		accQueue.Remove(head)
		delete(q.byHash, e.hash)
		q.total--
		out = append(out, e.tx)

		if accQueue.Len() == 0 {
			q.dropFromRotation(account)
		}
	}
	return out
}

func (q *Queue) dropFromRotation(account datamodel.AccountId) {
	if elem, ok := q.ringPos[account]; ok {
		q.rotation.Remove(elem)
		delete(q.ringPos, account)
	}
}

func (q *Queue) removeEntryLocked(e *entry) {
	accQueue := q.byAccount[e.account]
	if accQueue != nil {
		accQueue.Remove(e.elem)
		if accQueue.Len() == 0 {
			q.dropFromRotation(e.account)
		}
	}
	delete(q.byHash, e.hash)
	q.total--
}

// evictExpiredLocked sweeps every account queue for TTL-expired entries.
// Callers drive this from a time.Ticker (see peer supervisor).
func (q *Queue) evictExpiredLocked(now time.Time) {
	for account, accQueue := range q.byAccount {
		for elem := accQueue.Front(); elem != nil; {
			e := elem.Value.(*entry)
			next := elem.Next()
			if now.Sub(e.arrived) > q.cfg.TransactionTTL {
				accQueue.Remove(elem)
				delete(q.byHash, e.hash)
				q.total--
				if accQueue.Len() == 0 {
					q.dropFromRotation(account)
				}
			}
			elem = next
		}
	}
}

// EvictExpired eagerly sweeps TTL-expired entries. The peer supervisor
// drives this from a timer, complementing PopBatch's lazy eviction.
func (q *Queue) EvictExpired(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictExpiredLocked(now)
}

// Len returns the total number of pending transactions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// Contains reports whether hash is currently queued.
func (q *Queue) Contains(hash datamodel.Hash) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byHash[hash]
	return ok
}
