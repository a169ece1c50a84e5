package correlation

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultBuckets is the bucket count of the transaction table.
const DefaultBuckets = 16

// Transaction is one outstanding SNAC request.
type Transaction struct {
	ID       uint32
	Family   uint16
	Subtype  uint16
	Flags    uint16
	Data     []byte
	IssuedAt time.Time
}

// Transactions hands out request ids and holds the caller's correlation
// data until the reply arrives or a sweep expires it.
type Transactions struct {
	mu      sync.Mutex
	clock   clock.Clock
	nextID  uint32
	buckets [][]Transaction
	count   int
	onEvict func(Transaction)
}

type TransactionOption func(*Transactions)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) TransactionOption {
	return func(t *Transactions) {
		t.clock = c
	}
}

// WithBuckets sets the bucket count; values below 1 keep the default.
func WithBuckets(n int) TransactionOption {
	return func(t *Transactions) {
		if n > 0 {
			t.buckets = make([][]Transaction, n)
		}
	}
}

// WithEvictHook is called for every transaction a sweep discards.
func WithEvictHook(fn func(Transaction)) TransactionOption {
	return func(t *Transactions) {
		t.onEvict = fn
	}
}

func NewTransactions(opts ...TransactionOption) *Transactions {
	t := &Transactions{
		clock:   clock.New(),
		buckets: make([][]Transaction, DefaultBuckets),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NextID returns the next request id. Ids start at 1 and only repeat after
// the counter wraps.
func (t *Transactions) NextID() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next()
}

func (t *Transactions) next() uint32 {
	t.nextID++
	return t.nextID
}

// Register allocates an id and stores the request under it.
func (t *Transactions) Register(family, subtype, flags uint16, data []byte) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	tx := Transaction{
		ID:       t.next(),
		Family:   family,
		Subtype:  subtype,
		Flags:    flags,
		Data:     data,
		IssuedAt: t.clock.Now(),
	}
	idx := t.bucket(tx.ID)
	// newest first
	t.buckets[idx] = append([]Transaction{tx}, t.buckets[idx]...)
	t.count++
	return tx.ID
}

// Take removes and returns the transaction with id. A miss is normal: the
// reply may be unsolicited or already consumed.
func (t *Transactions) Take(id uint32) (Transaction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.bucket(id)
	list := t.buckets[idx]
	for i, tx := range list {
		if tx.ID != id {
			continue
		}
		t.buckets[idx] = append(list[:i:i], list[i+1:]...)
		t.count--
		return tx, true
	}
	return Transaction{}, false
}

// Peek returns the transaction without consuming it.
func (t *Transactions) Peek(id uint32) (Transaction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tx := range t.buckets[t.bucket(id)] {
		if tx.ID == id {
			return tx, true
		}
	}
	return Transaction{}, false
}

// Sweep discards every transaction older than minAge and returns how many
// were removed.
func (t *Transactions) Sweep(minAge time.Duration) int {
	t.mu.Lock()
	now := t.clock.Now()
	var evicted []Transaction
	for idx, list := range t.buckets {
		kept := list[:0]
		for _, tx := range list {
			if now.Sub(tx.IssuedAt) > minAge {
				evicted = append(evicted, tx)
				continue
			}
			kept = append(kept, tx)
		}
		t.buckets[idx] = kept
	}
	t.count -= len(evicted)
	hook := t.onEvict
	t.mu.Unlock()

	if hook != nil {
		for _, tx := range evicted {
			hook(tx)
		}
	}
	return len(evicted)
}

func (t *Transactions) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func (t *Transactions) bucket(id uint32) int {
	return int(id % uint32(len(t.buckets)))
}
