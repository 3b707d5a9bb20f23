package discovery

import (
	"sync"

	solanago "github.com/gagliardetto/solana-go"
)

// DefaultTableSize bounds each table when Config.TableSize is unset.
const DefaultTableSize = 4096

// Cursor is a read position into a Table. The zero value starts at the
// oldest retained entry. Callers keep the same Cursor across polls and
// never construct one from a number.
type Cursor struct {
	next uint64
}

// VoteTransaction is a transaction that invokes the Vote program, along
// with the slot it was included in.
type VoteTransaction struct {
	Slot uint64
	Tx   *solanago.Transaction
}

// Table is an append-only ordinal-indexed log. Once more than size entries
// have been appended the oldest ones are evicted; a cursor that fell behind
// resumes at the oldest retained entry.
type Table struct {
	mu    sync.RWMutex
	size  int
	slots ring[uint64]
	votes ring[VoteTransaction]
}

// NewTable creates a Table retaining at most size entries of each kind.
func NewTable(size int) *Table {
	if size <= 0 {
		size = DefaultTableSize
	}
	return &Table{size: size}
}

// AppendSlot records a newly observed slot.
func (t *Table) AppendSlot(slot uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots.push(slot, t.size)
}

// AppendVote records a vote transaction.
func (t *Table) AppendVote(v VoteTransaction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.votes.push(v, t.size)
}

// Slots returns every slot appended since c and advances c.
func (t *Table) Slots(c *Cursor) []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.slots.since(c)
}

// Votes returns every vote appended since c and advances c.
func (t *Table) Votes(c *Cursor) []VoteTransaction {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.votes.since(c)
}

// Len returns the number of retained slots and votes.
func (t *Table) Len() (slots, votes int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.slots.n, t.votes.n
}

// ring is a fixed-capacity circular buffer over an append-only sequence.
// first is the ordinal of the oldest retained entry, stored at buf[head].
type ring[T any] struct {
	buf   []T
	head  int
	n     int
	first uint64
}

func (r *ring[T]) push(v T, size int) {
	if r.buf == nil {
		r.buf = make([]T, size)
	}
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	r.first++
}

func (r *ring[T]) since(c *Cursor) []T {
	if c.next < r.first {
		c.next = r.first
	}
	end := r.first + uint64(r.n)
	if c.next >= end {
		return nil
	}
	out := make([]T, 0, end-c.next)
	for i := int(c.next - r.first); i < r.n; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	c.next = end
	return out
}
