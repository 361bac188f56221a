// Package seqbuf provides the nested-sequence container used to move token
// batches in and out of the engine without handing out the backing storage.
//
// A Buffer is append-only from the caller's point of view. While an engine
// call holds a borrow on it (see Borrow), mutation panics: the engine reads the
// stored sequences in place instead of copying them.
package seqbuf

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfRange is matched (via errors.Is) by every OutOfRangeError.
var ErrOutOfRange = errors.New("index out of range")

// OutOfRangeError reports an At call past the end of the buffer.
type OutOfRangeError struct {
	Index int
	Len   int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("seqbuf: index %d out of range [0,%d)", e.Index, e.Len)
}

func (e *OutOfRangeError) Unwrap() error { return ErrOutOfRange }

// Buffer is an ordered collection of sequences of T (token strings or ids).
// The zero value is an empty, ready to use buffer.
type Buffer[T any] struct {
	mu       sync.RWMutex
	seqs     [][]T
	borrowed int
}

// New returns an empty buffer.
func New[T any]() *Buffer[T] { return &Buffer[T]{} }

// FromSlices builds a buffer holding copies of seqs.
func FromSlices[T any](seqs [][]T) *Buffer[T] {
	b := &Buffer[T]{}
	b.Reserve(len(seqs))
	for _, s := range seqs {
		b.PushBack(s)
	}
	return b
}

// Reserve grows capacity for at least n more sequences. It is only a hint.
func (b *Buffer[T]) Reserve(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cap(b.seqs)-len(b.seqs) >= n {
		return
	}
	grown := make([][]T, len(b.seqs), len(b.seqs)+n)
	copy(grown, b.seqs)
	b.seqs = grown
}

// PushBack appends a copy of seq. It panics if the buffer is borrowed.
func (b *Buffer[T]) PushBack(seq []T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustNotBeBorrowed("PushBack")
	b.seqs = append(b.seqs, append([]T(nil), seq...))
}

// At returns the i-th sequence. The returned slice aliases the buffer and must
// not be modified.
func (b *Buffer[T]) At(i int) ([]T, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= len(b.seqs) {
		return nil, &OutOfRangeError{Index: i, Len: len(b.seqs)}
	}
	return b.seqs[i], nil
}

// Len returns the number of sequences.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.seqs)
}

// Empty reports whether the buffer holds no sequences.
func (b *Buffer[T]) Empty() bool { return b.Len() == 0 }

// Clear removes every sequence. It panics if the buffer is borrowed.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustNotBeBorrowed("Clear")
	b.seqs = nil
}

// Snapshot returns a deep copy of the stored sequences.
func (b *Buffer[T]) Snapshot() [][]T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([][]T, len(b.seqs))
	for i, s := range b.seqs {
		out[i] = append([]T(nil), s...)
	}
	return out
}

// Borrow marks the buffer as read by an in-flight call and returns the
// release func. Borrows nest; release is idempotent.
func (b *Buffer[T]) Borrow() (release func()) {
	b.mu.Lock()
	b.borrowed++
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.borrowed--
			b.mu.Unlock()
		})
	}
}

// Borrowed reports whether any call currently holds the buffer.
func (b *Buffer[T]) Borrowed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.borrowed > 0
}

// Views returns the backing sequences without copying. The caller must hold a
// borrow for as long as it reads them and must not modify them.
func (b *Buffer[T]) Views() [][]T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seqs[:len(b.seqs):len(b.seqs)]
}

func (b *Buffer[T]) mustNotBeBorrowed(op string) {
	if b.borrowed > 0 {
		panic("seqbuf: " + op + " on a buffer borrowed by an in-flight call")
	}
}
