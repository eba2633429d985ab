package hal

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var ErrOutOfMemory = errors.New("out of memory")

// Memory allocates thread stacks.
type Memory interface {
	AllocStack(size int) ([]byte, error)
	FreeStack(stack []byte)
	// InUse returns the number of stack bytes currently allocated.
	InUse() int
}

// HeapMemory carves stacks out of the Go heap under an optional byte budget.
type HeapMemory struct {
	limit  int64
	inUse  atomic.Int64
	allocs atomic.Uint64
	frees  atomic.Uint64
}

// NewHeapMemory returns a stack allocator. A limit of 0 means unlimited.
func NewHeapMemory(limit int) *HeapMemory {
	return &HeapMemory{limit: int64(limit)}
}

func (m *HeapMemory) AllocStack(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("alloc stack of %d bytes: %w", size, ErrOutOfMemory)
	}
	for {
		used := m.inUse.Load()
		if m.limit > 0 && used+int64(size) > m.limit {
			return nil, fmt.Errorf("alloc stack of %d bytes (%d/%d in use): %w", size, used, m.limit, ErrOutOfMemory)
		}
		if m.inUse.CompareAndSwap(used, used+int64(size)) {
			break
		}
	}
	m.allocs.Add(1)
	return make([]byte, size), nil
}

func (m *HeapMemory) FreeStack(stack []byte) {
	if stack == nil {
		return
	}
	m.inUse.Add(-int64(cap(stack)))
	m.frees.Add(1)
}

func (m *HeapMemory) InUse() int { return int(m.inUse.Load()) }

// Stats returns the number of stacks allocated and freed so far.
func (m *HeapMemory) Stats() (allocs, frees uint64) {
	return m.allocs.Load(), m.frees.Load()
}
