package ipc

import "spindle/kernel"

// SharedBuffer is a shared-memory region for bulk data next to messages.
// Writers bump a sequence number; readers can sleep until it moves.
type SharedBuffer struct {
	mu      *kernel.Mutex
	changed *kernel.Cond
	seq     uint32
	buf     [MaxMessageBytes]byte
	n       int
}

func NewSharedBuffer(s *kernel.Scheduler) *SharedBuffer {
	return &SharedBuffer{mu: s.NewMutex(), changed: s.NewCond()}
}

// Write copies data into the buffer, truncating it to MaxMessageBytes, and
// returns the new sequence number.
func (b *SharedBuffer) Write(data []byte) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n = copy(b.buf[:], data)
	b.seq++
	b.changed.Broadcast()
	return b.seq
}

// Read returns the last written data and the current sequence number.
func (b *SharedBuffer) Read(dst []byte) (seq uint32, count int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq, copy(dst, b.buf[:b.n])
}

// WaitNewer blocks until the sequence number differs from seq, then reads
// like Read.
func (b *SharedBuffer) WaitNewer(seq uint32, dst []byte) (uint32, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.seq == seq {
		b.changed.Wait(b.mu)
	}
	return b.seq, copy(dst, b.buf[:b.n])
}
