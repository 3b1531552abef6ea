package source

import (
	"fmt"
	"sync"
	"time"
)

// DefaultMaxGap is the number of missing packets to wait for before the
// gap is declared lost.
const DefaultMaxGap = 20

// ReorderBuffer restores sequence order of network PCM packets. In-order
// data is released immediately, out-of-order data is held until the gap
// fills or exceeds maxGap.
type ReorderBuffer struct {
	maxGap uint32

	expectedSeq uint32
	pending     map[uint32][]byte

	lastUpdate   time.Time
	totalPackets uint32
	lostCount    uint32
	duplicates   uint32

	mu sync.Mutex
}

// ReorderStats represents reorder buffer statistics for monitoring
type ReorderStats struct {
	TotalPackets uint32  `json:"total_packets"`
	LostPackets  uint32  `json:"lost_packets"`
	Duplicates   uint32  `json:"duplicate_packets"`
	LossRate     float64 `json:"loss_rate"`
	PendingSeqs  int     `json:"pending_sequences"`
	NextSequence uint32  `json:"next_sequence"`
}

// NewReorderBuffer creates a buffer expecting sequence 0 first.
func NewReorderBuffer(maxGap uint32) *ReorderBuffer {
	if maxGap == 0 {
		maxGap = DefaultMaxGap
	}
	return &ReorderBuffer{
		maxGap:     maxGap,
		pending:    make(map[uint32][]byte),
		lastUpdate: time.Now(),
	}
}

// Add accepts one packet and returns the PCM that is now releasable in
// order. Duplicates and packets older than the release point are rejected.
func (b *ReorderBuffer) Add(sequence uint32, pcm []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio data length must be even (got %d bytes)", len(pcm))
	}

	b.lastUpdate = time.Now()
	b.totalPackets++

	if sequence < b.expectedSeq {
		b.duplicates++
		return nil, fmt.Errorf("ignoring old/duplicate packet: seq=%d, expected=%d", sequence, b.expectedSeq)
	}
	if _, ok := b.pending[sequence]; ok {
		b.duplicates++
		return nil, fmt.Errorf("ignoring duplicate packet: seq=%d", sequence)
	}

	b.pending[sequence] = append([]byte(nil), pcm...)

	if sequence-b.expectedSeq > b.maxGap {
		b.skipTo(sequence - b.maxGap)
	}
	return b.release(), nil
}

// Drain releases everything still held, in sequence order, counting
// every hole before next as lost. next comes from the sender, so holes are
// counted at most maxGap past the release point.
func (b *ReorderBuffer) Drain(next uint32) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit := b.expectedSeq + b.maxGap; limit > b.expectedSeq && next > limit {
		next = limit
	}

	var out []byte
	for b.expectedSeq < next || len(b.pending) > 0 {
		if data, ok := b.pending[b.expectedSeq]; ok {
			out = append(out, data...)
			delete(b.pending, b.expectedSeq)
		} else {
			b.lostCount++
		}
		b.expectedSeq++
	}
	return out
}

// skipTo marks every missing sequence below target as lost.
func (b *ReorderBuffer) skipTo(target uint32) {
	for ; b.expectedSeq < target; b.expectedSeq++ {
		if _, ok := b.pending[b.expectedSeq]; !ok {
			b.lostCount++
		}
	}
}

// release collects consecutive held packets starting at expectedSeq.
func (b *ReorderBuffer) release() []byte {
	var out []byte
	for {
		data, ok := b.pending[b.expectedSeq]
		if !ok {
			return out
		}
		out = append(out, data...)
		delete(b.pending, b.expectedSeq)
		b.expectedSeq++
	}
}

// GetStats returns current buffer statistics
func (b *ReorderBuffer) GetStats() ReorderStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	lossRate := float64(0)
	if seen := b.totalPackets + b.lostCount; seen > 0 {
		lossRate = float64(b.lostCount) / float64(seen) * 100
	}

	return ReorderStats{
		TotalPackets: b.totalPackets,
		LostPackets:  b.lostCount,
		Duplicates:   b.duplicates,
		LossRate:     lossRate,
		PendingSeqs:  len(b.pending),
		NextSequence: b.expectedSeq,
	}
}

// GetLastUpdate returns the time of the last accepted packet
func (b *ReorderBuffer) GetLastUpdate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdate
}
