// Package content implements the chunked upload coordinator and the
// streaming download pipeline.
package content

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const (
	// UploadBufferSlots bounds concurrently processed upload chunks.
	UploadBufferSlots = 200
	// DownloadBufferSlots bounds concurrently running downloads.
	DownloadBufferSlots = 200
)

const mib = 1 << 20

// TransferPool is a counted permit pool. Each in-flight transfer holds one
// permit for its lifetime; the live count feeds the adaptive buffer sizing.
type TransferPool struct {
	sem      *semaphore.Weighted
	slots    int64
	inFlight int64
}

// NewTransferPool creates a pool with the given number of permits.
func NewTransferPool(slots int64) *TransferPool {
	return &TransferPool{sem: semaphore.NewWeighted(slots), slots: slots}
}

// Acquire blocks until a permit is free or ctx is cancelled.
func (p *TransferPool) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	atomic.AddInt64(&p.inFlight, 1)
	return nil
}

// Release returns a permit taken by Acquire.
func (p *TransferPool) Release() {
	atomic.AddInt64(&p.inFlight, -1)
	p.sem.Release(1)
}

// InFlight returns the number of permits currently held.
func (p *TransferPool) InFlight() int64 {
	return atomic.LoadInt64(&p.inFlight)
}

// Slots returns the pool capacity.
func (p *TransferPool) Slots() int64 {
	return p.slots
}

// writerBufferBytes sizes the staging file writer: a 2 GiB budget split
// across concurrent uploads, never below 2 MiB.
func writerBufferBytes(concurrentUploads int64) int {
	size := int64(2048) / (concurrentUploads + 1)
	if size < 2 {
		size = 2
	}
	return int(size) * mib
}

// downloadBufferChunks bounds how many chunks one download may hold
// decrypted in memory: the slot budget split across concurrent downloads,
// never below 1.
func downloadBufferChunks(slots, concurrentDownloads int64) int {
	n := slots / (concurrentDownloads + 1)
	if n < 1 {
		n = 1
	}
	return int(n)
}
