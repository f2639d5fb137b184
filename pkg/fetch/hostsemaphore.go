package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// hostSlot is one host's semaphore plus the bookkeeping needed to evict it
type hostSlot struct {
	sem      *semaphore.Weighted
	inFlight int64     // Held plus waiting permits
	idleFrom time.Time // Last release; zero while never released
}

// HostSemaphorePool caps concurrent requests per host. One pool is shared by
// every page of a batch so the cap holds across pages.
type HostSemaphorePool struct {
	mu    sync.Mutex
	slots map[string]*hostSlot
	limit int64
	log   *logrus.Entry
}

// NewHostSemaphorePool creates a pool allowing maxPerHost concurrent permits per host
func NewHostSemaphorePool(maxPerHost int, log *logrus.Entry) *HostSemaphorePool {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = 4
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", limit)
	}
	return &HostSemaphorePool{
		slots: make(map[string]*hostSlot),
		limit: limit,
		log:   log,
	}
}

// Acquire takes one permit for host, blocking until one is free or ctx is done
func (p *HostSemaphorePool) Acquire(ctx context.Context, host string) error {
	p.mu.Lock()
	slot, ok := p.slots[host]
	if !ok {
		slot = &hostSlot{sem: semaphore.NewWeighted(p.limit)}
		p.slots[host] = slot
		p.log.WithFields(logrus.Fields{"host": host, "limit": p.limit}).Debug("Created host semaphore")
	}
	slot.inFlight++
	p.mu.Unlock()

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		p.mu.Lock()
		slot.inFlight--
		p.mu.Unlock()
		return err
	}
	return nil
}

// Release returns one permit for host
func (p *HostSemaphorePool) Release(host string) {
	p.mu.Lock()
	slot, ok := p.slots[host]
	if !ok {
		p.mu.Unlock()
		p.log.Errorf("hostsemaphore: Release called for unknown host: %s", host)
		return
	}
	slot.inFlight--
	slot.idleFrom = time.Now()
	p.mu.Unlock()

	slot.sem.Release(1)
}

// RunEviction drops hosts idle for at least interval until ctx is done.
// Meant for long batches touching many asset hosts; run it in a goroutine.
func (p *HostSemaphorePool) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictIdle(interval)
		case <-ctx.Done():
			return
		}
	}
}

func (p *HostSemaphorePool) evictIdle(maxIdle time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for host, slot := range p.slots {
		if slot.inFlight == 0 && !slot.idleFrom.IsZero() && time.Since(slot.idleFrom) >= maxIdle {
			delete(p.slots, host)
			evicted++
		}
	}
	if evicted > 0 {
		p.log.Debugf("Evicted %d idle host semaphores, %d remain", evicted, len(p.slots))
	}
}

// Len returns the number of tracked hosts
func (p *HostSemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
