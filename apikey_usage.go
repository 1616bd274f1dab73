package kennelguard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const usageWriteTimeout = 2 * time.Second

// usageRecorder writes API key usage off the request path. A full queue
// drops the record and counts it.
type usageRecorder struct {
	store   APIKeyStore
	log     *zap.Logger
	metrics *Metrics

	queue chan APIKeyUsage
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newUsageRecorder(s APIKeyStore, buffer int, log *zap.Logger, m *Metrics) *usageRecorder {
	if buffer <= 0 {
		buffer = 1
	}
	r := &usageRecorder{
		store:   s,
		log:     log,
		metrics: m,
		queue:   make(chan APIKeyUsage, buffer),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *usageRecorder) run() {
	defer r.wg.Done()
	for u := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), usageWriteTimeout)
		if err := r.store.RecordAPIKeyUsage(ctx, u); err != nil {
			r.log.Warn("api key usage write failed", zap.String("api_key_id", u.KeyID), zap.Error(err))
		}
		cancel()
	}
}

func (r *usageRecorder) record(u APIKeyUsage) {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- u:
	default:
		r.metrics.Inc(MetricAPIKeyUsageDropped)
		r.log.Warn("api key usage dropped", zap.String("api_key_id", u.KeyID))
	}
}

// Close stops intake and waits for queued records to be written.
func (r *usageRecorder) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}
