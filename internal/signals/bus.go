package signals

import (
	"hash/fnv"
	"sync"
	"time"

	"vigil/internal/services"
)

// ShardFor maps a user to one of n engine shards. All events for a user land
// on the same shard so per-user state needs no cross-worker locking.
func ShardFor(userID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(n))
}

// Bus fans admitted signals out to per-shard FIFO queues. Delivery within one
// user's stream preserves arrival order; across users there is no ordering.
type Bus struct {
	shards []chan Signal

	mu     sync.Mutex
	newest map[string]time.Time
	closed bool
}

// NewBus builds a bus with the given shard count and per-shard capacity.
func NewBus(shardCount, capacity int) *Bus {
	if shardCount <= 0 {
		shardCount = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	shards := make([]chan Signal, shardCount)
	for i := range shards {
		shards[i] = make(chan Signal, capacity)
	}
	return &Bus{
		shards: shards,
		newest: make(map[string]time.Time),
	}
}

// Shards returns the number of shards the bus routes across.
func (b *Bus) Shards() int { return len(b.shards) }

// Subscribe returns the delivery channel for one shard. The engine worker
// owning the shard is the only consumer.
func (b *Bus) Subscribe(shard int) <-chan Signal {
	return b.shards[shard]
}

// Publish stamps, flags, and routes a signal to its shard. A full shard queue
// surfaces as a busy error rather than blocking the producer; ingestion
// backpressure must be visible, never a silent drop.
func (b *Bus) Publish(sig Signal, now time.Time) (int, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, services.Wrap(services.ErrValidation, "signals", "publish", "bus is closed", nil)
	}
	sig.Received = now
	if newest, ok := b.newest[sig.UserID]; ok && sig.Timestamp.Before(newest) {
		sig.OutOfOrder = true
	} else {
		b.newest[sig.UserID] = sig.Timestamp
	}
	b.mu.Unlock()

	shard := ShardFor(sig.UserID, len(b.shards))
	select {
	case b.shards[shard] <- sig:
		return shard, nil
	default:
		return shard, services.Wrap(services.ErrTimeout, "signals", "publish", "ingest queue full", nil)
	}
}

// Close stops delivery and releases subscribers. Publish after Close fails.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, shard := range b.shards {
		close(shard)
	}
}
