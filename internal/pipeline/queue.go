package pipeline

import "sync"

// RawPayload is one webhook body as received at the transport boundary
type RawPayload map[string]interface{}

// IngestionQueue buffers raw webhook payloads until the next poll tick.
// Any number of producers may enqueue; the poller is the single consumer.
type IngestionQueue struct {
	mu      sync.Mutex
	pending []RawPayload
}

// NewIngestionQueue creates an empty queue
func NewIngestionQueue() *IngestionQueue {
	return &IngestionQueue{}
}

// Enqueue appends a payload. It never blocks and never rejects; the queue is
// bounded only by memory.
func (q *IngestionQueue) Enqueue(raw RawPayload) {
	q.mu.Lock()
	q.pending = append(q.pending, raw)
	q.mu.Unlock()
}

// DrainAll atomically returns the buffered payloads and resets the queue.
// Payloads enqueued concurrently with a drain land in the next drain.
func (q *IngestionQueue) DrainAll() []RawPayload {
	q.mu.Lock()
	drained := q.pending
	q.pending = nil
	q.mu.Unlock()
	return drained
}

// Len returns the number of buffered payloads
func (q *IngestionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
