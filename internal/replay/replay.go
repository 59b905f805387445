// Package replay keeps a bounded history of recently forwarded requests so
// the most recent one can be re-issued against the local service on demand.
package replay

import (
	"sync"

	"github.com/google/uuid"
	"github.com/matst80/burrow/internal/proto"
)

// Capacity is the maximum number of requests retained; the oldest entry is
// evicted beyond that.
const Capacity = 10

// Buffer is a FIFO of forwarded requests. Entries are never mutated once
// recorded.
type Buffer struct {
	mu      sync.Mutex
	entries []*proto.Request
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// Record appends req, evicting the oldest entry when over capacity. The
// request is deep-copied so later header mutation by callers cannot reach
// stored history.
func (b *Buffer) Record(req *proto.Request) {
	cp := copyRequest(req, req.RequestID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, cp)
	if len(b.entries) > Capacity {
		b.entries = b.entries[1:]
	}
}

// Latest returns the most recently recorded request, or nil if empty.
func (b *Buffer) Latest() *proto.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return nil
	}
	return b.entries[len(b.entries)-1]
}

func (b *Buffer) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *Buffer) contains(requestID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if e.RequestID == requestID {
			return true
		}
	}
	return false
}

// Replayable returns a copy of req with a freshly generated unique request
// id and identical method, path, headers and body.
func Replayable(req *proto.Request) *proto.Request {
	return copyRequest(req, uuid.NewString())
}

func copyRequest(req *proto.Request, id string) *proto.Request {
	return &proto.Request{
		RequestID: id,
		Method:    req.Method,
		Path:      req.Path,
		Headers:   req.Headers.Clone(),
		Body:      append([]byte(nil), req.Body...),
	}
}
