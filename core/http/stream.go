package http

import (
	"io"

	"github.com/searchktools/fast-dispatch/core/pools"
)

// streamChunkSize is the size of the single in-flight chunk. Response body
// memory is bounded by this value regardless of payload size or consumer
// speed.
const streamChunkSize = 32 * 1024

var chunkPool = pools.NewBytePool()

// Stream sends a response body produced incrementally by body, honoring
// transport backpressure. total is the declared body length, or negative when
// unknown.
//
// The head is flushed first, then one pooled chunk at a time is read from
// body and offered to the transport. A refused write suspends production:
// a single-shot writable callback resumes the unwritten remainder from the
// transport's recorded offset, never from the start of the chunk. An abort
// while suspended resolves the wait as failure.
//
// Stream returns false when the guard suppressed the write, when the peer
// disconnected mid-body, or when body failed; it never panics on abort.
func (c *Context) Stream(code int, contentType string, body io.Reader, total int64) bool {
	t := c.beginResponse()
	if t == nil {
		return false
	}
	c.flushHead(t, code, contentType)

	buf := chunkPool.Get(streamChunkSize)
	defer chunkPool.Put(buf)

	var sent int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			ok, finished := c.writeChunk(t, buf[:n], sent, total)
			if !ok {
				return false
			}
			sent += int64(n)
			if finished {
				t.End()
				return true
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			// Producer failure mid-body. The response is truncated;
			// the transport tears the connection down on close.
			return false
		}
	}
	t.End()
	return true
}

// writeChunk offers one chunk to the transport, suspending on refusal until
// the drain signal or an abort. chunkStart is the count of body bytes
// accepted before this chunk, so the transport's write offset translates
// directly into a position inside chunk.
func (c *Context) writeChunk(t Transport, chunk []byte, chunkStart, total int64) (ok, finished bool) {
	accepted, done := t.TryWrite(chunk, total)
	if done {
		return true, true
	}
	if accepted {
		return true, false
	}

	drain := make(chan bool, 1)
	t.OnWritable(func(offset int64) bool {
		idx := offset - chunkStart
		if idx < 0 {
			idx = 0
		}
		if idx >= int64(len(chunk)) {
			drain <- total >= 0 && offset >= total
			return false
		}
		wrote, fin := t.TryWrite(chunk[idx:], total)
		if wrote || fin {
			drain <- fin
			return false
		}
		return true
	})

	select {
	case fin := <-drain:
		return true, fin
	case <-c.aborting():
		return false, false
	}
}
