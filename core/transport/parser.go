package transport

import (
	"bytes"
	"strconv"

	"github.com/cockroachdb/errors"
)

// ErrInvalidRequest reports a malformed request head.
var ErrInvalidRequest = errors.New("invalid HTTP request")

// maxHeadBytes bounds the accumulated request head. Heads beyond this are
// rejected rather than buffered indefinitely.
const maxHeadBytes = 64 * 1024

// requestHead is one parsed request line plus headers. Strings are copies:
// the read buffer is recycled.
type requestHead struct {
	method string
	target string // raw request target, query included
	proto  string

	headerKeys []string
	headerVals []string

	contentLength int64
	close         bool // Connection: close, or HTTP/1.0 without keep-alive
}

func (h *requestHead) header(key string) string {
	for i := range h.headerKeys {
		if equalFold(h.headerKeys[i], key) {
			return h.headerVals[i]
		}
	}
	return ""
}

// parseHead parses a request head out of data. It returns (nil, 0, nil) when
// data does not yet hold a complete head; on success consumed is the offset
// where the body begins.
func parseHead(data []byte) (head *requestHead, consumed int, err error) {
	headEnd := bytes.Index(data, []byte("\r\n\r\n"))
	sepLen := 4
	if headEnd == -1 {
		headEnd = bytes.Index(data, []byte("\n\n"))
		sepLen = 2
	}
	if headEnd == -1 {
		if len(data) > maxHeadBytes {
			return nil, 0, errors.Wrap(ErrInvalidRequest, "head too large")
		}
		return nil, 0, nil
	}

	h := &requestHead{contentLength: 0}

	// Request line: METHOD SP TARGET SP PROTO
	lineEnd := bytes.IndexByte(data, '\n')
	line := trimCR(data[:lineEnd])

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return nil, 0, errors.Wrap(ErrInvalidRequest, "request line")
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 < 0 {
		return nil, 0, errors.Wrap(ErrInvalidRequest, "request line")
	}
	sp2 += sp1 + 1

	h.method = string(line[:sp1])
	h.target = string(line[sp1+1 : sp2])
	h.proto = string(line[sp2+1:])

	// Header lines.
	rest := data[lineEnd+1 : headEnd]
	for len(rest) > 0 {
		le := bytes.IndexByte(rest, '\n')
		var hl []byte
		if le < 0 {
			hl = rest
			rest = nil
		} else {
			hl = rest[:le]
			rest = rest[le+1:]
		}
		hl = trimCR(hl)
		if len(hl) == 0 {
			continue
		}
		colon := bytes.IndexByte(hl, ':')
		if colon <= 0 {
			continue
		}
		key := string(bytes.TrimSpace(hl[:colon]))
		val := string(bytes.TrimSpace(hl[colon+1:]))
		h.headerKeys = append(h.headerKeys, key)
		h.headerVals = append(h.headerVals, val)
	}

	if cl := h.header("Content-Length"); cl != "" {
		n, perr := strconv.ParseInt(cl, 10, 64)
		if perr != nil || n < 0 {
			return nil, 0, errors.Wrap(ErrInvalidRequest, "content length")
		}
		h.contentLength = n
	}

	connection := h.header("Connection")
	switch {
	case equalFold(connection, "close"):
		h.close = true
	case h.proto == "HTTP/1.0" && !equalFold(connection, "keep-alive"):
		h.close = true
	}

	return h, headEnd + sepLen, nil
}

func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

// equalFold is a tight ASCII case-insensitive compare; header keys never
// need Unicode folding.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
