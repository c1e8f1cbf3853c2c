package http

import (
	"sync"
)

// mockTransport is an in-memory Transport for tests. Write acceptance is
// scripted: allowances lists the byte budget of each successive TryWrite
// call, -1 meaning unlimited; an exhausted script is unlimited too. A
// short-accepted call refuses the remainder, records the offset, and signals
// armed once the producer registers its drain callback.
type mockTransport struct {
	mu sync.Mutex

	method     string
	url        string
	reqHeaders [][2]string

	status   int
	headers  [][2]string
	body     []byte
	total    int64
	ended    bool
	endCount int

	abortFn    func()
	dataFn     func(chunk []byte, last bool)
	writableFn func(offset int64) bool

	allowances []int
	call       int
	offset     int64

	armed chan struct{}
}

func newMockTransport(method, url string) *mockTransport {
	return &mockTransport{
		method: method,
		url:    url,
		total:  -1,
		armed:  make(chan struct{}, 8),
	}
}

func (m *mockTransport) Method() string { return m.method }
func (m *mockTransport) URL() string    { return m.url }

func (m *mockTransport) Headers(visit func(key, value string) bool) {
	for _, kv := range m.reqHeaders {
		if !visit(kv[0], kv[1]) {
			return
		}
	}
}

func (m *mockTransport) OnAborted(fn func()) {
	m.mu.Lock()
	m.abortFn = fn
	m.mu.Unlock()
}

func (m *mockTransport) OnData(fn func(chunk []byte, last bool)) {
	m.mu.Lock()
	m.dataFn = fn
	m.mu.Unlock()
}

func (m *mockTransport) SetStatus(code int) {
	m.mu.Lock()
	m.status = code
	m.mu.Unlock()
}

func (m *mockTransport) WriteHeader(key, value string) {
	m.mu.Lock()
	m.headers = append(m.headers, [2]string{key, value})
	m.mu.Unlock()
}

func (m *mockTransport) Cork(fn func()) { fn() }

func (m *mockTransport) TryWrite(chunk []byte, total int64) (accepted, finished bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total = total

	allow := -1
	if m.call < len(m.allowances) {
		allow = m.allowances[m.call]
	}
	m.call++

	take := len(chunk)
	short := false
	if allow >= 0 && allow < take {
		take = allow
		short = true
	}
	m.body = append(m.body, chunk[:take]...)
	m.offset += int64(take)

	if short {
		return false, false
	}
	if total >= 0 && m.offset >= total {
		return true, true
	}
	return true, false
}

func (m *mockTransport) OnWritable(fn func(offset int64) bool) {
	m.mu.Lock()
	m.writableFn = fn
	m.mu.Unlock()
	m.armed <- struct{}{}
}

func (m *mockTransport) End() {
	m.mu.Lock()
	m.ended = true
	m.endCount++
	m.mu.Unlock()
}

// signalWritable drives the registered drain callback like an event loop
// would, repeating while the callback asks to keep waiting.
func (m *mockTransport) signalWritable() {
	for {
		m.mu.Lock()
		fn := m.writableFn
		off := m.offset
		m.mu.Unlock()
		if fn == nil || !fn(off) {
			return
		}
	}
}

// abort simulates a peer disconnect.
func (m *mockTransport) abort() {
	m.mu.Lock()
	fn := m.abortFn
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// feed simulates arriving body data.
func (m *mockTransport) feed(chunk []byte, last bool) {
	m.mu.Lock()
	fn := m.dataFn
	m.mu.Unlock()
	if fn != nil {
		fn(chunk, last)
	}
}

func (m *mockTransport) written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := make([]byte, len(m.body))
	copy(b, m.body)
	return b
}

func (m *mockTransport) header(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kv := range m.headers {
		if kv[0] == key {
			return kv[1]
		}
	}
	return ""
}
