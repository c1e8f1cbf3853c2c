package http

// Transport is the boundary between the dispatch engine and whatever owns the
// wire. The engine never touches a socket: it reads request facts through the
// accessors and emits the response through the write primitives. The built-in
// epoll transport and the h2c adapter both implement this interface; tests use
// an in-memory fake.
//
// Accessor methods must be callable synchronously during dispatch. The engine
// captures headers exactly once, at context initialization, and never consults
// the handle for them again; a Transport is free to invalidate header storage
// after Headers returns.
type Transport interface {
	// Method returns the HTTP method of the exchange.
	Method() string

	// URL returns the raw request target, query string included.
	URL() string

	// Headers enumerates the request headers. Enumeration stops early if
	// visit returns false.
	Headers(visit func(key, value string) bool)

	// OnAborted registers the callback invoked when the peer tears the
	// connection down. The callback may fire from the transport's own
	// goroutine at any moment, including mid-dispatch.
	OnAborted(fn func())

	// OnData registers the callback receiving request body chunks. The
	// chunk slice is only valid for the duration of the call; last marks
	// the final chunk. Data buffered before registration is replayed
	// immediately.
	OnData(fn func(chunk []byte, last bool))

	// SetStatus records the response status code. Takes effect when the
	// response head is flushed.
	SetStatus(code int)

	// WriteHeader buffers a response header. Takes effect when the
	// response head is flushed.
	WriteHeader(key, value string)

	// TryWrite attempts to write chunk, flushing the buffered status and
	// headers first if they have not been sent. total is the declared
	// length of the whole body, or a negative value when unknown.
	//
	// accepted reports whether the entire chunk was taken. finished
	// reports whether the response is complete (total bytes written).
	// When accepted is false the transport has consumed what it could,
	// recorded its write offset, and will signal writability; the caller
	// keeps the chunk and resumes the unwritten remainder.
	TryWrite(chunk []byte, total int64) (accepted, finished bool)

	// OnWritable registers a single-shot drain callback. offset is the
	// count of body bytes the transport has accepted so far, so the
	// producer can resume mid-chunk. Returning true keeps the callback
	// armed for the next drain signal; returning false disarms it.
	OnWritable(fn func(offset int64) (keepWaiting bool))

	// Cork groups the writes performed inside fn into one batch where the
	// transport supports it (response head assembly).
	Cork(fn func())

	// End finalizes the response and is called exactly once per exchange
	// by the response producer, also when TryWrite already reported the
	// body finished. Transports run their keep-alive or close lifecycle
	// here, never earlier: until End the producer may still hold the
	// handle. End is idempotent.
	End()
}
