package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeadComplete(t *testing.T) {
	raw := []byte("POST /api/users?active=1 HTTP/1.1\r\n" +
		"Host: example.test\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 17\r\n" +
		"\r\n" +
		`{"name":"gopher"}`)

	head, consumed, err := parseHead(raw)
	require.NoError(t, err)
	require.NotNil(t, head)

	assert.Equal(t, "POST", head.method)
	assert.Equal(t, "/api/users?active=1", head.target)
	assert.Equal(t, "HTTP/1.1", head.proto)
	assert.Equal(t, int64(17), head.contentLength)
	assert.False(t, head.close)
	assert.Equal(t, "example.test", head.header("Host"))
	assert.Equal(t, "application/json", head.header("content-type"))
	assert.Equal(t, `{"name":"gopher"}`, string(raw[consumed:]))
}

func TestParseHeadIncremental(t *testing.T) {
	full := []byte("GET /index HTTP/1.1\r\nHost: a\r\n\r\n")

	// Every strict prefix is incomplete, never an error.
	for i := 0; i < len(full); i++ {
		head, consumed, err := parseHead(full[:i])
		require.NoError(t, err, "prefix %d", i)
		assert.Nil(t, head, "prefix %d", i)
		assert.Zero(t, consumed, "prefix %d", i)
	}

	head, consumed, err := parseHead(full)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, len(full), consumed)
}

func TestParseHeadBareLF(t *testing.T) {
	head, _, err := parseHead([]byte("GET /lf HTTP/1.1\nHost: b\n\n"))
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "/lf", head.target)
	assert.Equal(t, "b", head.header("Host"))
}

func TestParseHeadConnectionClose(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"explicit close", "GET / HTTP/1.1\r\nConnection: close\r\n\r\n", true},
		{"close case-insensitive", "GET / HTTP/1.1\r\nConnection: Close\r\n\r\n", true},
		{"keep-alive default", "GET / HTTP/1.1\r\nHost: x\r\n\r\n", false},
		{"http10 default close", "GET / HTTP/1.0\r\nHost: x\r\n\r\n", true},
		{"http10 keep-alive", "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			head, _, err := parseHead([]byte(tt.raw))
			require.NoError(t, err)
			require.NotNil(t, head)
			assert.Equal(t, tt.want, head.close)
		})
	}
}

func TestParseHeadMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing target", "GET\r\n\r\n"},
		{"missing proto", "GET /only\r\n\r\n"},
		{"bad content length", "GET / HTTP/1.1\r\nContent-Length: abc\r\n\r\n"},
		{"negative content length", "GET / HTTP/1.1\r\nContent-Length: -5\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseHead([]byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestParseHeadTooLarge(t *testing.T) {
	// An unterminated head beyond the cap is rejected instead of buffered
	// forever.
	huge := append([]byte("GET / HTTP/1.1\r\nX-Pad: "), bytes.Repeat([]byte("a"), maxHeadBytes+1)...)
	_, _, err := parseHead(huge)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestParseHeadPipelined(t *testing.T) {
	raw := []byte("GET /first HTTP/1.1\r\n\r\nGET /second HTTP/1.1\r\n\r\n")

	head, consumed, err := parseHead(raw)
	require.NoError(t, err)
	assert.Equal(t, "/first", head.target)

	head2, consumed2, err := parseHead(raw[consumed:])
	require.NoError(t, err)
	assert.Equal(t, "/second", head2.target)
	assert.Equal(t, len(raw), consumed+consumed2)
}

func BenchmarkParseHead(b *testing.B) {
	raw := []byte("GET /api/v1/users/42 HTTP/1.1\r\n" +
		"Host: example.test\r\n" +
		"Accept: application/json\r\n" +
		"User-Agent: bench\r\n" +
		"\r\n")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := parseHead(raw); err != nil {
			b.Fatal(err)
		}
	}
}
