// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package phttp

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser() *ConnectionParser {
	return NewConnectionParser(DefaultConfig())
}

func TestEngineBasicGet(t *testing.T) {
	p := newTestParser()
	now := time.Time{}.Add(time.Second)

	req := []byte("GET /index.html HTTP/1.1\r\nHost: example.com\r\n\r\n")
	st := p.RequestData(req, now)
	assert.Equal(t, StateData, st)
	require.Len(t, p.Conn.Transactions, 1)
	tx := p.Conn.Transactions[0]
	assert.Equal(t, ProgressComplete, tx.RequestProgress)
	assert.Equal(t, []byte("GET"), tx.Request.Method)
	assert.Equal(t, []byte("/index.html"), tx.Request.URI.Path)

	resp := []byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	st = p.ResponseData(resp, now)
	assert.Equal(t, StateData, st)
	assert.Equal(t, ProgressComplete, tx.ResponseProgress)
	assert.True(t, tx.Complete())
}

func TestEngineSplitAcrossCalls(t *testing.T) {
	p := newTestParser()
	now := time.Time{}

	st := p.RequestData([]byte("GET / HTTP/1.1\r\nHost: exam"), now)
	assert.Equal(t, StateDataBuffer, st)
	require.Len(t, p.Conn.Transactions, 1)
	assert.Equal(t, ProgressLine, p.Conn.Transactions[0].RequestProgress)

	st = p.RequestData([]byte("ple.com\r\n\r\n"), now)
	assert.Equal(t, StateData, st)
	assert.Equal(t, ProgressComplete, p.Conn.Transactions[0].RequestProgress)
	assert.Equal(t, 0, p.RequestIgnoredLines())
}

func TestEngineChunkedRequestBody(t *testing.T) {
	p := newTestParser()
	now := time.Time{}

	var captured bytes.Buffer
	p.RegisterHook(HookRequestBodyData, func(payload any) HookResult {
		d := payload.(Data)
		captured.Write(d.Bytes)
		return HookOK
	})

	req := "POST /upload HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	st := p.RequestData([]byte(req), now)
	assert.Equal(t, StateData, st)
	require.Len(t, p.Conn.Transactions, 1)
	tx := p.Conn.Transactions[0]
	assert.Equal(t, TransferChunked, tx.RequestBody.TransferCoding)
	assert.Equal(t, ProgressComplete, tx.RequestProgress)
	assert.Equal(t, "hello world", captured.String())
}

func TestEngineAmbiguousContentLengthFlagged(t *testing.T) {
	p := newTestParser()
	now := time.Time{}

	req := "POST /x HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\nhelloX"
	p.RequestData([]byte(req), now)
	require.Len(t, p.Conn.Transactions, 1)
	tx := p.Conn.Transactions[0]
	assert.True(t, tx.HasFlag(TxHeaderAmbiguous))
}

func TestEngineChunkedAndContentLengthBothPresentChunkedWins(t *testing.T) {
	p := newTestParser()
	now := time.Time{}

	req := "POST /x HTTP/1.1\r\nHost: example.com\r\nContent-Length: 999\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"3\r\nabc\r\n0\r\n\r\n"
	p.RequestData([]byte(req), now)
	require.Len(t, p.Conn.Transactions, 1)
	tx := p.Conn.Transactions[0]
	assert.Equal(t, TransferChunked, tx.RequestBody.TransferCoding)
	assert.True(t, tx.HasFlag(TxTransferEncodingAmbiguous))
}

func TestEnginePipelinedRequests(t *testing.T) {
	p := newTestParser()
	now := time.Time{}

	req := "GET /a HTTP/1.1\r\nHost: example.com\r\n\r\n" +
		"GET /b HTTP/1.1\r\nHost: example.com\r\n\r\n"
	p.RequestData([]byte(req), now)
	require.Len(t, p.Conn.Transactions, 2)
	assert.Equal(t, []byte("/a"), p.Conn.Transactions[0].Request.URI.Path)
	assert.Equal(t, []byte("/b"), p.Conn.Transactions[1].Request.URI.Path)
	assert.NotZero(t, p.Conn.Flags&ConnPipelined)
}

func TestEngineGzipResponseDecompressed(t *testing.T) {
	p := newTestParser()
	now := time.Time{}

	p.RequestData([]byte("GET /z HTTP/1.1\r\nHost: example.com\r\n\r\n"), now)

	plain := []byte("the quick brown fox jumps over the lazy dog")
	compressed := gzipCompress(t, plain)

	var out bytes.Buffer
	p.RegisterHook(HookResponseBodyData, func(payload any) HookResult {
		d := payload.(Data)
		out.Write(d.Bytes)
		return HookOK
	})

	header := []byte("HTTP/1.1 200 OK\r\nContent-Encoding: gzip\r\nContent-Length: ")
	header = append(header, []byte(itoaForTest(len(compressed)))...)
	header = append(header, []byte("\r\n\r\n")...)
	resp := append(header, compressed...)

	p.ResponseData(resp, now)
	require.Len(t, p.Conn.Transactions, 1)
	tx := p.Conn.Transactions[0]
	assert.Equal(t, ProgressComplete, tx.ResponseProgress)
	assert.Equal(t, plain, out.Bytes())
}

func itoaForTest(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestEngineCloseFinalizesIdentityStreamCloseResponse(t *testing.T) {
	p := newTestParser()
	now := time.Time{}

	p.RequestData([]byte("GET /z HTTP/1.1\r\nHost: example.com\r\n\r\n"), now)
	p.ResponseData([]byte("HTTP/1.1 200 OK\r\nServer: x\r\n\r\nsome body without length"), now)

	tx := p.Conn.Transactions[0]
	assert.Equal(t, TransferCloseDelimited, tx.ResponseBody.TransferCoding)
	assert.NotEqual(t, ProgressComplete, tx.ResponseProgress)

	p.Close(now)
	assert.Equal(t, ProgressComplete, tx.ResponseProgress)
}
