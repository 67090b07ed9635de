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

package bufbytes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCopiesInput(t *testing.T) {
	src := []byte("hello")
	b := New(src)
	src[0] = 'H'
	assert.Equal(t, "hello", b.String())
}

func TestAdoptSharesStorage(t *testing.T) {
	src := []byte("hello")
	b := Adopt(src)
	assert.Equal(t, "hello", b.String())
}

func TestAppend(t *testing.T) {
	b := New([]byte("hello"))
	b.Append([]byte("world"))
	assert.Equal(t, "helloworld", b.String())
	assert.Equal(t, 10, b.Len())

	b.AppendByte('!')
	assert.Equal(t, "helloworld!", b.String())

	other := New([]byte("?"))
	b.AppendBytes(other)
	assert.Equal(t, "helloworld!?", b.String())
}

func TestAppendGrowsBeyondInitialCapacity(t *testing.T) {
	b := New([]byte("x"))
	for i := 0; i < 100; i++ {
		b.Append([]byte("0123456789"))
	}
	assert.Equal(t, 1001, b.Len())
	assert.Equal(t, byte('x'), b.Bytes()[0])
}

func TestReset(t *testing.T) {
	b := New([]byte("hello"))
	b.Reset()
	assert.Equal(t, 0, b.Len())
	b.Append([]byte("world"))
	assert.Equal(t, "world", b.String())
}

func TestClone(t *testing.T) {
	b := New([]byte("hello"))
	clone := b.Clone()
	clone[0] = 'H'
	assert.Equal(t, "hello", b.String())
	assert.Equal(t, "Hello", string(clone))

	var empty Bytes
	assert.Nil(t, empty.Clone())
}

func TestEqual(t *testing.T) {
	b := New([]byte("Host"))
	assert.True(t, b.Equal([]byte("Host")))
	assert.False(t, b.Equal([]byte("host")))
}

func TestEqualFold(t *testing.T) {
	assert.True(t, EqualFold([]byte("Content-Type"), []byte("content-type")))
	assert.True(t, EqualFold([]byte("CONTENT-TYPE"), []byte("content-type")))
	assert.False(t, EqualFold([]byte("Content-Type"), []byte("content-length")))
	assert.False(t, EqualFold([]byte("short"), []byte("shorter")))

	b := New([]byte("Content-Type"))
	assert.True(t, b.EqualFold([]byte("CONTENT-TYPE")))
}

func TestEqualFoldNul(t *testing.T) {
	// Some servers truncate header values at the first embedded NUL; the
	// NUL-insensitive comparison must consider both the truncated and the
	// untruncated reading equal so evasions using either behavior match.
	assert.True(t, EqualFoldNul([]byte("application/json\x00evil"), []byte("APPLICATION/JSON")))
	assert.False(t, EqualFoldNul([]byte("application/json"), []byte("text/html")))
}

func TestIndexByte(t *testing.T) {
	b := New([]byte("a:b:c"))
	assert.Equal(t, 1, b.IndexByte(':'))
	assert.Equal(t, -1, b.IndexByte('z'))
}

func TestIndex(t *testing.T) {
	b := New([]byte("GET /index.html HTTP/1.1"))
	assert.Equal(t, 16, b.Index([]byte("HTTP")))
	assert.Equal(t, -1, b.Index([]byte("http")))
}

func TestIndexFold(t *testing.T) {
	assert.Equal(t, 16, IndexFold([]byte("GET /index.html HTTP/1.1"), []byte("http")))
	assert.Equal(t, 0, IndexFold([]byte("anything"), nil))
	assert.Equal(t, -1, IndexFold([]byte("short"), []byte("muchlongerneedle")))
}

func TestIndexFoldNul(t *testing.T) {
	assert.Equal(t, 0, IndexFoldNul([]byte("HOST\x00evil: x"), []byte("host")))
}

func TestHasPrefix(t *testing.T) {
	b := New([]byte("HTTP/1.1 200 OK"))
	assert.True(t, b.HasPrefix([]byte("HTTP/1.1")))
	assert.False(t, b.HasPrefix([]byte("http/1.1")))
	assert.True(t, b.HasPrefixFold([]byte("http/1.1")))
	assert.False(t, HasPrefixFold([]byte("short"), []byte("muchlonger")))
}

func TestTrimSpace(t *testing.T) {
	b := New([]byte("  \t value \r\n"))
	b.TrimSpace()
	assert.Equal(t, "value", b.String())
}

func TestTrimCStringText(t *testing.T) {
	b := New([]byte("hello\x00"))
	assert.Equal(t, "hello", b.TrimCStringText())

	b2 := New([]byte("hello"))
	assert.Equal(t, "hello", b2.TrimCStringText())
}
