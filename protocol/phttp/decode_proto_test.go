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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVersion(t *testing.T) {
	major, minor, err := ParseVersion([]byte("HTTP/1.1"))
	assert.NoError(t, err)
	assert.Equal(t, uint8(1), major)
	assert.Equal(t, uint8(1), minor)

	_, _, err = ParseVersion([]byte("HTTP/1.1x"))
	assert.NoError(t, err) // extra trailing bytes are the caller's concern, not this parser's

	_, _, err = ParseVersion([]byte("HTTP/x.1"))
	assert.Error(t, err)

	_, _, err = ParseVersion([]byte("FOO/1.1"))
	assert.Error(t, err)

	_, _, err = ParseVersion([]byte("HTTP"))
	assert.Error(t, err)
}

func TestParseChunkSize(t *testing.T) {
	n, hasExt, err := ParseChunkSize([]byte("7"))
	assert.NoError(t, err)
	assert.Equal(t, uint64(7), n)
	assert.False(t, hasExt)

	n, hasExt, err = ParseChunkSize([]byte("1C"))
	assert.NoError(t, err)
	assert.Equal(t, uint64(28), n)
	assert.False(t, hasExt)

	n, hasExt, err = ParseChunkSize([]byte("a; ext=1"))
	assert.NoError(t, err)
	assert.Equal(t, uint64(10), n)
	assert.True(t, hasExt)

	_, _, err = ParseChunkSize([]byte(""))
	assert.ErrorIs(t, err, ErrChunkSizeEmpty)

	_, _, err = ParseChunkSize([]byte("  "))
	assert.ErrorIs(t, err, ErrChunkSizeEmpty)

	_, _, err = ParseChunkSize([]byte("zz"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrChunkSizeEmpty)

	_, _, err = ParseChunkSize([]byte("ffffffffffffffffff"))
	assert.Error(t, err)

	n, _, err = ParseChunkSize([]byte("  7"))
	assert.NoError(t, err)
	assert.Equal(t, uint64(7), n)
}

func TestParseContentLength(t *testing.T) {
	n, err := ParseContentLength([]byte("1234"))
	assert.NoError(t, err)
	assert.Equal(t, int64(1234), n)

	_, err = ParseContentLength([]byte("-10"))
	assert.Error(t, err)

	_, err = ParseContentLength([]byte("+10"))
	assert.Error(t, err)

	// trailing junk after a valid leading digit run is tolerated
	n, err = ParseContentLength([]byte("12 garbage"))
	assert.NoError(t, err)
	assert.Equal(t, int64(12), n)

	n, err = ParseContentLength([]byte("  42"))
	assert.NoError(t, err)
	assert.Equal(t, int64(42), n)

	_, err = ParseContentLength([]byte(""))
	assert.Error(t, err)

	_, err = ParseContentLength([]byte("99999999999999999999999999"))
	assert.Error(t, err)
}

func TestIsKnownMethod(t *testing.T) {
	assert.True(t, IsKnownMethod([]byte("GET")))
	assert.True(t, IsKnownMethod([]byte("PROPFIND")))
	assert.False(t, IsKnownMethod([]byte("FROB")))
}
