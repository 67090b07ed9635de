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

func TestDecodeUTF8BestfitASCIIPassthrough(t *testing.T) {
	out, flags := DecodeUTF8Bestfit([]byte("hello world"), '?')
	assert.Equal(t, "hello world", string(out))
	assert.Zero(t, flags)
}

func TestDecodeUTF8BestfitNeverGrows(t *testing.T) {
	in := []byte("/search?q=\xef\xbc\x8f") // U+FF0F fullwidth solidus, 3 bytes
	out, _ := DecodeUTF8Bestfit(in, '?')
	assert.LessOrEqual(t, len(out), len(in))
}

func TestDecodeUTF8BestfitFullwidthSolidus(t *testing.T) {
	in := []byte("a\xef\xbc\x8fb") // a U+FF0F b
	out, flags := DecodeUTF8Bestfit(in, '?')
	assert.Equal(t, "a/b", string(out))
	assert.True(t, flags&URLBestfitUsed != 0)
	assert.True(t, flags&URLUTF8Halfwidth != 0)
}

func TestDecodeUTF8BestfitUnmappedUsesReplacement(t *testing.T) {
	in := []byte("a\xe4\xb8\xadb") // a 中(U+4E2D) b, not in the bestfit table
	out, flags := DecodeUTF8Bestfit(in, '?')
	assert.Equal(t, "a?b", string(out))
	assert.True(t, flags&URLBestfitUsed != 0)
}

func TestDecodeUTF8BestfitInvalidSequence(t *testing.T) {
	in := []byte{'a', 0xC0, 'b'} // 0xC0 alone is a truncated/invalid lead byte
	out, flags := DecodeUTF8Bestfit(in, '?')
	assert.Equal(t, "a?b", string(out))
	assert.True(t, flags&URLUTF8Invalid != 0)
}

func TestDecodeUTF8BestfitOverlongEncoding(t *testing.T) {
	// overlong 2-byte encoding of NUL (0xC0 0x80) instead of the proper 1-byte 0x00
	in := []byte{'a', 0xC0, 0x80, 'b'}
	out, flags := DecodeUTF8Bestfit(in, '?')
	assert.True(t, flags&URLUTF8Overlong != 0)
	assert.Equal(t, byte('a'), out[0])
	assert.Equal(t, byte('b'), out[len(out)-1])
}

func TestBestFitByteASCIIIsIdentity(t *testing.T) {
	b, used := bestFitByte('A', '?')
	assert.Equal(t, byte('A'), b)
	assert.False(t, used)
}

func TestBestFitByteDefaultReplacement(t *testing.T) {
	b, used := bestFitByte(0, '?') // replacement only applies when the table misses
	assert.Equal(t, byte(0), b)
	assert.False(t, used)

	b, used = bestFitByte(0x4E2D, '?')
	assert.Equal(t, byte('?'), b)
	assert.True(t, used)
}
