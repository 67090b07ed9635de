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

func TestDecodeURLBasic(t *testing.T) {
	cfg := DefaultURLDecodeConfig()
	out, flags := DecodeURL([]byte("/a%20b/c"), cfg)
	assert.Equal(t, "/a b/c", string(out))
	assert.Zero(t, flags)
}

func TestDecodeURLNeverGrowsBeyondInput(t *testing.T) {
	cfg := DefaultURLDecodeConfig()
	for _, in := range []string{"/a%20b", "/plain", "", "%%%", "%2f%2f%2f"} {
		out, _ := DecodeURL([]byte(in), cfg)
		assert.LessOrEqual(t, len(out), len(in))
	}
}

func TestDecodeURLEncodedSeparatorRequiresOptIn(t *testing.T) {
	cfg := DefaultURLDecodeConfig()
	out, flags := DecodeURL([]byte("/a%2fb"), cfg)
	assert.Equal(t, "/a%2fb", string(out))
	assert.Zero(t, flags&URLEncodedSeparator)

	cfg.PathSeparatorsDecode = true
	out, flags = DecodeURL([]byte("/a%2fb"), cfg)
	assert.Equal(t, "/a/b", string(out))
	assert.True(t, flags&URLEncodedSeparator != 0)
}

func TestDecodeURLBackslashConvertAndEncodedSeparator(t *testing.T) {
	cfg := DefaultURLDecodeConfig()
	cfg.BackslashConvertSlashes = true
	cfg.PathSeparatorsDecode = true
	out, flags := DecodeURL([]byte(`/a%5cb\c`), cfg)
	assert.Equal(t, "/a/b/c", string(out))
	assert.True(t, flags&URLEncodedSeparator != 0)
}

func TestDecodeURLInvalidEncodingPreserve(t *testing.T) {
	cfg := DefaultURLDecodeConfig()
	out, flags := DecodeURL([]byte("/a%zzb"), cfg)
	assert.Equal(t, "/a%zzb", string(out))
	assert.True(t, flags&URLInvalidEncoding != 0)
}

func TestDecodeURLInvalidEncodingRemovePercent(t *testing.T) {
	cfg := DefaultURLDecodeConfig()
	cfg.InvalidEncodingHandling = RemovePercent
	out, _ := DecodeURL([]byte("/a%zzb"), cfg)
	assert.Equal(t, "/azzb", string(out))
}

func TestDecodeURLInvalidEncodingProcessInvalid(t *testing.T) {
	cfg := DefaultURLDecodeConfig()
	cfg.InvalidEncodingHandling = ProcessInvalid
	out, flags := DecodeURL([]byte("/a%z1b"), cfg)
	// 'z' isn't a hex digit so its nibble is treated as 0, '1' decodes to 0x1;
	// the two are OR'd together (0x01) and both escape positions are consumed.
	assert.Equal(t, []byte{'/', 'a', 0x01, 'b'}, out)
	assert.True(t, flags&URLInvalidEncoding != 0)
}

func TestDecodeURLPlusspace(t *testing.T) {
	cfg := DefaultURLDecodeConfig()
	cfg.PlusspaceDecode = true
	out, _ := DecodeURL([]byte("a+b+c"), cfg)
	assert.Equal(t, "a b c", string(out))
}

func TestDecodeURLEncodedNulTerminates(t *testing.T) {
	cfg := DefaultURLDecodeConfig()
	cfg.NulEncodedTerminates = true
	out, flags := DecodeURL([]byte("/a%00b"), cfg)
	assert.Equal(t, "/a", string(out))
	assert.True(t, flags&URLEncodedNul != 0)
}

func TestDecodeURLRawNulTerminates(t *testing.T) {
	cfg := DefaultURLDecodeConfig()
	cfg.NulRawTerminates = true
	out, flags := DecodeURL([]byte("/a\x00b"), cfg)
	assert.Equal(t, "/a", string(out))
	assert.True(t, flags&URLRawNul != 0)
}

func TestDecodeURLConvertLowercase(t *testing.T) {
	cfg := DefaultURLDecodeConfig()
	cfg.ConvertLowercase = true
	out, _ := DecodeURL([]byte("/ABC%41"), cfg)
	assert.Equal(t, "/abca", string(out))
}

func TestDecodeURLPathSeparatorsCompress(t *testing.T) {
	cfg := DefaultURLDecodeConfig()
	cfg.PathSeparatorsCompress = true
	out, _ := DecodeURL([]byte("/a//b///c"), cfg)
	assert.Equal(t, "/a/b/c", string(out))
}

func TestDecodeURLUEncoding(t *testing.T) {
	cfg := DefaultURLDecodeConfig()
	cfg.UEncodingDecode = true
	out, flags := DecodeURL([]byte("/a%u002fb"), cfg)
	assert.Equal(t, "/a/b", string(out))
	assert.Zero(t, flags&URLBestfitUsed) // ASCII range codepoints aren't a bestfit hit

	out, flags = DecodeURL([]byte("/a%uFF0Fb"), cfg)
	assert.Equal(t, "/a/b", string(out))
	assert.True(t, flags&URLBestfitUsed != 0)
}

func TestDecodeURLUEncodingDisabledFallsThrough(t *testing.T) {
	cfg := DefaultURLDecodeConfig()
	out, flags := DecodeURL([]byte("/a%u002fb"), cfg)
	assert.Equal(t, "/a%u002fb", string(out))
	// with u_encoding_decode off, "%u" isn't a valid %XX hex escape either
	assert.True(t, flags&URLInvalidEncoding != 0)
}

func TestNormalizePathDotSegments(t *testing.T) {
	assert.Equal(t, "/a/c", string(NormalizePath([]byte("/a/b/../c"))))
	assert.Equal(t, "/a/b", string(NormalizePath([]byte("/a/./b"))))
	assert.Equal(t, "/", string(NormalizePath([]byte("/a/../../"))))
	assert.Equal(t, "/a/b", string(NormalizePath([]byte("/a//b"))))
}
