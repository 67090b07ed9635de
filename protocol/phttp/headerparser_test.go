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

func TestParseHeaderBlockBasic(t *testing.T) {
	h := NewHeader()
	buf := []byte("Host: example.com\r\nAccept: */*\r\n\r\nBODY...")
	consumed, complete := ParseHeaderBlock(buf, RequestHeaderMode, h)
	assert.True(t, complete)
	assert.Equal(t, 2, h.Len())

	v, ok := h.GetFold([]byte("host"))
	assert.True(t, ok)
	assert.Equal(t, "example.com", v.String())
	assert.Equal(t, "BODY...", string(buf[consumed:]))
}

func TestParseHeaderBlockIncomplete(t *testing.T) {
	h := NewHeader()
	// both lines are terminated, but the blank line marking the end of the
	// header block hasn't arrived yet, so the parser must report incomplete.
	buf := []byte("Host: example.com\r\nAccept: */*\r\n")
	consumed, complete := ParseHeaderBlock(buf, RequestHeaderMode, h)
	assert.False(t, complete)
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, len(buf), consumed)
	assert.Equal(t, "", string(buf[consumed:]))
}

func TestParseHeaderBlockIncompleteTrailingPartialLine(t *testing.T) {
	h := NewHeader()
	// the second line has no terminator at all yet; only the first line
	// should be consumed and parsed.
	buf := []byte("Host: example.com\r\nAccept: */*")
	consumed, complete := ParseHeaderBlock(buf, RequestHeaderMode, h)
	assert.False(t, complete)
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, "Accept: */*", string(buf[consumed:]))
}

func TestParseHeaderBlockFolding(t *testing.T) {
	h := NewHeader()
	buf := []byte("X-Multi: this is a\r\n  multi-line\r\n  value\r\n\r\n")
	_, complete := ParseHeaderBlock(buf, RequestHeaderMode, h)
	assert.True(t, complete)
	assert.Equal(t, 1, h.Len())

	v, _ := h.GetFold([]byte("X-Multi"))
	assert.Equal(t, "this is a multi-line value", v.String())
	assert.True(t, h.Fields()[0].Flags&FieldFolded != 0)
}

func TestParseHeaderBlockMissingColon(t *testing.T) {
	h := NewHeader()
	buf := []byte("NotAHeaderLine\r\nHost: x\r\n\r\n")
	ParseHeaderBlock(buf, RequestHeaderMode, h)
	assert.Equal(t, 2, h.Len())
	assert.True(t, h.Fields()[0].Flags&FieldMissingColon != 0)
	assert.Equal(t, "", h.Fields()[0].Name.String())
	assert.Equal(t, "NotAHeaderLine", h.Fields()[0].Value.String())
}

func TestParseHeaderBlockEmptyName(t *testing.T) {
	h := NewHeader()
	buf := []byte(": value\r\n\r\n")
	ParseHeaderBlock(buf, RequestHeaderMode, h)
	assert.Equal(t, 1, h.Len())
	assert.True(t, h.Fields()[0].Flags&FieldNameEmpty != 0)
}

func TestParseHeaderBlockNonTokenChars(t *testing.T) {
	h := NewHeader()
	buf := []byte("X Foo: value\r\n\r\n")
	ParseHeaderBlock(buf, RequestHeaderMode, h)
	assert.Equal(t, 1, h.Len())
	assert.True(t, h.Fields()[0].Flags&FieldNameNonToken != 0)
}

func TestParseHeaderBlockNulInValue(t *testing.T) {
	h := NewHeader()
	buf := append([]byte("X-Foo: bar\x00evil\r\n\r\n"))
	ParseHeaderBlock(buf, RequestHeaderMode, h)
	assert.Equal(t, 1, h.Len())
	assert.True(t, h.Fields()[0].Flags&FieldNulTerminated != 0)
	assert.Equal(t, "bar\x00evil", h.Fields()[0].Value.String())
}

func TestParseHeaderBlockResponseBareCR(t *testing.T) {
	h := NewHeader()
	buf := []byte("Host: x\rAccept: y\r\n\r\n")
	_, complete := ParseHeaderBlock(buf, ResponseHeaderMode, h)
	assert.True(t, complete)
	assert.Equal(t, 2, h.Len())
	assert.True(t, h.Fields()[0].Flags&FieldFoldingSpecialCase != 0)
}

func TestParseHeaderBlockRequestBareCRIsNotTerminator(t *testing.T) {
	h := NewHeader()
	// a bare CR in request mode is not a line terminator; the line keeps
	// accumulating until an actual LF or CRLF is found.
	buf := []byte("X-Foo: a\rb\r\n\r\n")
	ParseHeaderBlock(buf, RequestHeaderMode, h)
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, "a\rb", h.Fields()[0].Value.String())
}

func TestIsToken(t *testing.T) {
	assert.True(t, isToken([]byte("Content-Type")))
	assert.True(t, isToken([]byte("X-Custom_Header.v2")))
	assert.False(t, isToken([]byte("Has Space")))
	assert.False(t, isToken([]byte("Has:Colon")))
}
