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

func TestHeaderPreservesInsertionOrder(t *testing.T) {
	h := NewHeader()
	h.Add([]byte("Host"), []byte("example.com"))
	h.Add([]byte("Accept"), []byte("*/*"))
	h.Add([]byte("User-Agent"), []byte("curl/8.0"))

	assert.Equal(t, 3, h.Len())
	names := make([]string, 0, 3)
	for _, f := range h.Fields() {
		names = append(names, f.Name.String())
	}
	assert.Equal(t, []string{"Host", "Accept", "User-Agent"}, names)
}

func TestHeaderGetFoldPreservesFirstSeenCasing(t *testing.T) {
	h := NewHeader()
	h.Add([]byte("Content-Type"), []byte("text/plain"))

	v, ok := h.GetFold([]byte("CONTENT-TYPE"))
	assert.True(t, ok)
	assert.Equal(t, "text/plain", v.String())

	// the stored field name itself keeps its original casing
	assert.Equal(t, "Content-Type", h.Fields()[0].Name.String())
}

func TestHeaderDuplicateFieldFlagged(t *testing.T) {
	h := NewHeader()
	h.Add([]byte("X-Foo"), []byte("1"))
	f2 := h.Add([]byte("x-foo"), []byte("2"))

	// FieldRepeated marks the first-seen field, not the one that triggered the repeat
	assert.True(t, h.Fields()[0].Flags&FieldRepeated != 0)
	assert.False(t, f2.Flags&FieldRepeated != 0)

	all := h.GetAllFold([]byte("X-Foo"))
	assert.Len(t, all, 2)
	assert.Equal(t, "1", all[0].String())
	assert.Equal(t, "2", all[1].String())
}

func TestHeaderFoldNulMatchesNulObfuscatedName(t *testing.T) {
	h := NewHeader()
	f := h.Add([]byte("Host\x00Evil"), []byte("attacker.example"))
	assert.True(t, f.Flags&FieldNulByte != 0)

	_, ok := h.GetFold([]byte("Host"))
	assert.False(t, ok)

	v, ok := h.GetFoldNul([]byte("Host"))
	assert.True(t, ok)
	assert.Equal(t, "attacker.example", v.String())
}

func TestHeaderAppendFolded(t *testing.T) {
	h := NewHeader()
	h.Add([]byte("X-Multi-Line"), []byte("this is a"))
	h.AppendFolded([]byte("multi-line"))
	h.AppendFolded([]byte("header value"))

	v, ok := h.GetFold([]byte("X-Multi-Line"))
	assert.True(t, ok)
	assert.Equal(t, "this is a multi-line header value", v.String())
	assert.True(t, h.Fields()[0].Flags&FieldFolded != 0)
}

func TestHeaderResolveAmbiguousSingleValue(t *testing.T) {
	h := NewHeader()
	h.Add([]byte("Content-Length"), []byte("42"))

	v, found, ambiguous := h.ResolveAmbiguous([]byte("Content-Length"))
	assert.True(t, found)
	assert.False(t, ambiguous)
	assert.Equal(t, "42", string(v))
}

func TestHeaderResolveAmbiguousConsistentDuplicates(t *testing.T) {
	h := NewHeader()
	h.Add([]byte("Content-Length"), []byte("42"))
	h.Add([]byte("Content-Length"), []byte("42"))

	v, found, ambiguous := h.ResolveAmbiguous([]byte("Content-Length"))
	assert.True(t, found)
	assert.False(t, ambiguous)
	assert.Equal(t, "42, 42", string(v))
}

func TestHeaderResolveAmbiguousConflictingDuplicatesIsSmugglingSignal(t *testing.T) {
	h := NewHeader()
	h.Add([]byte("Content-Length"), []byte("42"))
	h.Add([]byte("Content-Length"), []byte("0"))

	_, found, ambiguous := h.ResolveAmbiguous([]byte("Content-Length"))
	assert.True(t, found)
	assert.True(t, ambiguous)
}

func TestHeaderResolveAmbiguousMissing(t *testing.T) {
	h := NewHeader()
	_, found, ambiguous := h.ResolveAmbiguous([]byte("Content-Length"))
	assert.False(t, found)
	assert.False(t, ambiguous)
}

func TestHeaderReset(t *testing.T) {
	h := NewHeader()
	h.Add([]byte("Host"), []byte("example.com"))
	h.Reset()
	assert.Equal(t, 0, h.Len())
	assert.False(t, h.HasFold([]byte("Host")))
}
