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
	"compress/flate"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func flateCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// collectingSink gathers every chunk handed to it, synchronized because
// stage decode goroutines may deliver concurrently with the test goroutine.
type collectingSink struct {
	mu  sync.Mutex
	out bytes.Buffer
}

func (s *collectingSink) write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.Write(p)
	return nil
}

func (s *collectingSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.String()
}

func TestChainSingleGzipStage(t *testing.T) {
	plain := []byte("hello htpscan world")
	compressed := gzipCompress(t, plain)

	sink := &collectingSink{}
	chain := BuildChain([]CompressionAlgo{AlgoGzip}, sink.write, DefaultDecompressLimits())

	require.NoError(t, chain.Write(compressed))
	chain.Close()
	chain.Wait()

	assert.Equal(t, string(plain), sink.String())
	assert.Zero(t, chain.Flags())
}

func TestChainGzipThenDeflate(t *testing.T) {
	plain := []byte("nested layers of encoding")
	deflated := flateCompress(t, plain)
	compressed := gzipCompress(t, deflated)

	sink := &collectingSink{}
	chain := BuildChain([]CompressionAlgo{AlgoGzip, AlgoDeflate}, sink.write, DefaultDecompressLimits())

	require.NoError(t, chain.Write(compressed))
	chain.Close()
	chain.Wait()

	assert.Equal(t, string(plain), sink.String())
}

func TestChainLayerLimitCapsAdditionalStages(t *testing.T) {
	limits := DefaultDecompressLimits()
	limits.LayerLimit = 1

	sink := &collectingSink{}
	chain := BuildChain([]CompressionAlgo{AlgoGzip, AlgoDeflate, AlgoZlib}, sink.write, limits)
	assert.Len(t, chain.stages, 1)
	assert.True(t, chain.Flags()&FlagPassthrough != 0)
}

func TestChainLZMADisabledIsPassthrough(t *testing.T) {
	limits := DefaultDecompressLimits()
	limits.LZMAMemLimit = 0

	sink := &collectingSink{}
	chain := BuildChain([]CompressionAlgo{AlgoLZMA}, sink.write, limits)

	payload := []byte("raw bytes, never touched by a decoder")
	require.NoError(t, chain.Write(payload))
	chain.Close()
	chain.Wait()

	assert.Equal(t, string(payload), sink.String())
	assert.True(t, chain.Flags()&FlagLZMALayerCapped != 0)
}

func TestChainBadGzipMagicRestartsThenPassesThrough(t *testing.T) {
	sink := &collectingSink{}
	chain := BuildChain([]CompressionAlgo{AlgoGzip}, sink.write, DefaultDecompressLimits())

	garbage := []byte("this is definitely not a gzip stream")
	_ = chain.Write(garbage)
	chain.Close()
	chain.Wait()

	assert.True(t, chain.Flags()&(FlagRestarted|FlagPassthrough) != 0)
}

func TestChainEmptyWriteIsNoop(t *testing.T) {
	sink := &collectingSink{}
	chain := BuildChain([]CompressionAlgo{AlgoGzip}, sink.write, DefaultDecompressLimits())
	assert.NoError(t, chain.Write(nil))
	chain.Close()
	chain.Wait()
	assert.Equal(t, "", sink.String())
}

func TestParseContentEncodingKnownAndUnknownTokens(t *testing.T) {
	algos := ParseContentEncoding([]byte("gzip, br, deflate"))
	assert.Equal(t, []CompressionAlgo{AlgoGzip, AlgoDeflate}, algos)
}

func TestBuildChainOrdersOuterEncodingFirst(t *testing.T) {
	sink := &collectingSink{}
	chain := BuildChain([]CompressionAlgo{AlgoGzip, AlgoDeflate}, sink.write, DefaultDecompressLimits())
	require.Len(t, chain.stages, 2)
	assert.Equal(t, AlgoGzip, chain.stages[0].algo)
	assert.Equal(t, AlgoDeflate, chain.stages[1].algo)
}
