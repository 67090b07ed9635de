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
	"compress/zlib"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz/lzma"
)

// CompressionAlgo 标识单层解压缩所使用的算法
type CompressionAlgo uint8

const (
	AlgoGzip CompressionAlgo = iota
	AlgoDeflate
	AlgoZlib
	AlgoLZMA
)

// DecompressLimits 对应 body 解压缩的各项阈值 全部具备合理默认值
type DecompressLimits struct {
	LZMAMemLimit uint64        // LZMA 字典内存上限 为 0 时 LZMA 整体禁用(直接 passthrough)
	LZMALayers   int           // 一次解压缩链中允许出现的 LZMA 层数上限
	BombLimit    int64         // 单个事务累计解压缩输出的硬上限
	BombRatio    int64         // 解压后字节数:压缩前字节数 的上限
	TimeLimit    time.Duration // 单次调用内解压缩允许占用的墙钟时间上限
	TimeTestFreq int           // 每多少次内部迭代检查一次时钟
	LayerLimit   int           // 允许链接的解压缩层数上限
}

// DefaultDecompressLimits 返回 spec 规定的默认阈值集合
func DefaultDecompressLimits() DecompressLimits {
	return DecompressLimits{
		LZMAMemLimit: 1048576,
		LZMALayers:   1,
		BombLimit:    1048576,
		BombRatio:    2048,
		TimeLimit:    100 * time.Millisecond,
		TimeTestFreq: 256,
		LayerLimit:   2,
	}
}

const stageBufSize = 8192
const maxRestarts = 3

// restartCycle 定义了某个算法在解码失败后依次尝试重启的算法顺序
// 第一次重启总是同一种算法本身 随后才轮转到下一种
var restartCycle = map[CompressionAlgo][]CompressionAlgo{
	AlgoGzip:    {AlgoGzip, AlgoDeflate, AlgoZlib},
	AlgoDeflate: {AlgoDeflate, AlgoZlib, AlgoGzip},
	AlgoZlib:    {AlgoZlib, AlgoGzip, AlgoDeflate},
	AlgoLZMA:    {AlgoLZMA, AlgoDeflate, AlgoZlib},
}

// DecompressFlag 记录解压缩链路在运行中观察到的异常
type DecompressFlag uint16

const (
	FlagCompressionBomb DecompressFlag = 1 << iota
	FlagCompressionTime
	FlagPassthrough
	FlagRestarted
	FlagLZMALayerCapped
)

// stage 是链路中的一层解压缩器 每层拥有一条私有 pipe 和一个后台 goroutine：
// 压缩字节写入 pw 经 dec 解出明文后 由后台 goroutine 转交给链路中的下一层
type stage struct {
	algo CompressionAlgo
	orig CompressionAlgo // 该层最初的算法 restartCycle 按它查找

	mu          sync.Mutex
	pw          *io.PipeWriter
	restarts    int
	passthrough bool
}

// Chain 是一条完整的解压缩管线 按照 Content-Encoding 的层次逆序构造
//
// Content-Encoding 中最左侧的编码层被当作最外层 最先解码 举例
// Content-Encoding: gzip, deflate 的数据流为：
// 压缩字节 -> gzip 解码器 -> deflate 解码器 -> sink(明文回调)
type Chain struct {
	limits DecompressLimits
	sink   func([]byte) error
	stages []*stage

	mu       sync.Mutex
	inTotal  int64
	outTotal int64
	lzmaSeen int
	flags    DecompressFlag
	wg       sync.WaitGroup
}

// Wait blocks until every stage's background decode goroutine has exited.
//
// Callers must invoke Close first once no more compressed bytes are
// coming — stage goroutines exit on EOF/error/passthrough, and Close is
// what unblocks their pending reads by closing each stage's write end.
func (c *Chain) Wait() { c.wg.Wait() }

// NewChain 创建一个新的解压缩链 sink 接收最终解出的明文
func NewChain(sink func([]byte) error, limits DecompressLimits) *Chain {
	if limits.TimeTestFreq <= 0 {
		limits.TimeTestFreq = 256
	}
	return &Chain{limits: limits, sink: sink}
}

// Flags 返回链路运行过程中累计观察到的异常标记
func (c *Chain) Flags() DecompressFlag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags
}

func (c *Chain) addFlag(f DecompressFlag) {
	c.mu.Lock()
	c.flags |= f
	c.mu.Unlock()
}

// Prepend 在链路最前面插入一层新的解压缩算法
//
// 调用顺序对应 Content-Encoding 头部从左到右的编码层 例如
// "gzip, deflate" 应先 Prepend(AlgoDeflate) 再 Prepend(AlgoGzip)
// 使得压缩字节先经过 gzip 层(还原出 deflate 压缩数据) 再经过 deflate 层
func (c *Chain) Prepend(algo CompressionAlgo) {
	if len(c.stages) >= c.limits.LayerLimit {
		c.addFlag(FlagPassthrough)
		return
	}

	passthrough := false
	if algo == AlgoLZMA {
		c.lzmaSeen++
		if c.limits.LZMAMemLimit == 0 || c.lzmaSeen > c.limits.LZMALayers {
			c.addFlag(FlagLZMALayerCapped)
			passthrough = true
		}
	}

	st := &stage{algo: algo, orig: algo, passthrough: passthrough}
	c.stages = append([]*stage{st}, c.stages...)
}

// BuildChain 依据 Content-Encoding 中声明的编码层(从左到右)构造解压缩链
func BuildChain(algos []CompressionAlgo, sink func([]byte) error, limits DecompressLimits) *Chain {
	c := NewChain(sink, limits)
	for i := len(algos) - 1; i >= 0; i-- {
		c.Prepend(algos[i])
	}
	return c
}

// ParseContentEncoding 把 "Content-Encoding" 头部值解析成一串算法 未知 token 被忽略
// (既不构成错误也不加入链路 符合宽容解析的总原则)
func ParseContentEncoding(v []byte) []CompressionAlgo {
	var algos []CompressionAlgo
	for _, tok := range bytes.Split(v, []byte(",")) {
		tok = bytes.ToLower(bytes.TrimSpace(tok))
		switch string(tok) {
		case "gzip", "x-gzip":
			algos = append(algos, AlgoGzip)
		case "deflate":
			algos = append(algos, AlgoDeflate)
		case "zlib":
			algos = append(algos, AlgoZlib)
		case "lzma":
			algos = append(algos, AlgoLZMA)
		}
	}
	return algos
}

// Write 把压缩字节喂入链路首层 最终明文通过 sink 回调吐出
func (c *Chain) Write(p []byte) error {
	c.mu.Lock()
	c.inTotal += int64(len(p))
	c.mu.Unlock()
	return c.feed(0, p)
}

// Close 释放链路中每一层仍然打开的 pipe 促使后台 goroutine 退出
func (c *Chain) Close() {
	for _, st := range c.stages {
		st.mu.Lock()
		if st.pw != nil {
			_ = st.pw.Close()
		}
		st.mu.Unlock()
	}
}

// feed 把 p 交给第 idx 层 若已越过最后一层则直接进入 sink
//
// 每一层要么处于 passthrough(字节原样转发给下一层) 要么拥有一条活跃的
// pipe：写入阻塞直至该层的后台 goroutine 读走全部字节 解码失败的发现和
// 重启/passthrough 的状态切换都发生在 run 内部(见下) —— 失败时该层已消费
// 的字节被直接丢弃("discard the stage's current buffer") feed 只负责在
// 下一次调用时按最新状态重新建立 pipe 或直接转发
func (c *Chain) feed(idx int, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if idx >= len(c.stages) {
		return c.sink(p)
	}

	st := c.stages[idx]

	st.mu.Lock()
	if st.passthrough {
		st.mu.Unlock()
		return c.feed(idx+1, p)
	}
	if st.pw == nil {
		st.spin(c, idx)
	}
	pw := st.pw
	st.mu.Unlock()

	if _, err := pw.Write(p); err != nil {
		// pw 在上一次写入之后才被 run 判定为失败并关闭 —— 按当前(可能已经
		// 更新过的)算法重新建立一条 pipe 再试一次 仍然失败就不再纠缠
		st.mu.Lock()
		if st.passthrough {
			st.mu.Unlock()
			return c.feed(idx+1, p)
		}
		st.spin(c, idx)
		pw = st.pw
		st.mu.Unlock()
		if _, err := pw.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// fail 在某一层解码失败时被 run 调用：按 restartCycle 切换到下一种算法 或
// 在重启次数耗尽后把该层标记为 passthrough 两种情形都会清空 pw 以便下一次
// feed 调用重新建立 pipe(或直接转发)
func (st *stage) fail(c *Chain) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.pw = nil
	if st.restarts >= maxRestarts {
		st.passthrough = true
		c.addFlag(FlagPassthrough)
		return
	}

	cycle := restartCycle[st.orig]
	st.algo = cycle[st.restarts%len(cycle)]
	st.restarts++
	c.addFlag(FlagRestarted)
}

// spin 创建该层的 pipe 并启动后台解码 goroutine 调用方必须持有 st.mu
func (st *stage) spin(c *Chain, idx int) {
	pr, pw := io.Pipe()
	st.pw = pw
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		st.run(c, idx, pr)
	}()
}

// run 是单层 stage 的后台解码循环：解析解码器 持续读取明文并转交给下一层
// 直至 pipe 关闭(正常收尾)或解码器报错(触发重启/passthrough)
func (st *stage) run(c *Chain, idx int, pr *io.PipeReader) {
	dec, err := st.newDecoder(pr, c.limits)
	if err != nil {
		pr.CloseWithError(err)
		st.fail(c)
		return
	}
	if closer, ok := dec.(io.Closer); ok {
		defer closer.Close()
	}

	out := make([]byte, stageBufSize)
	deadline := time.Now().Add(c.limits.TimeLimit)
	iterations := 0

	for {
		n, rerr := dec.Read(out)
		if n > 0 {
			c.mu.Lock()
			c.outTotal += int64(n)
			bomb := c.outTotal > c.limits.BombLimit ||
				(c.inTotal > 0 && c.limits.BombRatio > 0 && c.outTotal/c.inTotal > c.limits.BombRatio)
			c.mu.Unlock()

			if bomb {
				c.addFlag(FlagCompressionBomb)
				pr.CloseWithError(errBombLimit)
				st.fail(c)
				return
			}
			if err := c.feed(idx+1, append([]byte(nil), out[:n]...)); err != nil {
				pr.CloseWithError(err)
				st.fail(c)
				return
			}
		}

		if rerr == io.EOF {
			return
		}
		if rerr != nil {
			pr.CloseWithError(rerr)
			st.fail(c)
			return
		}

		iterations++
		if iterations%st.effectiveTestFreq(c) == 0 && time.Now().After(deadline) {
			c.addFlag(FlagCompressionTime)
			pr.CloseWithError(errTimeLimit)
			st.fail(c)
			return
		}
	}
}

func (st *stage) effectiveTestFreq(c *Chain) int {
	if c.limits.TimeTestFreq <= 0 {
		return 256
	}
	return c.limits.TimeTestFreq
}

func (st *stage) newDecoder(r io.Reader, limits DecompressLimits) (io.Reader, error) {
	switch st.algo {
	case AlgoGzip:
		return gzip.NewReader(r)
	case AlgoDeflate:
		return flate.NewReader(r), nil
	case AlgoZlib:
		return zlib.NewReader(r)
	case AlgoLZMA:
		cfg := lzma.ReaderConfig{DictCap: int(limits.LZMAMemLimit)}
		return cfg.NewReader(r)
	}
	return nil, errUnknownAlgo
}

var (
	errBombLimit   = newError("decompression bomb limit exceeded")
	errTimeLimit   = newError("decompression time limit exceeded")
	errUnknownAlgo = newError("unknown compression algorithm")
)
