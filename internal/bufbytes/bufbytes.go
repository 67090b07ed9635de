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

// Package bufbytes 提供 phttp 引擎使用的可变长字节容器
//
// Bytes 与 bytes.Buffer 的区别在于它额外提供了一组大小写不敏感、忽略内嵌
// NUL 字节的比较与查找方法 这是正确识别 HTTP 服务器规避行为所必需的——
// 不同服务器对大小写和截断 NUL 的容忍程度并不一致
package bufbytes

import "bytes"

const cStringEnd = '\x00'

// Bytes 是一个拥有预留容量的可变长字节容器
type Bytes struct {
	buf []byte
}

// New 通过拷贝 p 创建一个 *Bytes 新实例
//
// 调用方后续对 p 的修改不会影响到返回的 Bytes
func New(p []byte) *Bytes {
	b := &Bytes{buf: make([]byte, len(p))}
	copy(b.buf, p)
	return b
}

// Adopt 创建一个直接持有 p 的 *Bytes 实例 不做拷贝
//
// 调用方必须保证 p 的生命周期长于返回的 Bytes 且此后不再修改 p
// 仅应在调用方明确知晓底层存储来源且可控时使用
func Adopt(p []byte) *Bytes {
	return &Bytes{buf: p}
}

// Len 返回当前长度
func (b *Bytes) Len() int {
	return len(b.buf)
}

// Bytes 返回底层字节切片 调用方不应修改返回值
func (b *Bytes) Bytes() []byte {
	return b.buf
}

// String 返回字节内容的字符串形式
func (b *Bytes) String() string {
	return string(b.buf)
}

// grow 以 "不断倍增直至足够容纳" 的策略扩容
func grow(buf []byte, extra int) []byte {
	need := len(buf) + extra
	if cap(buf) >= need {
		return buf
	}
	newCap := cap(buf)
	if newCap == 0 {
		newCap = 8
	}
	for newCap < need {
		newCap *= 2
	}
	grown := make([]byte, len(buf), newCap)
	copy(grown, buf)
	return grown
}

// Append 追加字节切片
func (b *Bytes) Append(p []byte) *Bytes {
	b.buf = grow(b.buf, len(p))
	b.buf = append(b.buf, p...)
	return b
}

// AppendByte 追加单个字节
func (b *Bytes) AppendByte(c byte) *Bytes {
	b.buf = grow(b.buf, 1)
	b.buf = append(b.buf, c)
	return b
}

// AppendBytes 追加另一个 *Bytes 的内容
func (b *Bytes) AppendBytes(other *Bytes) *Bytes {
	if other == nil {
		return b
	}
	return b.Append(other.buf)
}

// Reset 清空内容但保留已分配容量
func (b *Bytes) Reset() {
	b.buf = b.buf[:0]
}

// Clone 返回底层内容的一份独立拷贝
func (b *Bytes) Clone() []byte {
	if b.buf == nil {
		return nil
	}
	return append([]byte(nil), b.buf...)
}

// Equal 精确比较(大小写敏感)
func (b *Bytes) Equal(p []byte) bool {
	return bytes.Equal(b.buf, p)
}

// EqualFold 大小写不敏感比较(仅 ASCII 范围)
func EqualFold(a, c []byte) bool {
	if len(a) != len(c) {
		return false
	}
	for i := range a {
		if lowerASCII(a[i]) != lowerASCII(c[i]) {
			return false
		}
	}
	return true
}

// EqualFold 对 b 自身内容做大小写不敏感比较
func (b *Bytes) EqualFold(p []byte) bool {
	return EqualFold(b.buf, p)
}

// EqualFoldNul 大小写不敏感且忽略两侧首个 NUL 字节之后内容的比较
//
// 许多 HTTP 服务器在遇到首个 NUL 字节时会直接截断字符串 而另一些则不会
// 为了能够识别两种行为 需要提供一个 "在 NUL 处提前判等" 的比较变体
func EqualFoldNul(a, c []byte) bool {
	a = truncateAtNul(a)
	c = truncateAtNul(c)
	return EqualFold(a, c)
}

func (b *Bytes) EqualFoldNul(p []byte) bool {
	return EqualFoldNul(b.buf, p)
}

func truncateAtNul(p []byte) []byte {
	if i := bytes.IndexByte(p, cStringEnd); i >= 0 {
		return p[:i]
	}
	return p
}

func lowerASCII(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// IndexByte 返回 c 在内容中首次出现的位置 未找到返回 -1
func (b *Bytes) IndexByte(c byte) int {
	return bytes.IndexByte(b.buf, c)
}

// Index 返回子切片 sub 首次出现的位置(大小写敏感)
func (b *Bytes) Index(sub []byte) int {
	return bytes.Index(b.buf, sub)
}

// IndexFold 大小写不敏感的子切片查找
func IndexFold(s, sub []byte) int {
	if len(sub) == 0 {
		return 0
	}
	n, m := len(s), len(sub)
	for i := 0; i+m <= n; i++ {
		if EqualFold(s[i:i+m], sub) {
			return i
		}
	}
	return -1
}

func (b *Bytes) IndexFold(sub []byte) int {
	return IndexFold(b.buf, sub)
}

// IndexFoldNul 大小写且 NUL 均不敏感的子切片查找
//
// 在 s 与 sub 各自首个 NUL 字节处截断后再执行 IndexFold
func IndexFoldNul(s, sub []byte) int {
	return IndexFold(truncateAtNul(s), truncateAtNul(sub))
}

func (b *Bytes) IndexFoldNul(sub []byte) int {
	return IndexFoldNul(b.buf, sub)
}

// HasPrefix 大小写敏感前缀判断
func (b *Bytes) HasPrefix(prefix []byte) bool {
	return bytes.HasPrefix(b.buf, prefix)
}

// HasPrefixFold 大小写不敏感前缀判断
func HasPrefixFold(s, prefix []byte) bool {
	if len(prefix) > len(s) {
		return false
	}
	return EqualFold(s[:len(prefix)], prefix)
}

func (b *Bytes) HasPrefixFold(prefix []byte) bool {
	return HasPrefixFold(b.buf, prefix)
}

// TrimSpace 原地去除首尾的 HTTP 线性空白(SP/HT/CR/LF)
func (b *Bytes) TrimSpace() *Bytes {
	b.buf = bytes.TrimFunc(b.buf, isLWS)
	return b
}

func isLWS(r rune) bool {
	switch r {
	case ' ', '\t', '\r', '\n':
		return true
	}
	return false
}

// TrimCStringText 去除末尾的单个 NUL 终止符(若存在)后返回字符串
func (b *Bytes) TrimCStringText() string {
	if !bytes.HasSuffix(b.buf, []byte{cStringEnd}) {
		return b.String()
	}
	return string(b.buf[:len(b.buf)-1])
}
