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
	"net/http"

	"github.com/packetd/htpscan/internal/bufbytes"
)

// FieldFlag 标记单个 Header 字段在解析过程中观察到的特征
//
// 这些特征本身并不构成解析错误 但对于被动流量检测来说往往是信号
type FieldFlag uint16

const (
	// FieldFolded 该字段的值跨越了多行(RFC 7230 已废弃但仍被部分实现接受的折行语法)
	FieldFolded FieldFlag = 1 << iota
	// FieldRepeated 同名字段在同一条消息中出现了不止一次
	FieldRepeated
	// FieldUnparseable 整行内容完全无法按 "name:value" 形态切分
	FieldUnparseable
	// FieldInvalid 字段本身可以被切分 但内容违反了 token 语法等基本约束
	FieldInvalid
	// FieldLong 字段行长度超出了固定的告警阈值 fieldLongThreshold(与致命的 field_limit 无关)
	FieldLong
	// FieldNulByte 字段名或字段值中出现了内嵌的 NUL 字节
	FieldNulByte
	// FieldMissingColon 整行都没有找到 ':' 分隔符 此时整行被当作 value 名字置空
	FieldMissingColon
	// FieldNameEmpty 字段名为空字符串(如行以 ':' 开头)
	FieldNameEmpty
	// FieldNameNonToken 字段名中包含 RFC 7230 token 语法之外的字符
	FieldNameNonToken
	// FieldNameLeadingWS 字段名前出现了被剥离的前导空白
	FieldNameLeadingWS
	// FieldNameTrailingWS 字段名后 ':' 前出现了被剥离的尾随空白
	FieldNameTrailingWS
	// FieldFoldingSpecialCase 仅响应模式接受的 CR-only 折行分隔符
	FieldFoldingSpecialCase
	// FieldFoldingEmpty "EOL SP EOL" 形态被当作单个 EOL 处理
	FieldFoldingEmpty
	// FieldDeformedEOL 行终止符是非常规的畸形序列(如 LF CR CR LF) 但被当作单个终止符接受
	FieldDeformedEOL
	// FieldNulTerminated 请求模式下 value 中内嵌的 NUL 之后的内容仍被保留(而非截断)
	FieldNulTerminated
)

// Field 是 Header 中按到达顺序保存的单个字段
type Field struct {
	Name  *bufbytes.Bytes
	Value *bufbytes.Bytes
	Flags FieldFlag
}

// Header 是保序 允许重复名 大小写及内嵌 NUL 不敏感查找的字段集合
//
// net/http.Header 是一个 map[string][]string 无法保留字段到达的原始顺序
// 也无法区分 "同名字段出现两次" 与 "字段值本身是个列表" 这两种场景
// 这对被动检测是致命的——很多请求走私手法正是依赖于重复字段在不同实现
// 之间取舍不一致 因此这里用一个保序切片 + 惰性线性扫描来实现
type Header struct {
	fields []Field
}

// NewHeader 创建一个空的 Header
func NewHeader() *Header {
	return &Header{}
}

// Len 返回字段数量(计入重复字段)
func (h *Header) Len() int {
	return len(h.fields)
}

// Fields 按到达顺序返回全部字段 调用方不应修改返回的切片
func (h *Header) Fields() []Field {
	return h.fields
}

// Add 追加一个字段到末尾 并返回新增字段的指针以便调用方继续设置 Flags
//
// 若同名字段(大小写及 NUL 不敏感)此前已经出现过 FieldRepeated 打在最先出现的
// 那个字段上 而不是本次新增的字段——重复与否是已有字段的属性 不是新字段的属性
func (h *Header) Add(name, value []byte) *Field {
	flags := FieldFlag(0)
	if bytes.IndexByte(name, cStringByte) >= 0 || bytes.IndexByte(value, cStringByte) >= 0 {
		flags |= FieldNulByte
	}
	for i := range h.fields {
		if h.fields[i].Name.EqualFoldNul(name) {
			h.fields[i].Flags |= FieldRepeated
			break
		}
	}

	h.fields = append(h.fields, Field{
		Name:  bufbytes.New(name),
		Value: bufbytes.New(value),
		Flags: flags,
	})
	return &h.fields[len(h.fields)-1]
}

// AppendFolded 将 data 追加到最后一个字段的值中 用于处理行折叠(line folding)
//
// HTTP/1.x 已经废弃了以 SP/HT 开头的续行语法 但部分服务器仍然接受它
// 调用方在识别出续行后应调用本方法而不是 Add 以保留字段边界语义
func (h *Header) AppendFolded(data []byte) {
	if len(h.fields) == 0 {
		return
	}
	last := &h.fields[len(h.fields)-1]
	last.Value.AppendByte(' ').Append(data)
	last.Flags |= FieldFolded
}

// GetFold 按大小写不敏感查找第一个匹配的字段值 不做 NUL 截断比较
func (h *Header) GetFold(name []byte) (*bufbytes.Bytes, bool) {
	for i := range h.fields {
		if h.fields[i].Name.EqualFold(name) {
			return h.fields[i].Value, true
		}
	}
	return nil, false
}

// GetFoldNul 按大小写及内嵌 NUL 均不敏感的方式查找第一个匹配的字段值
//
// 部分服务器在解析字段名时遇到 NUL 会直接截断 为了识别这种差异化解析行为
// 需要这个更宽松的查找变体
func (h *Header) GetFoldNul(name []byte) (*bufbytes.Bytes, bool) {
	for i := range h.fields {
		if h.fields[i].Name.EqualFoldNul(name) {
			return h.fields[i].Value, true
		}
	}
	return nil, false
}

// GetAllFold 按大小写不敏感返回全部匹配字段的值 按到达顺序排列
func (h *Header) GetAllFold(name []byte) []*bufbytes.Bytes {
	var out []*bufbytes.Bytes
	for i := range h.fields {
		if h.fields[i].Name.EqualFold(name) {
			out = append(out, h.fields[i].Value)
		}
	}
	return out
}

// GetAllFoldNul 按大小写及 NUL 均不敏感返回全部匹配字段的值
func (h *Header) GetAllFoldNul(name []byte) []*bufbytes.Bytes {
	var out []*bufbytes.Bytes
	for i := range h.fields {
		if h.fields[i].Name.EqualFoldNul(name) {
			out = append(out, h.fields[i].Value)
		}
	}
	return out
}

// HasFold 判断是否存在大小写不敏感匹配的字段
func (h *Header) HasFold(name []byte) bool {
	_, ok := h.GetFold(name)
	return ok
}

// ResolveAmbiguous 解析同名字段(大小写及 NUL 不敏感)可能存在的多重取值
//
// 依据 RFC 7230 3.2.2 单个字段的多个出现在语义上等价于用 ", " 连接的单个值
// 但请求走私攻击恰恰利用了不同实现对这一规则遵循与否的差异:
//   - found 为 false 表示该字段未出现
//   - 若字段出现多次且取值不完全一致 ambiguous 返回 true 调用方据此给事务打上 TxHeaderAmbiguous
//     (典型场景是重复的 Content-Length 字段)
func (h *Header) ResolveAmbiguous(name []byte) (value []byte, found bool, ambiguous bool) {
	all := h.GetAllFoldNul(name)
	if len(all) == 0 {
		return nil, false, false
	}
	if len(all) == 1 {
		return all[0].Bytes(), true, false
	}

	first := all[0]
	for _, v := range all[1:] {
		if !first.EqualFold(v.Bytes()) {
			ambiguous = true
			break
		}
	}

	joined := bufbytes.New(nil)
	for i, v := range all {
		if i > 0 {
			joined.Append(commaSpace)
		}
		joined.AppendBytes(v)
	}
	return joined.Bytes(), true, ambiguous
}

// Reset 清空全部字段 便于 Header 的复用(如跨事务复用同一个实例)
func (h *Header) Reset() {
	h.fields = h.fields[:0]
}

// ToHTTPHeader 把保序字段集合摊平成标准库 http.Header 形态 供下游 exporter/processor 消费
//
// 摊平会丢失原始到达顺序以及重复字段之间的 Flags 区分——这些信息只在引擎内部
// 用于检测走私类异常 一旦归档为 RoundTrip 就不再需要
func (h *Header) ToHTTPHeader() http.Header {
	out := make(http.Header, len(h.fields))
	for _, f := range h.fields {
		name := f.Name.String()
		out[name] = append(out[name], f.Value.String())
	}
	return out
}

var commaSpace = []byte(", ")

const cStringByte = '\x00'
