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

import "bytes"

// HeaderMode 控制 header 行解析器的宽容程度
//
// Request 与 Response 在行终止符的容忍度上并不对称——被动观测到的真实
// 服务器实现对畸形响应行的容忍度远高于对请求行的容忍度 因此拆成两种模式
type HeaderMode uint8

const (
	// RequestHeaderMode 仅接受 LF 与 CR LF 作为行终止符
	RequestHeaderMode HeaderMode = iota
	// ResponseHeaderMode 额外接受裸 CR、LF CR、LF CR CR LF 等畸形终止符
	ResponseHeaderMode
)

// ParseHeaderBlock 尝试从 buf 中解析尽可能多的完整 header 行 写入 h
//
// 这是一个流式组合子：给定一段可能不完整的前缀 它要么解析出若干行并
// 报告消费了多少字节、是否已经抵达 header 块结尾 要么在数据不足时在
// consumed 处停下 等待调用方补充更多字节后重新调用(总是从头重新扫描
// 未消费的尾部 因为 header 行在到达之前不能确定其终止符长度)
//
// complete 为 true 代表遇到了表示 header 块结束的空行
func ParseHeaderBlock(buf []byte, mode HeaderMode, h *Header) (consumed int, complete bool) {
	pos := 0
	for {
		end, termLen, eolFlag, found := findLineEnd(buf[pos:], mode)
		if !found {
			return pos, false
		}

		line := buf[pos : pos+end]
		pos += end + termLen

		if len(line) == 0 {
			return pos, true
		}

		// EOL SP EOL：一行只包含线性空白 视为单个 EOL 而不是折行或新字段
		if isAllLWS(line) {
			if h.Len() > 0 {
				h.fields[len(h.fields)-1].Flags |= FieldFoldingEmpty
			}
			continue
		}

		if line[0] == ' ' || line[0] == '\t' {
			appendFoldedLine(h, line, eolFlag)
			continue
		}

		parseFieldLine(h, line, eolFlag)
	}
}

func isAllLWS(line []byte) bool {
	for _, c := range line {
		if c != ' ' && c != '\t' {
			return false
		}
	}
	return true
}

func appendFoldedLine(h *Header, line []byte, eolFlag FieldFlag) {
	trimmed := bytes.TrimLeft(line, " \t")
	h.AppendFolded(trimmed)
	if h.Len() > 0 {
		h.fields[len(h.fields)-1].Flags |= eolFlag
	}
}

// parseFieldLine 解析一行形如 "name: value" 的内容 并把结果追加到 h
func parseFieldLine(h *Header, line []byte, eolFlag FieldFlag) {
	i := bytes.IndexByte(line, ':')

	var name, value []byte
	var extra FieldFlag

	if i < 0 {
		// 缺失冒号：整行都无法按 name:value 切分 value 置为整行 name 置空
		extra |= FieldMissingColon | FieldUnparseable
		value = line
	} else {
		name = line[:i]
		value = line[i+1:]

		if before := len(name); before > 0 {
			trimmedName := bytes.TrimLeft(name, " \t")
			if len(trimmedName) != before {
				extra |= FieldNameLeadingWS
			}
			before = len(trimmedName)
			trimmedName = bytes.TrimRight(trimmedName, " \t")
			if len(trimmedName) != before {
				extra |= FieldNameTrailingWS
			}
			name = trimmedName
		}

		if len(name) == 0 {
			extra |= FieldNameEmpty
		} else if !isToken(name) {
			extra |= FieldNameNonToken | FieldInvalid
		}

		value = bytes.TrimLeft(value, " \t")
	}

	if bytes.IndexByte(value, cStringByte) >= 0 {
		// 请求模式下内嵌 NUL 之后的内容仍然保留 以便与把值截断在 NUL 处的
		// 实现进行比对——FieldNulByte 标记存在性 FieldNulTerminated
		// 标记 "保留了 NUL 之后的内容" 这一具体解析选择
		extra |= FieldNulTerminated
	}

	if len(line) > fieldLongThreshold {
		extra |= FieldLong
	}

	f := h.Add(name, value)
	f.Flags |= extra | eolFlag
}

// fieldLongThreshold 是触发 FieldLong 告警的字段行长度 远低于 Config.FieldLimit
// 描述的致命溢出阈值——前者是"值得记一笔的信号" 后者是"必须中止解析的硬限制"
const fieldLongThreshold = 4096

// isToken 判断 b 中的每个字节是否都属于 RFC 7230 的 tchar 集合
func isToken(b []byte) bool {
	for _, c := range b {
		if !isTchar(c) {
			return false
		}
	}
	return true
}

func isTchar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// findLineEnd 在 buf 中定位下一个行终止符
//
// 返回行内容长度 end 终止符长度 termLen 以及该终止符触发的标记(若为畸形
// 终止符) found 为 false 代表 buf 中尚未出现任何可识别的终止符 需要等待
// 更多数据
func findLineEnd(buf []byte, mode HeaderMode) (end int, termLen int, flag FieldFlag, found bool) {
	for i := 0; i < len(buf); i++ {
		switch buf[i] {
		case '\n':
			return i, 1, 0, true

		case '\r':
			switch {
			case i+1 < len(buf) && buf[i+1] == '\n':
				return i, 2, 0, true

			case mode == ResponseHeaderMode && i+2 < len(buf) && buf[i+1] == '\r' && buf[i+2] == '\n':
				// "CR CR LF" 变体: 上面的 CRLF 分支要求 i+1 处是 LF 因此不会先命中
				// 三个字节一起作为一个畸形终止符消费
				return i, 3, FieldDeformedEOL, true

			case mode == ResponseHeaderMode && i+1 >= len(buf):
				return -1, 0, 0, false // 可能还有后续字节 等待更多数据

			case mode == ResponseHeaderMode:
				// 裸 CR(后面不是 LF)——响应模式下接受为折行的特殊变体
				return i, 1, FieldFoldingSpecialCase, true

			default:
				// 请求模式下裸 CR 不终止行 视为普通数据字节继续扫描
			}
		}
	}
	return -1, 0, 0, false
}
