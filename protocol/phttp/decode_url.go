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

// URLFlag 标记 URL 解码过程中观察到的路径/参数异常
//
// 与 FieldFlag 类似 这些标记本身不是错误 decodeURL 在任何输入下都返回成功
// 调用方依据标记自行决定是否视为可疑流量
type URLFlag uint32

const (
	// URLInvalidEncoding 出现了无法识别的 %XX 编码(非十六进制字符)
	URLInvalidEncoding URLFlag = 1 << iota
	// URLEncodedSeparator %2f 或 %5c 被解码为路径分隔符
	URLEncodedSeparator
	// URLEncodedNul 解码得到了一个 NUL 字节
	URLEncodedNul
	// URLRawNul 输入中存在未经编码的原始 NUL 字节
	URLRawNul
	// URLUTF8Invalid 出现了不合法的 UTF-8 序列
	URLUTF8Invalid
	// URLUTF8Overlong 出现了过长编码的 UTF-8 序列
	URLUTF8Overlong
	// URLUTF8Halfwidth 出现了半角/全角映射特征的 UTF-8 序列
	URLUTF8Halfwidth
	// URLBestfitUsed best-fit 表被用来把一个多字节字符压缩为单字节
	URLBestfitUsed
)

// InvalidEncodingHandling 控制遇到无法识别的 %XX 序列时的处理策略
type InvalidEncodingHandling uint8

const (
	// PreservePercent 原样保留 '%' 及其后内容
	PreservePercent InvalidEncodingHandling = iota
	// RemovePercent 丢弃 '%' 本身 保留紧随其后的内容
	RemovePercent
	// ProcessInvalid 将每一个十六进制位分别处理 把能解出的半个字节按位或拼接
	ProcessInvalid
)

// URLDecodeConfig 是 decodeURL 的全部可配置项
type URLDecodeConfig struct {
	UEncodingDecode         bool // 识别 %uXXXX 并通过 best-fit 解码为单字节
	InvalidEncodingHandling InvalidEncodingHandling
	NulEncodedTerminates    bool // 解码得到的 \0 截断输出
	NulRawTerminates        bool // 原始 \0 字节截断输出
	PlusspaceDecode         bool // '+' 转换为空格(查询串/body 场景 不用于路径)
	BestfitReplacementByte  byte // best-fit 查不到映射时输出的字节 默认 '?'
	ConvertLowercase        bool // 解码过程中把 ASCII 字母转小写
	BackslashConvertSlashes bool // '\' 转换为 '/'
	PathSeparatorsDecode    bool // 把 %2f(以及开启反斜杠转换时的 %5c)解码为 '/'
	PathSeparatorsCompress  bool // 把连续的 '/' 折叠为一个
}

// DefaultURLDecodeConfig 返回与 MINIMAL 人格相符的保守默认配置
func DefaultURLDecodeConfig() URLDecodeConfig {
	return URLDecodeConfig{
		BestfitReplacementByte: '?',
	}
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexValue(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func lowerASCIIByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// DecodeURL 原地解码 URL 路径/参数中的百分号编码 按 cfg 描述的规则执行
//
// 返回解码后的字节切片(复用 src 的底层数组 decodeURL 的输出长度绝不会
// 超过输入长度)以及观察到的异常标记集合 decodeURL 对任何输入都返回成功——
// 不可信的编码序列只转换为标记 而不是错误 因为被动检测的目标是识别异常
// 而不是拒绝流量
func DecodeURL(src []byte, cfg URLDecodeConfig) ([]byte, URLFlag) {
	var flags URLFlag
	out := src[:0]

	for i := 0; i < len(src); i++ {
		c := src[i]

		switch {
		case c == 0:
			flags |= URLRawNul
			if cfg.NulRawTerminates {
				return out, flags
			}
			out = append(out, c)

		case c == '+' && cfg.PlusspaceDecode:
			out = append(out, ' ')

		case c == '\\' && cfg.BackslashConvertSlashes:
			out = append(out, '/')

		case c == '%':
			decoded, consumed, ok, blocked := decodePercentEscape(src[i:], cfg, &flags)
			if blocked {
				// path_separators_decode 关闭时 %2f/%5c 原样保留——这与部分
				// 服务器拒绝解码路径分隔符以避免目录穿越绕过的行为一致
				out = append(out, src[i:i+consumed+1]...)
				i += consumed
				continue
			}
			if !ok {
				switch cfg.InvalidEncodingHandling {
				case RemovePercent:
					// 丢弃 '%' 本身 下一轮循环继续处理紧随其后的字节
				case ProcessInvalid:
					out = append(out, decoded)
					i += consumed
				default: // PreservePercent
					out = append(out, c)
				}
				continue
			}

			i += consumed
			if decoded == 0 {
				flags |= URLEncodedNul
				if cfg.NulEncodedTerminates {
					return out, flags
				}
			}
			if cfg.ConvertLowercase {
				decoded = lowerASCIIByte(decoded)
			}
			out = append(out, decoded)

		default:
			if cfg.ConvertLowercase {
				c = lowerASCIIByte(c)
			}
			out = append(out, c)
		}
	}

	if cfg.PathSeparatorsCompress {
		out = compressPathSeparators(out)
	}
	return out, flags
}

// decodePercentEscape 解析从 '%' 开始的一段转义序列 返回解码字节 消耗的
// 额外字节数(不含 '%' 本身)以及是否解析成功
//
// %uXXXX 仅在 cfg.UEncodingDecode 打开时被识别 它代表一个 BMP 码点 通过
// best-fit 表压缩为单字节(与 UTF-8 decode-and-bestfit 使用同一张表)
//
// blocked 为 true 表示转义序列本身合法(%2f / %5c) 但策略要求不对路径
// 分隔符解码 调用方此时应原样保留整个序列 而不是套用 InvalidEncodingHandling
func decodePercentEscape(s []byte, cfg URLDecodeConfig, flags *URLFlag) (decoded byte, consumed int, ok bool, blocked bool) {
	if len(s) < 1 || s[0] != '%' {
		return 0, 0, false, false
	}

	if cfg.UEncodingDecode && len(s) >= 2 && (s[1] == 'u' || s[1] == 'U') {
		if len(s) >= 6 && isHexDigit(s[2]) && isHexDigit(s[3]) && isHexDigit(s[4]) && isHexDigit(s[5]) {
			cp := rune(hexValue(s[2]))<<12 | rune(hexValue(s[3]))<<8 | rune(hexValue(s[4]))<<4 | rune(hexValue(s[5]))
			b, used := bestFitByte(cp, cfg.BestfitReplacementByte)
			if used {
				*flags |= URLBestfitUsed
			}
			return b, 5, true, false
		}
		*flags |= URLInvalidEncoding
		return 0, 0, false, false
	}

	if len(s) >= 3 && isHexDigit(s[1]) && isHexDigit(s[2]) {
		b := hexValue(s[1])<<4 | hexValue(s[2])
		isSeparator := b == '/' || (cfg.BackslashConvertSlashes && b == '\\')
		if isSeparator {
			if !cfg.PathSeparatorsDecode {
				return 0, 2, false, true
			}
			*flags |= URLEncodedSeparator
			if cfg.BackslashConvertSlashes {
				b = '/'
			}
		}
		return b, 2, true, false
	}

	// ProcessInvalid 模式下把两个位置各自能解出的半个字节按位或拼接 无法
	// 解出的位置按 0 处理 consumed 仍然按 2 计(即便其中一位不是合法 hexdig)
	*flags |= URLInvalidEncoding
	if len(s) >= 3 {
		var hi, lo byte
		if isHexDigit(s[1]) {
			hi = hexValue(s[1])
		}
		if isHexDigit(s[2]) {
			lo = hexValue(s[2])
		}
		return hi<<4 | lo, 2, false, false
	}
	return 0, 0, false, false
}

// compressPathSeparators 把连续出现的 '/' 折叠为单个 '/'
func compressPathSeparators(p []byte) []byte {
	out := p[:0]
	var prevSlash bool
	for _, c := range p {
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		out = append(out, c)
	}
	return out
}

// NormalizePath 在 URL 解码之后对路径执行 "." / ".." 段归一化
//
// 采用原地分段扫描实现 而不是反复的子串替换——否则每次替换都需要重新
// 扫描整个字符串 在恶意构造的深层路径上会产生二次方级别的开销
func NormalizePath(path []byte) []byte {
	if len(path) == 0 {
		return path
	}

	leadingSlash := path[0] == '/'
	segments := make([][]byte, 0, 8)
	for _, seg := range splitSegments(path) {
		switch {
		case len(seg) == 0:
			continue
		case len(seg) == 1 && seg[0] == '.':
			continue
		case len(seg) == 2 && seg[0] == '.' && seg[1] == '.':
			if len(segments) > 0 {
				segments = segments[:len(segments)-1]
			}
		default:
			segments = append(segments, seg)
		}
	}

	out := path[:0]
	if leadingSlash {
		out = append(out, '/')
	}
	for i, seg := range segments {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, seg...)
	}
	return out
}

func splitSegments(path []byte) [][]byte {
	var segs [][]byte
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	return segs
}
