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

// parseRequestLine 解析一条不含行终止符的请求行 按 Personality 对应的规则决定
// 方法与 URI 之间允许的分隔符以及前导空白的容忍度 URI 拆分之后立即按 urlCfg
// 完成百分号解码/路径归一化/UTF-8 best-fit 折叠 结果异常记录在 rl.URLFlags 里
// 供调用方映射为事务级别的标记
//
// 解析永不失败: 不含空格的行整体被当作 method URI 为空 method 不在已知方法
// 集合里时(KnownMethod 为 false) 调用方打上 TxRequestLineMalformed
func parseRequestLine(raw []byte, p Personality, urlCfg URLDecodeConfig) RequestLine {
	rules := RequestLineRulesFor(p)
	line := raw
	if rules.AllowLeadingWhitespace {
		line = bytes.TrimLeft(line, " \t")
	}

	rl := RequestLine{Raw: raw}

	sp := bytes.IndexByte(line, ' ')
	if sp < 0 {
		rl.Method = line
		rl.KnownMethod = IsKnownMethod(rl.Method)
		return rl
	}
	rl.Method = line[:sp]
	rl.KnownMethod = IsKnownMethod(rl.Method)
	rest := line[sp+1:]

	if rules.RejectNonLWSBetweenMethodAndURI {
		rest = bytes.TrimLeft(rest, " ")
	} else {
		rest = bytes.TrimLeft(rest, " \t")
	}

	// HTTP/0.9 请求行只有 "METHOD SP URI" 没有协议 token; 从尾部向前找下一个
	// 空格来定位协议部分 若找不到 整个 rest 就是 URI
	sp2 := bytes.LastIndexByte(rest, ' ')
	if sp2 < 0 {
		rl.URIRaw = rest
		rl.URI = SplitURI(rest)
		rl.URLFlags = decodeRequestURI(&rl.URI, urlCfg)
		rl.Version = ProtocolNone
		return rl
	}

	candidate := rest[sp2+1:]
	if major, minor, err := ParseVersion(candidate); err == nil {
		rl.Protocol = candidate
		rl.URIRaw = rest[:sp2]
		rl.Version = versionEnum(major, minor)
	} else if bytes.HasPrefix(bytes.ToUpper(candidate), []byte("HTTP/")) {
		// 格式良好但未识别的版本号(如 HTTP/2.7) -> INVALID 而非 NONE
		rl.Protocol = candidate
		rl.URIRaw = rest[:sp2]
		rl.Version = ProtocolInvalid
	} else {
		// 没有可识别的协议 token 整个 rest 都是 URI(HTTP/0.9)
		rl.URIRaw = rest
		rl.Version = ProtocolNone
	}
	rl.URI = SplitURI(rl.URIRaw)
	rl.URLFlags = decodeRequestURI(&rl.URI, urlCfg)
	return rl
}

func versionEnum(major, minor uint8) ProtocolVersion {
	switch {
	case major == 0 && minor == 9:
		return ProtocolHTTP09
	case major == 1 && minor == 0:
		return ProtocolHTTP10
	case major == 1 && minor == 1:
		return ProtocolHTTP11
	default:
		return ProtocolInvalid
	}
}

// parseStatusLine 解析一条不含行终止符的响应状态行
// "HTTP/1.1 200 OK" -> protocol/status/reason 任一段缺失都不算致命错误
func parseStatusLine(raw []byte) StatusLine {
	sl := StatusLine{Raw: raw}
	sp := bytes.IndexByte(raw, ' ')
	if sp < 0 {
		sl.Protocol = raw
		return sl
	}
	sl.Protocol = raw[:sp]
	if major, minor, err := ParseVersion(sl.Protocol); err == nil {
		sl.Version = versionEnum(major, minor)
	} else {
		sl.Version = ProtocolInvalid
	}

	rest := bytes.TrimLeft(raw[sp+1:], " ")
	sp2 := bytes.IndexByte(rest, ' ')
	var codeField []byte
	if sp2 < 0 {
		codeField = rest
	} else {
		codeField = rest[:sp2]
		sl.Reason = rest[sp2+1:]
	}
	sl.StatusCode = parseStatusCode(codeField)
	return sl
}

func parseStatusCode(b []byte) int {
	if len(b) != 3 {
		return 0
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// looksLikeRequestLine 在 FINALIZE 状态用于判断紧随 body 之后的字节是否是一条
// 新请求行的起始——用以区分 "流水线的下一条请求" 与 "多出来的 body 字节"
func looksLikeRequestLine(b []byte) bool {
	b = bytes.TrimLeft(b, " \t\r\n")
	sp := bytes.IndexByte(b, ' ')
	if sp <= 0 {
		return false
	}
	return IsKnownMethod(b[:sp])
}
