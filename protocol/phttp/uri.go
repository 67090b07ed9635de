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

// SplitURI 把一个原始请求目标(request-target)切分为 scheme/userinfo/host/port/
// path/query/fragment 各分量 不做百分号解码——解码由调用方在拆分之后对 path
// 与 query 分别调用 DecodeURL 完成 这是刻意的顺序: 分隔符本身(如 '?' '#')
// 若被百分号编码 必须在拆分阶段保持原样 否则会被提前吞掉 从而造成与真实服务器
// 不一致的解析结果(编码分隔符正是一类走私/绕过手法)
//
// 该函数永不返回错误: 不满足 absolute-URI / authority-form 语法的输入会被当作
// origin-form(纯 path)处理 符合宽容解析原则
func SplitURI(raw []byte) ParsedURI {
	uri := ParsedURI{Port: -1}
	rest := raw

	if scheme, after, ok := splitScheme(rest); ok {
		uri.Scheme = scheme
		rest = after
	}

	if len(uri.Scheme) > 0 || (len(rest) >= 2 && rest[0] == '/' && rest[1] == '/') {
		rest = bytes.TrimPrefix(rest, []byte("//"))
		authEnd := bytes.IndexAny(rest, "/?#")
		var authority []byte
		if authEnd < 0 {
			authority = rest
			rest = nil
		} else {
			authority = rest[:authEnd]
			rest = rest[authEnd:]
		}
		uri.User, uri.Password, uri.HasUserinfo, uri.Host, uri.PortRaw, uri.Port = splitAuthority(authority)
		uri.HostValid = validateHostname(uri.Host)
	} else {
		// origin-form(纯 path)请求没有 authority 分量 无主机可言 不应被当作异常
		uri.HostValid = true
	}

	if i := bytes.IndexByte(rest, '#'); i >= 0 {
		uri.Fragment = rest[i+1:]
		rest = rest[:i]
	}
	if i := bytes.IndexByte(rest, '?'); i >= 0 {
		uri.Query = rest[i+1:]
		rest = rest[:i]
	}
	uri.Path = rest
	return uri
}

// splitScheme 识别 "scheme://" 或 "scheme:" 前缀(CONNECT 的 authority-form
// 不带 scheme 因此这里的失败是正常路径 不是错误)
func splitScheme(s []byte) (scheme []byte, rest []byte, ok bool) {
	i := bytes.IndexByte(s, ':')
	if i <= 0 {
		return nil, s, false
	}
	for _, c := range s[:i] {
		isAlpha := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigitOrSym := (c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.'
		if !isAlpha && !isDigitOrSym {
			return nil, s, false
		}
	}
	return s[:i], s[i+1:], true
}

// splitAuthority 把 "user:pass@host:port" 拆分为各分量
func splitAuthority(s []byte) (user, password []byte, hasUserinfo bool, host, portRaw []byte, port int) {
	port = -1
	if i := bytes.LastIndexByte(s, '@'); i >= 0 {
		hasUserinfo = true
		userinfo := s[:i]
		s = s[i+1:]
		if j := bytes.IndexByte(userinfo, ':'); j >= 0 {
			user = userinfo[:j]
			password = userinfo[j+1:]
		} else {
			user = userinfo
		}
	}

	// IPv6 字面量 "[::1]:port" 里的冒号不能用作 host:port 分隔符
	if len(s) > 0 && s[0] == '[' {
		if end := bytes.IndexByte(s, ']'); end >= 0 {
			host = s[:end+1]
			s = s[end+1:]
			if len(s) > 0 && s[0] == ':' {
				portRaw = s[1:]
				port = parsePortInt(portRaw)
			}
			return
		}
	}

	if i := bytes.LastIndexByte(s, ':'); i >= 0 {
		host = s[:i]
		portRaw = s[i+1:]
		port = parsePortInt(portRaw)
	} else {
		host = s
	}
	return
}

// decodeRequestURI 对已拆分的 URI 各分量执行百分号解码 归一化与 UTF-8 best-fit
// 折叠 这是 SplitURI 刻意不做的那一步 调用方(parseRequestLine)在分量边界
// 确定之后才能安全地解码 否则编码后的分隔符会在拆分阶段被错误地提前消费
//
// path 与 query 各自使用 cfg 的一份拷贝解码: '+' 转空格只在 query 里生效
// (RFC 3986 并未赋予 '+' 在 path 分量中特殊含义) path 解码完成后还要经过
// NormalizePath 折叠 "." "/.." 段 再经 DecodeUTF8Bestfit 把多字节字符折叠
// 为单字节 以贴近真实服务器在文件系统层面的行为
func decodeRequestURI(uri *ParsedURI, cfg URLDecodeConfig) URLFlag {
	var flags URLFlag

	pathCfg := cfg
	pathCfg.PlusspaceDecode = false
	path, pf := DecodeURL(uri.Path, pathCfg)
	flags |= pf
	path = NormalizePath(path)
	path, uf := DecodeUTF8Bestfit(path, cfg.BestfitReplacementByte)
	flags |= uf
	uri.Path = path

	if uri.Query != nil {
		query, qf := DecodeURL(uri.Query, cfg)
		flags |= qf
		uri.Query = query
	}

	return flags
}

// validateHostname 对 authority 里的 host 分量做基本合法性检查 宽容原则下
// 只拒绝明显不可能是主机名的内容(内嵌的控制字符/空白/原始 NUL) 不校验
// 具体的域名语法——真实服务器在这一层的容忍度差异正是被动检测关心的信号来源
func validateHostname(host []byte) bool {
	if len(host) == 0 {
		return true
	}
	// 方括号包裹的 IPv6 字面量已经由 splitAuthority 的括号匹配确认过边界
	if host[0] == '[' {
		return bytes.IndexByte(host, ']') == len(host)-1
	}
	for _, c := range host {
		if c < 0x21 || c == 0x7f {
			return false
		}
	}
	return true
}

func parsePortInt(raw []byte) int {
	if len(raw) == 0 || len(raw) > 5 {
		return -1
	}
	n := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	if n > 65535 {
		return -1
	}
	return n
}
