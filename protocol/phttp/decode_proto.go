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

	"github.com/pkg/errors"
)

// ParseVersion 解析 "HTTP/major.minor" 形式的协议版本号
//
// 只接受单个十进制数字的主版本号与次版本号 这与 HTTP/1.x 报文实际观察到的
// 形态一致 若版本号不满足这个最简形态 则认为协议行本身不可信
func ParseVersion(s []byte) (major, minor uint8, err error) {
	if len(s) < 8 {
		return 0, 0, newError("version too short: %q", s)
	}
	if !bytes.HasPrefix(s, []byte("HTTP/")) {
		return 0, 0, newError("missing HTTP/ prefix: %q", s)
	}
	s = s[5:]
	if len(s) < 3 || s[1] != '.' {
		return 0, 0, newError("malformed version digits: %q", s)
	}
	if s[0] < '0' || s[0] > '9' || s[2] < '0' || s[2] > '9' {
		return 0, 0, newError("non-digit version component: %q", s)
	}
	return s[0] - '0', s[2] - '0', nil
}

// ErrChunkSizeEmpty 标记 chunk-size 行剥离空白及扩展后什么都没剩下
//
// 这种情况需要和 "乱码导致无法解析" 区分开来——空行在分块读取的场景下通常
// 意味着 "数据还没到齐 需要重试" 而不是一个致命的协议错误
var ErrChunkSizeEmpty = errors.New("empty chunk size line")

// ParseChunkSize 解析一个 chunk-size 行(不含末尾 CRLF)
//
// chunk-size 语法允许前导线性空白 以及用 ';' 引出的 chunk-ext(在检测场景中
// 通常直接忽略其内容 只关心是否出现过)
//
//	chunk-size     = 1*HEXDIG
//	chunk          = chunk-size [ chunk-ext ] CRLF
//
// 十六进制数字超过 16 位(即超出 uint64 范围)视为畸形 调用方应将
// ErrChunkSizeEmpty 当作 "重试" 信号 其余错误当作致命错误处理
func ParseChunkSize(line []byte) (size uint64, hasExt bool, err error) {
	line = bytes.TrimLeft(line, " \t")
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
		hasExt = true
	}
	line = bytes.TrimRight(line, " \t")
	if len(line) == 0 {
		return 0, hasExt, ErrChunkSizeEmpty
	}

	var n uint64
	for i, b := range line {
		var v byte
		switch {
		case '0' <= b && b <= '9':
			v = b - '0'
		case 'a' <= b && b <= 'f':
			v = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			v = b - 'A' + 10
		default:
			return 0, hasExt, errors.Errorf("invalid byte %q in chunk size", b)
		}
		if i == 16 {
			return 0, hasExt, errors.New("chunk size too large")
		}
		n <<= 4
		n |= uint64(v)
	}
	return n, hasExt, nil
}

// ParseContentLength 解析 Content-Length 字段的取值
//
// 跳过前导空白 解析一段十进制数字 对数字之后的尾随内容保持宽容(只要前缀
// 是合法数字就接受 尾部乱码留给调用方按需决定是否标记异常) 拒绝前导符号
// (+/-)、空串以及溢出的取值——这些没有宽容空间 因为它们会直接导致请求
// 边界判断错误
func ParseContentLength(v []byte) (int64, error) {
	v = bytes.TrimLeft(v, " \t")
	if len(v) == 0 {
		return 0, errors.New("empty content-length")
	}
	if v[0] < '0' || v[0] > '9' {
		return 0, errors.Errorf("non-digit leading byte %q in content-length", v[0])
	}

	var n int64
	var i int
	for i = 0; i < len(v) && v[i] >= '0' && v[i] <= '9'; i++ {
		d := int64(v[i] - '0')
		if n > (1<<63-1-d)/10 {
			return 0, errors.New("content-length overflow")
		}
		n = n*10 + d
	}
	return n, nil
}

// methodTable 是已知的 HTTP 方法集合 覆盖 RFC 7231 的标准方法以及 WebDAV(RFC 4918)
// 方法 用于在协议行解析阶段判断 Method 是否属于已知集合——未知方法本身不是
// 错误(允许扩展方法) 但会被标记供上层按需决定是否放行
var methodTable = map[string]struct{}{
	"GET": {}, "HEAD": {}, "POST": {}, "PUT": {}, "DELETE": {},
	"CONNECT": {}, "OPTIONS": {}, "TRACE": {}, "PATCH": {},
	"PROPFIND": {}, "PROPPATCH": {}, "MKCOL": {}, "COPY": {}, "MOVE": {},
	"LOCK": {}, "UNLOCK": {}, "VERSION-CONTROL": {}, "REPORT": {},
	"CHECKOUT": {}, "CHECKIN": {}, "UNCHECKOUT": {}, "MKWORKSPACE": {},
	"UPDATE": {}, "LABEL": {}, "MERGE": {}, "BASELINE-CONTROL": {},
	"MKACTIVITY": {}, "ORDERPATCH": {}, "ACL": {}, "SEARCH": {},
}

// IsKnownMethod 判断 method 是否属于已知的标准或 WebDAV 方法集合
func IsKnownMethod(method []byte) bool {
	_, ok := methodTable[string(method)]
	return ok
}
