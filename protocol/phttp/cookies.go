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

// Cookie 是从请求 "Cookie" 头解析出的单个键值对
type Cookie struct {
	Name  []byte
	Value []byte
}

// ParseCookies 把一个 "Cookie" 头的值解析为若干键值对
//
// 解析按 "; " 分隔每个 cookie-pair 对缺失 '=' 或名称为空的片段直接忽略
// (不报错 与其它 Component C/D 的宽容解析原则一致)
func ParseCookies(v []byte) []Cookie {
	var out []Cookie
	for _, part := range bytes.Split(v, []byte(";")) {
		part = bytes.TrimSpace(part)
		if len(part) == 0 {
			continue
		}
		i := bytes.IndexByte(part, '=')
		if i <= 0 {
			continue
		}
		name := bytes.TrimSpace(part[:i])
		value := bytes.TrimSpace(part[i+1:])
		if len(name) == 0 {
			continue
		}
		out = append(out, Cookie{Name: name, Value: value})
	}
	return out
}
