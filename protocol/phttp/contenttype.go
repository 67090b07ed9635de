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

// ContentType 是从 "Content-Type" 头解析出的媒体类型及其参数
type ContentType struct {
	MediaType  []byte
	Boundary   []byte // multipart/form-data 的分隔符 不存在则为空
	Charset    []byte
	IsForm     bool // application/x-www-form-urlencoded
	IsMultipart bool
}

// ParseContentType 解析 "Content-Type" 头 从不返回错误——解析不出的参数
// 直接置空 保留宽容解析原则 因为这是请求体参数提取(body params)的前提步骤
func ParseContentType(v []byte) ContentType {
	var ct ContentType
	parts := bytes.Split(v, []byte(";"))
	if len(parts) == 0 {
		return ct
	}
	ct.MediaType = bytes.ToLower(bytes.TrimSpace(parts[0]))
	ct.IsForm = bytes.Equal(ct.MediaType, []byte("application/x-www-form-urlencoded"))
	ct.IsMultipart = bytes.HasPrefix(ct.MediaType, []byte("multipart/"))

	for _, p := range parts[1:] {
		p = bytes.TrimSpace(p)
		i := bytes.IndexByte(p, '=')
		if i < 0 {
			continue
		}
		key := bytes.ToLower(bytes.TrimSpace(p[:i]))
		val := bytes.Trim(bytes.TrimSpace(p[i+1:]), `"`)
		switch string(key) {
		case "boundary":
			ct.Boundary = val
		case "charset":
			ct.Charset = val
		}
	}
	return ct
}
