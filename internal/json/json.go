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

// Package json 统一封装 json 的编解码实现
//
// 解析出的 Transaction 数量巨大 encoding/json 的反射开销在高吞吐场景下
// 会成为瓶颈 统一切换至 goccy/go-json 可以做到近似零改动的性能提升
package json

import (
	"io"

	gojson "github.com/goccy/go-json"
)

func Marshal(v any) ([]byte, error) {
	return gojson.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return gojson.Unmarshal(data, v)
}

func NewEncoder(w io.Writer) *gojson.Encoder {
	return gojson.NewEncoder(w)
}

func NewDecoder(r io.Reader) *gojson.Decoder {
	return gojson.NewDecoder(r)
}
