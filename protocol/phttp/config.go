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
	"time"

	"github.com/mitchellh/mapstructure"
)

// microsecondsToDuration 把配置里以微秒为单位的整数转换为 time.Duration
func microsecondsToDuration(us int64) time.Duration {
	return time.Duration(us) * time.Microsecond
}

// Config 是 "http" 协议解析器的全部可配置项 从主配置的 "protocols.http"
// 小节解码而来
type Config struct {
	// Personality 决定请求行/URL 解码的宽容度规则 参见 personality.go
	Personality string `config:"personality" mapstructure:"personality"`

	// FieldLimit 是单个未终止行允许缓冲的最大字节数 超出判定为致命错误
	FieldLimit int `config:"fieldLimit" mapstructure:"fieldLimit"`

	// EnableBodyCapture 控制是否捕获请求/响应体(仅用于诊断, 默认关闭)
	EnableBodyCapture bool `config:"enableBodyCapture" mapstructure:"enableBodyCapture"`
	MaxBodySize       int  `config:"maxBodySize" mapstructure:"maxBodySize"`

	Decompress DecompressConfig `config:"decompress" mapstructure:"decompress"`
}

// DecompressConfig 映射到 DecompressLimits 所有字段都是可选的 零值回退到默认
// LZMAMemLimit 例外: 未配置(nil)回退到默认 显式配置为 0 则禁用 LZMA
type DecompressConfig struct {
	LZMAMemLimit *uint64 `config:"lzmaMemLimit" mapstructure:"lzmaMemLimit"`
	LZMALayers   int     `config:"lzmaLayers" mapstructure:"lzmaLayers"`
	BombLimit    int64   `config:"bombLimit" mapstructure:"bombLimit"`
	BombRatio    int64   `config:"bombRatio" mapstructure:"bombRatio"`
	TimeLimitUs  int64   `config:"timeLimitUs" mapstructure:"timeLimitUs"`
	TimeTestFreq int     `config:"timeTestFreq" mapstructure:"timeTestFreq"`
	LayerLimit   int     `config:"layerLimit" mapstructure:"layerLimit"`
}

const defaultFieldLimit = 18000

// DefaultConfig 返回 spec 规定的默认配置
func DefaultConfig() Config {
	return Config{
		Personality: "ids",
		FieldLimit:  defaultFieldLimit,
		MaxBodySize: defaultMaxBodySize,
	}
}

// DecodeConfig 把一个通用的 map[string]any (来自 confengine) 解码为 Config
// 未设置的字段保留 DefaultConfig 的取值
func DecodeConfig(raw map[string]any) (Config, error) {
	cfg := DefaultConfig()
	if raw == nil {
		return cfg, nil
	}
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return cfg, newError("decode http config: %v", err)
	}
	return cfg, nil
}

// personality 把配置里的字符串标识转换为 Personality 常量 未识别的值回退到 IDS
func (c Config) personality() Personality {
	switch c.Personality {
	case "minimal":
		return PersonalityMinimal
	case "generic":
		return PersonalityGeneric
	case "apache_2":
		return PersonalityApache2
	case "iis":
		return PersonalityIIS
	default:
		return PersonalityIDS
	}
}

// decompressLimits 把 DecompressConfig 的零值合并进默认限制
func (c Config) decompressLimits() DecompressLimits {
	limits := DefaultDecompressLimits()
	d := c.Decompress
	if d.LZMALayers > 0 {
		limits.LZMALayers = d.LZMALayers
	}
	if d.BombLimit > 0 {
		limits.BombLimit = d.BombLimit
	}
	if d.BombRatio > 0 {
		limits.BombRatio = d.BombRatio
	}
	if d.TimeTestFreq > 0 {
		limits.TimeTestFreq = d.TimeTestFreq
	}
	if d.LayerLimit > 0 {
		limits.LayerLimit = d.LayerLimit
	}
	if d.TimeLimitUs > 0 {
		limits.TimeLimit = microsecondsToDuration(d.TimeLimitUs)
	}
	// LZMAMemLimit 的 0 是合法配置(禁用 LZMA) 因此只要配置里出现该字段
	// 就采用显式值; 未出现时指针为 nil 保留默认的 1MiB 上限
	if d.LZMAMemLimit != nil {
		limits.LZMAMemLimit = *d.LZMAMemLimit
	}
	return limits
}
