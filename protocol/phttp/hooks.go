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

// HookEvent 枚举了引擎调度 hook 的全部时机
type HookEvent uint8

const (
	HookRequestStart HookEvent = iota
	HookRequestLine
	HookRequestHeaders
	HookRequestBodyData
	HookRequestTrailerData
	HookRequestTrailer
	HookRequestComplete
	HookResponseStart
	HookResponseLine
	HookResponseHeaders
	HookResponseBodyData
	HookResponseTrailerData
	HookResponseTrailer
	HookResponseComplete
	HookTransactionComplete
	HookRequestFileData
	HookLog
	hookEventCount
)

// Data 是传递给 body/trailer/file 类 hook 的载荷 一个空切片配合 IsLast == true
// 表示该流的数据已经结束(用于驱动下游的解压器/表单解析器收尾)
type Data struct {
	Tx     *Transaction
	Bytes  []byte
	IsLast bool
}

// LogRecord 是 HookLog 事件携带的结构化日志条目
type LogRecord struct {
	Severity LogSeverity
	Code     LogCode
	Message  string
	Tx       *Transaction // 可能为 nil(连接级别的日志, 如 field_limit 溢出)
}

// LogSeverity 划分日志的严重性档位
type LogSeverity uint8

const (
	LogError LogSeverity = iota
	LogWarning
	LogNotice
	LogInfo
	LogDebug
)

// LogCode 是有限枚举的日志代码集合 供 logbridge.go 与下游日志系统分类展示
type LogCode uint16

const (
	LogCodeUnknown LogCode = iota
	LogCodeFieldLimitExceeded
	LogCodeRequestLineMalformed
	LogCodeHeaderAmbiguous
	LogCodeChunkLengthInvalid
	LogCodeCompressionBomb
	LogCodeCompressionTime
	LogCodeConnectTunnel
	LogCodeDataOtherWithoutProgress
)

// HookFunc 是单个事件的回调 入参因事件而异的部分通过 Transaction/Data/LogRecord
// 本身携带 返回值决定后续调度行为 参见 HookResult
type HookFunc func(any) HookResult

// HookRegistry 是一组按事件分类 按注册顺序触发的回调列表
//
// Connection 级别维护一份全局注册表; 每个 Transaction 还可以拥有私有的注册表
// 用以覆盖或追加连接级别的回调(参见 Transaction.Hooks) dispatch 时先跑
// 事务私有回调 再跑连接级别回调 其中任意一个返回 HookStop 都会终止本次事件
// 剩余回调的调度 但不影响其它事件或解析本身
type HookRegistry struct {
	hooks [hookEventCount][]HookFunc
}

// NewHookRegistry 创建一个空的注册表
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{}
}

// Register 把 fn 追加到 event 的回调列表末尾
func (r *HookRegistry) Register(event HookEvent, fn HookFunc) {
	r.hooks[event] = append(r.hooks[event], fn)
}

// dispatch 按注册顺序调用 event 的全部回调 一旦出现 HookStop 或 HookError 立即
// 停止调度并返回该结果; 全部回调正常完成则返回 HookOK
func (r *HookRegistry) dispatch(event HookEvent, payload any) HookResult {
	for _, fn := range r.hooks[event] {
		switch res := fn(payload); res {
		case HookOK:
			continue
		default:
			return res
		}
	}
	return HookOK
}

// dispatchEvent 先调度事务私有注册表(若存在) 再调度连接级别注册表
// 两者中任意一个提前终止(STOP/ERROR) 都会跳过另一个的剩余调度
func dispatchEvent(connHooks, txHooks *HookRegistry, event HookEvent, payload any) HookResult {
	if txHooks != nil {
		if res := txHooks.dispatch(event, payload); res != HookOK {
			return res
		}
	}
	if connHooks != nil {
		return connHooks.dispatch(event, payload)
	}
	return HookOK
}
