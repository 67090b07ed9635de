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

// ConnectionFlag 是连接级别的异常/状态标记
type ConnectionFlag uint32

const (
	// ConnPipelined 标记该连接上观察到了请求流水线(pipelining)
	ConnPipelined ConnectionFlag = 1 << iota
	// ConnHTTP09Extra 标记该连接出现过 HTTP/0.9 简化请求行
	ConnHTTP09Extra
)

// TransactionFlag 是单次事务级别的异常标记
type TransactionFlag uint64

const (
	TxRequestLineMalformed TransactionFlag = 1 << iota
	TxRequestLineNoProtocol
	TxHeaderAmbiguous // 同名 header 的合并值不一致(走私信号)
	TxHeaderFoldingInvalid
	TxURIEncodingInvalid
	TxURIEncodedSeparator
	TxURIEncodedNul
	TxURIRawNul
	TxURIUTF8Invalid
	TxURIUTF8Overlong
	TxURIUTF8Halfwidth
	TxURIBestfitUsed
	TxURIHostnameInvalid // authority 里的 host 分量含有非法字符(控制符/空白/NUL)
	Tx100ContinueSeen
	TxChunkExtensionPresent
	TxRequestChunkLenInvalid
	TxRequestBodyUnexpected
	TxHTTP09Extra
	TxTransferEncodingAmbiguous // Content-Length 与 chunked 同时出现
	TxCompressionBomb
	TxCompressionTime
	TxConnectTunnel
)

// HookResult 是 hook 回调的返回值 决定了后续调度行为
type HookResult uint8

const (
	// HookOK 继续按注册顺序调度后续 hook
	HookOK HookResult = iota
	// HookStop 停止本次事件的后续 hook 调度 但不影响流本身
	HookStop
	// HookError 中止整个流的解析
	HookError
)
