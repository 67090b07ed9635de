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

import "time"

// Progress 是单个方向(请求或响应)在一次事务内的解析阶段 必须单调递增
type Progress uint8

const (
	ProgressNotStarted Progress = iota
	ProgressLine
	ProgressHeaders
	ProgressBody
	ProgressTrailer
	ProgressComplete
)

// Advance 把 progress 推进到 next 若 next 不在当前阶段之后则保持不变
// (进度不允许倒退)
func (p *Progress) Advance(next Progress) {
	if next > *p {
		*p = next
	}
}

// ProtocolVersion 是请求行/状态行里解析出的协议版本
type ProtocolVersion uint8

const (
	// ProtocolNone 代表没有协议 token 即 HTTP/0.9 简化请求
	ProtocolNone ProtocolVersion = iota
	ProtocolHTTP09
	ProtocolHTTP10
	ProtocolHTTP11
	// ProtocolInvalid 是格式良好但未识别的版本 token (如 HTTP/2.7)
	ProtocolInvalid
)

// TransferCoding 记录一个方向的消息体如何确定边界
type TransferCoding uint8

const (
	TransferUnknown TransferCoding = iota
	TransferIdentity
	TransferChunked
	// TransferCloseDelimited 仅用于响应方向: 无 Content-Length 也无 chunked 时
	// 以连接关闭作为消息体结束的标志
	TransferCloseDelimited
)

// ParsedURI 是请求 URI 解码/拆分之后的结构化表示 所有字段都区分 "空字符串" 与
// "未出现"(nil 与非 nil 的零长度切片)
type ParsedURI struct {
	Scheme   []byte
	User     []byte
	Password []byte
	HasUserinfo bool
	Host     []byte
	HostValid bool // host 分量(若存在)是否通过了基本合法性检查
	PortRaw  []byte
	Port     int
	Path     []byte
	Query    []byte
	Fragment []byte
}

// BodyStats 记录一个方向消息体的框架信息与观测结果
type BodyStats struct {
	DeclaredLength  int64 // Content-Length 头声明的长度 -1 表示未声明
	ObservedLength  int64 // 实际观察到的字节数(chunked 模式下是解包后累计值)
	TransferCoding  TransferCoding
	ContentEncoding []CompressionAlgo
}

// RequestLine 是请求行的原始与解析后形态
type RequestLine struct {
	Raw      []byte
	Method   []byte
	KnownMethod bool
	URIRaw   []byte
	URI      ParsedURI
	URLFlags URLFlag // URI path/query 解码与归一化过程中观察到的异常
	Protocol []byte
	Version  ProtocolVersion
}

// StatusLine 是响应行的原始与解析后形态
type StatusLine struct {
	Raw      []byte
	Protocol []byte
	Version  ProtocolVersion
	StatusCode int
	Reason   []byte
}

// Transaction 是一对请求/响应的数据模型
//
// 请求方向与响应方向各自独立地维护 progress header body 统计以及 flags
// 二者只在 transaction_complete 的触发时机上耦合(取两者中较晚完成的一方)
type Transaction struct {
	// Index 是该事务在所属 Connection 事务序列里的位置 用作外部引用标识
	Index int

	RequestProgress  Progress
	ResponseProgress Progress

	Request  RequestLine
	Response StatusLine

	RequestHeaders  *Header
	ResponseHeaders *Header

	RequestBody  BodyStats
	ResponseBody BodyStats

	RequestParams  map[string][]byte // query + body 参数 由外部表单/多部分解析器填充
	RequestCookies []Cookie

	Flags TransactionFlag

	// UserData 是调用方可以挂载任意数据的插槽 引擎自身从不解释它
	UserData any

	// Hooks 是该事务私有的 hook 注册表 若某个事件在此注册表里有回调
	// 则优先于 Connection 级别的同名回调触发(参见 hooks.go)
	Hooks *HookRegistry

	// StartTime 是该事务创建(即 IDLE 状态收到首字节)时的时间戳
	StartTime time.Time
	// RequestDoneTime / ResponseDoneTime 分别是两个方向到达 COMPLETE 的时间
	RequestDoneTime  time.Time
	ResponseDoneTime time.Time
}

// newTransaction 构造一个初始状态的事务 由 inbound 状态机在 IDLE 状态收到首字节时调用
func newTransaction(index int, t0 time.Time) *Transaction {
	return &Transaction{
		Index:           index,
		RequestHeaders:  NewHeader(),
		ResponseHeaders: NewHeader(),
		Request:         RequestLine{URI: ParsedURI{Port: -1}},
		RequestBody:     BodyStats{DeclaredLength: -1},
		ResponseBody:    BodyStats{DeclaredLength: -1},
		StartTime:       t0,
	}
}

// Complete 返回该事务是否两个方向都已经到达 COMPLETE
func (tx *Transaction) Complete() bool {
	return tx.RequestProgress == ProgressComplete && tx.ResponseProgress == ProgressComplete
}

// SetFlag 给事务打上一个标记
func (tx *Transaction) SetFlag(f TransactionFlag) {
	tx.Flags |= f
}

// HasFlag 判断事务是否带有某个标记
func (tx *Transaction) HasFlag(f TransactionFlag) bool {
	return tx.Flags&f != 0
}
