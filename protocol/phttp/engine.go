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
	"fmt"
	"time"

	"github.com/packetd/htpscan/common/socket"
)

// StreamState 是每次调用入口点之后返回给调用方的结果
type StreamState uint8

const (
	// StateData 本次调用的全部输入都已消费 且没有残留的半行数据需要缓冲
	StateData StreamState = iota
	// StateDataBuffer 与 StateData 含义相同 但尾部字节已经被内部缓冲(等待下次调用补全)
	StateDataBuffer
	// StateDataOther 只消费了部分输入 调用方需要先驱动另一个方向(CONNECT 会合点)
	StateDataOther
	// StateTunnel 该方向(或整条连接)之后的字节不再被解析
	StateTunnel
	// StateStop 某个 hook 请求中止后续 hook 调度(不代表解析本身中止)
	StateStop
	// StateError 致命错误 该方向永久进入 ERROR 状态
	StateError
	// StateClosed 流已结束
	StateClosed
)

// direction 持有单个方向(inbound 或 outbound)的状态机游标
//
// rollover 保存跨越多次调用仍未构成一个完整语法单元的字节(半行 半个 chunk 头等)
type direction struct {
	status   StreamState
	lastErr  error
	rollover []byte

	tx      *Transaction
	trailer bool // 当前 HEADERS 复用是否在解析 trailer 而非首部
	interim bool // 当前响应行是否为 1xx 临时响应 尚未等到最终响应行

	chunkRemaining int64
	ignoredLines   int
}

// combine 把上次残留的 rollover 和本次新到达的输入拼接成一份连续缓冲区供状态机扫描
// 返回值 oldLen 是 rollover 部分的长度 用来在处理完毕后换算"本次调用消费了多少新字节"
func (d *direction) combine(input []byte) (buf []byte, oldLen int) {
	if len(d.rollover) == 0 {
		return input, 0
	}
	buf = make([]byte, 0, len(d.rollover)+len(input))
	buf = append(buf, d.rollover...)
	buf = append(buf, input...)
	return buf, len(d.rollover)
}

// commit 把 buf[pos:] 保存为下次调用的 rollover 并返回本次调用从 input 里实际消费的字节数
func (d *direction) commit(buf []byte, pos int, oldLen int) int {
	if pos >= len(buf) {
		d.rollover = d.rollover[:0]
	} else {
		d.rollover = append([]byte(nil), buf[pos:]...)
	}
	consumed := pos - oldLen
	if consumed < 0 {
		consumed = 0
	}
	total := len(buf) - oldLen
	if consumed > total {
		consumed = total
	}
	return consumed
}

// ConnectionParser 是单线程 协作式的连接解析引擎 不做任何 I/O
//
// 一个 ConnectionParser 实例对应一条 TCP 连接的全部生命周期 Config 在解析开始
// 之后被视为只读 可以在多个并发的 ConnectionParser 之间共享
type ConnectionParser struct {
	Config Config
	Conn   *Connection
	Hooks  *HookRegistry

	personality Personality
	urlCfg      URLDecodeConfig
	reqRules    requestLineRules

	in  direction
	out direction

	inState  inboundState
	outState outboundState

	// connectSuspended 为真代表 inbound 正挂起在 CONNECT_WAIT_RESPONSE 等待
	// outbound 到达响应行之后的耦合决策(参见 resolveConnect)
	connectSuspended bool

	requestConsumed  int
	responseConsumed int

	// responseChains 维护每个仍在接收压缩响应体的事务对应的解压链
	responseChains map[*Transaction]*Chain
}

// NewConnectionParser 依据 Config 创建一个处于 NEW 状态的连接解析引擎
func NewConnectionParser(cfg Config) *ConnectionParser {
	p := &ConnectionParser{
		Config:         cfg,
		Conn:           NewConnection(),
		Hooks:          NewHookRegistry(),
		responseChains: make(map[*Transaction]*Chain),
	}
	p.personality = cfg.personality()
	p.urlCfg = URLDecodeConfigFor(p.personality)
	p.reqRules = RequestLineRulesFor(p.personality)
	return p
}

// Open 对应 Engine API 的 open(...) 把底层连接迁移到 OPEN 状态
func (p *ConnectionParser) Open(clientIP socket.IPV, clientPort socket.Port, serverIP socket.IPV, serverPort socket.Port, t0 time.Time) {
	p.Conn.Open(clientIP, clientPort, serverIP, serverPort, t0)
}

// Close 刷新两个方向的残留状态并把连接迁移到 CLOSED
//
// 收尾规则: 一个"足够完整"的半行(如只缺收尾的响应行)在关闭时仍会被尝试解析;
// 尚处于等待更多 body 字节的状态则直接完成当前事务 不再等待声明长度补齐
func (p *ConnectionParser) Close(t0 time.Time) {
	p.closeInbound(t0)
	p.closeOutbound(t0)
	p.Conn.Close(t0)
}

// RegisterHook 在连接级别注册表里追加一个回调
func (p *ConnectionParser) RegisterHook(event HookEvent, fn HookFunc) {
	p.Hooks.Register(event, fn)
}

// RequestData 喂入 inbound(客户端→服务端)方向新到达的字节
func (p *ConnectionParser) RequestData(input []byte, t0 time.Time) StreamState {
	if p.in.status == StateError || p.in.status == StateClosed {
		return p.in.status
	}
	if p.in.status == StateTunnel {
		p.requestConsumed = len(input)
		p.Conn.InboundBytes += uint64(len(input))
		return StateTunnel
	}

	buf, oldLen := p.in.combine(input)
	pos, result := p.runInbound(buf, t0)
	p.requestConsumed = p.in.commit(buf, pos, oldLen)
	p.Conn.InboundBytes += uint64(p.requestConsumed)

	if result == StateData && len(buf)-pos > 0 {
		result = StateDataBuffer
	}
	p.in.status = result
	return result
}

// ResponseData 喂入 outbound(服务端→客户端)方向新到达的字节
func (p *ConnectionParser) ResponseData(input []byte, t0 time.Time) StreamState {
	if p.out.status == StateError || p.out.status == StateClosed {
		return p.out.status
	}
	if p.out.status == StateTunnel {
		p.responseConsumed = len(input)
		p.Conn.OutboundBytes += uint64(len(input))
		return StateTunnel
	}

	buf, oldLen := p.out.combine(input)
	pos, result := p.runOutbound(buf, t0)
	p.responseConsumed = p.out.commit(buf, pos, oldLen)
	p.Conn.OutboundBytes += uint64(p.responseConsumed)

	if result == StateData && len(buf)-pos > 0 {
		result = StateDataBuffer
	}
	p.out.status = result
	return result
}

// RequestDataConsumed 返回上一次 RequestData 调用实际消费的字节数(在 DATA_OTHER 之后有意义)
func (p *ConnectionParser) RequestDataConsumed() int { return p.requestConsumed }

// RequestIgnoredLines 返回 inbound 方向因纯空白行而被跳过的行数统计
func (p *ConnectionParser) RequestIgnoredLines() int { return p.in.ignoredLines }

// ResponseDataConsumed 返回上一次 ResponseData 调用实际消费的字节数
func (p *ConnectionParser) ResponseDataConsumed() int { return p.responseConsumed }

// dispatch 把事件连同 payload 送到事务私有 + 连接级别的 hook 注册表
func (p *ConnectionParser) dispatch(tx *Transaction, event HookEvent, payload any) HookResult {
	var txHooks *HookRegistry
	if tx != nil {
		txHooks = tx.Hooks
	}
	return dispatchEvent(p.Hooks, txHooks, event, payload)
}

// logf 触发 HookLog 事件 是引擎内部上报异常/诊断信息的统一入口
func (p *ConnectionParser) logf(tx *Transaction, sev LogSeverity, code LogCode, format string, args ...any) {
	p.dispatch(tx, HookLog, LogRecord{
		Severity: sev,
		Code:     code,
		Message:  sprintf(format, args...),
		Tx:       tx,
	})
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
