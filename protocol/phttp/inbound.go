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
	"time"
)

// inboundState 是请求方向状态机的状态枚举
type inboundState uint8

const (
	inIdle inboundState = iota
	inLine
	inProtocol
	inHeaders
	inConnectCheck
	inConnectWaitResponse
	inConnectProbe
	inBodyDetermine
	inBodyIdentity
	inBodyChunkedLength
	inBodyChunkedData
	inBodyChunkedDataEnd
	inIgnoreAfterHTTP09
	inFinalize
	inTunnel
)

// runInbound 驱动请求方向状态机尽可能多地消费 buf 直到需要更多输入或产生
// 一个需要上报给调用方的终止状态(DATA_OTHER/TUNNEL/ERROR)
func (p *ConnectionParser) runInbound(buf []byte, t0 time.Time) (pos int, result StreamState) {
	d := &p.in
	for {
		switch p.inState {
		case inIdle:
			if pos >= len(buf) {
				return pos, StateData
			}
			tx := p.Conn.pushTransaction(t0)
			d.tx = tx
			if p.dispatch(tx, HookRequestStart, tx) == HookError {
				return pos, p.fail(d, tx, newError("request_start hook aborted"))
			}
			p.inState = inLine

		case inLine:
			idx := bytes.IndexByte(buf[pos:], '\n')
			if idx < 0 {
				return pos, StateData
			}
			line := buf[pos : pos+idx+1]
			pos += idx + 1
			line = bytes.TrimSuffix(bytes.TrimSuffix(line, []byte("\n")), []byte("\r"))
			if isAllLWS(line) {
				d.ignoredLines++
				continue
			}
			rl := parseRequestLine(line, p.personality, p.urlCfg)
			if !rl.KnownMethod {
				d.tx.SetFlag(TxRequestLineMalformed)
			}
			d.tx.Request = rl
			applyURLFlags(d.tx, rl.URLFlags)
			if !rl.URI.HostValid {
				d.tx.SetFlag(TxURIHostnameInvalid)
			}
			d.tx.RequestProgress.Advance(ProgressLine)
			if p.dispatch(d.tx, HookRequestLine, d.tx) == HookError {
				return pos, p.fail(d, d.tx, newError("request_line hook aborted"))
			}
			p.inState = inProtocol

		case inProtocol:
			if d.tx.Request.Version != ProtocolNone {
				p.inState = inHeaders
				continue
			}
			// HTTP/0.9 候选: 探测下一行是否其实是个 header(name:value) 从而判断
			// 这其实是一条缺失协议 token 的 HTTP/1.x 请求行
			rest := buf[pos:]
			nl := bytes.IndexByte(rest, '\n')
			if nl < 0 {
				if len(rest) == 0 {
					return pos, StateData
				}
				// 有数据但还未凑齐一整行 无法判断 先等待更多输入
				return pos, StateData
			}
			probe := rest[:nl]
			if bytes.IndexByte(probe, ':') >= 0 {
				d.tx.SetFlag(TxRequestLineNoProtocol)
				p.inState = inHeaders
				continue
			}
			p.Conn.Flags |= ConnHTTP09Extra
			p.inState = inIgnoreAfterHTTP09

		case inIgnoreAfterHTTP09:
			if pos < len(buf) {
				d.tx.SetFlag(TxHTTP09Extra)
				pos = len(buf)
			}
			return pos, StateData

		case inHeaders:
			consumed, complete := ParseHeaderBlock(buf[pos:], RequestHeaderMode, d.tx.RequestHeaders)
			pos += consumed
			if !complete {
				return pos, StateData
			}
			if d.trailer {
				d.trailer = false
				d.tx.RequestProgress.Advance(ProgressTrailer)
				if p.dispatch(d.tx, HookRequestTrailer, d.tx) == HookError {
					return pos, p.fail(d, d.tx, newError("request_trailer hook aborted"))
				}
				p.inState = inFinalize
				continue
			}
			determineRequestBodyFraming(d.tx)
			d.tx.RequestProgress.Advance(ProgressHeaders)
			if p.dispatch(d.tx, HookRequestHeaders, d.tx) == HookError {
				return pos, p.fail(d, d.tx, newError("request_headers hook aborted"))
			}
			p.inState = inConnectCheck

		case inConnectCheck:
			if bytes.Equal(d.tx.Request.Method, []byte("CONNECT")) {
				p.inState = inConnectWaitResponse
				p.connectSuspended = true
				return pos, StateDataOther
			}
			p.inState = inBodyDetermine

		case inConnectWaitResponse:
			// 挂起: 必须先驱动 outbound 到达响应行 由 resolveConnect 决定下一步
			return pos, StateDataOther

		case inConnectProbe:
			if pos >= len(buf) {
				return pos, StateData
			}
			if looksLikeRequestLine(buf[pos:]) {
				p.inState = inIdle
			} else {
				p.inState = inTunnel
				p.Conn.State = ConnTunnel
			}

		case inBodyDetermine:
			switch d.tx.RequestBody.TransferCoding {
			case TransferChunked:
				p.inState = inBodyChunkedLength
			case TransferIdentity:
				if d.tx.RequestBody.DeclaredLength <= 0 {
					p.inState = inFinalize
				} else {
					p.inState = inBodyIdentity
				}
			default:
				p.inState = inFinalize
			}

		case inBodyChunkedLength:
			idx := bytes.IndexByte(buf[pos:], '\n')
			if idx < 0 {
				return pos, StateData
			}
			line := bytes.TrimSuffix(bytes.TrimSuffix(buf[pos:pos+idx+1], []byte("\n")), []byte("\r"))
			pos += idx + 1
			size, hasExt, err := ParseChunkSize(line)
			if err == ErrChunkSizeEmpty {
				continue
			}
			if err != nil {
				d.tx.SetFlag(TxRequestChunkLenInvalid)
				return pos, p.fail(d, d.tx, err)
			}
			if hasExt {
				d.tx.SetFlag(TxChunkExtensionPresent)
			}
			if size == 0 {
				d.trailer = true
				p.inState = inHeaders
				continue
			}
			d.chunkRemaining = int64(size)
			p.inState = inBodyChunkedData

		case inBodyChunkedData:
			n := int64(len(buf) - pos)
			if n > d.chunkRemaining {
				n = d.chunkRemaining
			}
			chunk := buf[pos : pos+int(n)]
			pos += int(n)
			d.chunkRemaining -= n
			d.tx.RequestBody.ObservedLength += n
			if len(chunk) > 0 {
				p.dispatch(d.tx, HookRequestBodyData, Data{Tx: d.tx, Bytes: chunk})
			}
			if d.chunkRemaining > 0 {
				return pos, StateData
			}
			p.inState = inBodyChunkedDataEnd

		case inBodyChunkedDataEnd:
			if len(buf)-pos < 2 {
				return pos, StateData
			}
			pos += 2
			p.inState = inBodyChunkedLength

		case inBodyIdentity:
			remaining := d.tx.RequestBody.DeclaredLength - d.tx.RequestBody.ObservedLength
			n := int64(len(buf) - pos)
			if n > remaining {
				n = remaining
			}
			chunk := buf[pos : pos+int(n)]
			pos += int(n)
			d.tx.RequestBody.ObservedLength += n
			if len(chunk) > 0 {
				p.dispatch(d.tx, HookRequestBodyData, Data{Tx: d.tx, Bytes: chunk})
			}
			if d.tx.RequestBody.ObservedLength < d.tx.RequestBody.DeclaredLength {
				return pos, StateData
			}
			p.dispatch(d.tx, HookRequestBodyData, Data{Tx: d.tx, IsLast: true})
			p.inState = inFinalize

		case inFinalize:
			p.completeRequest(d.tx, t0)
			if pos < len(buf) {
				if looksLikeRequestLine(buf[pos:]) {
					p.Conn.Flags |= ConnPipelined
				} else {
					d.tx.SetFlag(TxRequestBodyUnexpected)
				}
			}
			p.inState = inIdle

		case inTunnel:
			return len(buf), StateTunnel
		}
	}
}

// applyURLFlags 把 decodeRequestURI 返回的 URLFlag 映射为对应的事务级标记
func applyURLFlags(tx *Transaction, flags URLFlag) {
	if flags&URLInvalidEncoding != 0 {
		tx.SetFlag(TxURIEncodingInvalid)
	}
	if flags&URLEncodedSeparator != 0 {
		tx.SetFlag(TxURIEncodedSeparator)
	}
	if flags&URLEncodedNul != 0 {
		tx.SetFlag(TxURIEncodedNul)
	}
	if flags&URLRawNul != 0 {
		tx.SetFlag(TxURIRawNul)
	}
	if flags&URLUTF8Invalid != 0 {
		tx.SetFlag(TxURIUTF8Invalid)
	}
	if flags&URLUTF8Overlong != 0 {
		tx.SetFlag(TxURIUTF8Overlong)
	}
	if flags&URLUTF8Halfwidth != 0 {
		tx.SetFlag(TxURIUTF8Halfwidth)
	}
	if flags&URLBestfitUsed != 0 {
		tx.SetFlag(TxURIBestfitUsed)
	}
}

// determineRequestBodyFraming 依据已解析的请求头决定请求体的边界规则
//
// chunked 与 Content-Length 同时出现时 chunked 胜出 但会打上走私信号标记
// (RFC 7230 §3.3.3 要求接收方拒绝这种报文 但许多现网服务器并不拒绝 被动检测
// 需要模拟这种宽容行为并暴露异常而不是直接报错)
func determineRequestBodyFraming(tx *Transaction) {
	teVal, teFound := tx.RequestHeaders.GetFold([]byte("Transfer-Encoding"))
	clVal, clFound, clAmbiguous := tx.RequestHeaders.ResolveAmbiguous([]byte("Content-Length"))
	if clAmbiguous {
		tx.SetFlag(TxHeaderAmbiguous)
	}

	chunked := teFound && bytes.Contains(bytes.ToLower(teVal.Bytes()), []byte("chunked"))
	if chunked {
		tx.RequestBody.TransferCoding = TransferChunked
		if clFound {
			tx.SetFlag(TxTransferEncodingAmbiguous)
		}
		return
	}

	tx.RequestBody.TransferCoding = TransferIdentity
	if !clFound {
		return
	}
	n, err := ParseContentLength(clVal)
	if err != nil {
		tx.SetFlag(TxRequestLineMalformed)
		return
	}
	tx.RequestBody.DeclaredLength = n
}

// completeRequest 把请求方向推进到 COMPLETE 并触发相应 hook
// 若响应方向也已完成 则一并触发 transaction_complete
func (p *ConnectionParser) completeRequest(tx *Transaction, t0 time.Time) {
	tx.RequestProgress.Advance(ProgressComplete)
	tx.RequestDoneTime = t0
	p.dispatch(tx, HookRequestComplete, tx)
	p.maybeCompleteTransaction(tx)
}

func (p *ConnectionParser) maybeCompleteTransaction(tx *Transaction) {
	if !tx.Complete() {
		return
	}
	p.dispatch(tx, HookTransactionComplete, tx)
	p.Conn.releaseComplete()
}

// fail 把方向标记为 ERROR 记录最后一条错误消息并上报日志 hook
func (p *ConnectionParser) fail(d *direction, tx *Transaction, err error) StreamState {
	d.lastErr = err
	p.logf(tx, LogError, LogCodeUnknown, "%s", err.Error())
	return StateError
}

// closeInbound 处理连接关闭时 inbound 方向的收尾
func (p *ConnectionParser) closeInbound(t0 time.Time) {
	if p.in.status == StateError || p.in.status == StateClosed {
		return
	}
	if p.in.tx != nil && !p.in.tx.Complete() && p.in.tx.RequestProgress != ProgressNotStarted {
		p.completeRequest(p.in.tx, t0)
	}
	p.in.status = StateClosed
}
