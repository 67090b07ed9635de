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

// outboundState 是响应方向状态机的状态枚举 结构上镜像 inboundState
type outboundState uint8

const (
	outIdle outboundState = iota
	resLine
	resHeaders
	resBodyCLKnown
	resBodyChunkedLength
	resBodyChunkedData
	resBodyChunkedDataEnd
	resBodyIdentityStreamClose
	resFinalize
	outTunnel
)

// runOutbound 驱动响应方向状态机 结构与 runInbound 对称
func (p *ConnectionParser) runOutbound(buf []byte, t0 time.Time) (pos int, result StreamState) {
	d := &p.out
	for {
		switch p.outState {
		case outIdle:
			if pos >= len(buf) {
				return pos, StateData
			}
			tx := p.pendingResponseTx()
			if tx == nil {
				// 没有对应的 inbound 事务可配对——多半是服务器乱序数据 按容忍原则跳过一行
				idx := bytes.IndexByte(buf[pos:], '\n')
				if idx < 0 {
					return pos, StateData
				}
				pos += idx + 1
				continue
			}
			d.tx = tx
			if p.dispatch(tx, HookResponseStart, tx) == HookError {
				return pos, p.fail(d, tx, newError("response_start hook aborted"))
			}
			p.outState = resLine

		case resLine:
			idx := bytes.IndexByte(buf[pos:], '\n')
			if idx < 0 {
				return pos, StateData
			}
			rawLine := buf[pos : pos+idx+1]
			pos += idx + 1
			if isAllLWS(rawLine) {
				continue
			}
			line := bytes.TrimSuffix(bytes.TrimSuffix(rawLine, []byte("\n")), []byte("\r"))
			sl := parseStatusLine(line)
			d.tx.Response = sl
			d.tx.ResponseProgress.Advance(ProgressLine)
			if sl.StatusCode/100 == 1 {
				// 1xx 是非终态的临时响应 headers 读完后回到 resLine 等真正的最终响应行
				d.tx.SetFlag(Tx100ContinueSeen)
				d.interim = true
			} else {
				d.interim = false
			}
			if p.dispatch(d.tx, HookResponseLine, d.tx) == HookError {
				return pos, p.fail(d, d.tx, newError("response_line hook aborted"))
			}
			if p.connectSuspended {
				p.resolveConnect(sl, t0)
				if p.inState == inTunnel {
					p.outState = outTunnel
					return pos, StateTunnel
				}
			}
			p.outState = resHeaders

		case resHeaders:
			consumed, complete := ParseHeaderBlock(buf[pos:], ResponseHeaderMode, d.tx.ResponseHeaders)
			pos += consumed
			if !complete {
				return pos, StateData
			}
			if d.interim {
				d.interim = false
				if p.dispatch(d.tx, HookResponseHeaders, d.tx) == HookError {
					return pos, p.fail(d, d.tx, newError("response_headers hook aborted"))
				}
				d.tx.ResponseHeaders.Reset()
				p.outState = resLine
				continue
			}
			if d.trailer {
				d.trailer = false
				d.tx.ResponseProgress.Advance(ProgressTrailer)
				if p.dispatch(d.tx, HookResponseTrailer, d.tx) == HookError {
					return pos, p.fail(d, d.tx, newError("response_trailer hook aborted"))
				}
				p.outState = resFinalize
				continue
			}
			determineResponseBodyFraming(d.tx)
			d.tx.ResponseProgress.Advance(ProgressHeaders)
			if p.dispatch(d.tx, HookResponseHeaders, d.tx) == HookError {
				return pos, p.fail(d, d.tx, newError("response_headers hook aborted"))
			}
			p.setupResponseDecompression(d.tx)
			switch d.tx.ResponseBody.TransferCoding {
			case TransferChunked:
				p.outState = resBodyChunkedLength
			case TransferCloseDelimited:
				p.outState = resBodyIdentityStreamClose
			default:
				if d.tx.ResponseBody.DeclaredLength <= 0 {
					p.outState = resFinalize
				} else {
					p.outState = resBodyCLKnown
				}
			}

		case resBodyCLKnown:
			remaining := d.tx.ResponseBody.DeclaredLength - d.tx.ResponseBody.ObservedLength
			n := int64(len(buf) - pos)
			if n > remaining {
				n = remaining
			}
			chunk := buf[pos : pos+int(n)]
			pos += int(n)
			d.tx.ResponseBody.ObservedLength += n
			p.feedResponseBody(d.tx, chunk, false)
			if d.tx.ResponseBody.ObservedLength < d.tx.ResponseBody.DeclaredLength {
				return pos, StateData
			}
			p.feedResponseBody(d.tx, nil, true)
			p.outState = resFinalize

		case resBodyChunkedLength:
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
				return pos, p.fail(d, d.tx, err)
			}
			if hasExt {
				d.tx.SetFlag(TxChunkExtensionPresent)
			}
			if size == 0 {
				d.trailer = true
				p.outState = resHeaders
				continue
			}
			d.chunkRemaining = int64(size)
			p.outState = resBodyChunkedData

		case resBodyChunkedData:
			n := int64(len(buf) - pos)
			if n > d.chunkRemaining {
				n = d.chunkRemaining
			}
			chunk := buf[pos : pos+int(n)]
			pos += int(n)
			d.chunkRemaining -= n
			d.tx.ResponseBody.ObservedLength += n
			if len(chunk) > 0 {
				p.feedResponseBody(d.tx, chunk, false)
			}
			if d.chunkRemaining > 0 {
				return pos, StateData
			}
			p.outState = resBodyChunkedDataEnd

		case resBodyChunkedDataEnd:
			if len(buf)-pos < 2 {
				return pos, StateData
			}
			pos += 2
			p.outState = resBodyChunkedLength

		case resBodyIdentityStreamClose:
			chunk := buf[pos:]
			pos = len(buf)
			d.tx.ResponseBody.ObservedLength += int64(len(chunk))
			if len(chunk) > 0 {
				p.feedResponseBody(d.tx, chunk, false)
			}
			return pos, StateData

		case resFinalize:
			p.completeResponse(d.tx, t0)
			p.outState = outIdle

		case outTunnel:
			return len(buf), StateTunnel
		}
	}
}

// pendingResponseTx 找到下一个尚未开始响应解析的事务(按创建顺序) 对应请求已经
// 开始解析(至少进入 LINE 阶段)的那一个——这是流水线场景下请求/响应配对的依据
func (p *ConnectionParser) pendingResponseTx() *Transaction {
	for _, tx := range p.Conn.Transactions {
		if tx.ResponseProgress == ProgressNotStarted && tx.RequestProgress > ProgressNotStarted {
			return tx
		}
	}
	return nil
}

// determineResponseBodyFraming 依据响应头和配对请求的方法决定响应体边界规则
func determineResponseBodyFraming(tx *Transaction) {
	if tx.Response.StatusCode/100 == 1 || tx.Response.StatusCode == 204 || tx.Response.StatusCode == 304 {
		tx.ResponseBody.TransferCoding = TransferIdentity
		tx.ResponseBody.DeclaredLength = 0
		return
	}
	if bytes.Equal(tx.Request.Method, []byte("HEAD")) {
		tx.ResponseBody.TransferCoding = TransferIdentity
		tx.ResponseBody.DeclaredLength = 0
		return
	}

	teVal, teFound := tx.ResponseHeaders.GetFold([]byte("Transfer-Encoding"))
	clVal, clFound, clAmbiguous := tx.ResponseHeaders.ResolveAmbiguous([]byte("Content-Length"))
	if clAmbiguous {
		tx.SetFlag(TxHeaderAmbiguous)
	}

	chunked := teFound && bytes.Contains(bytes.ToLower(teVal.Bytes()), []byte("chunked"))
	if chunked {
		tx.ResponseBody.TransferCoding = TransferChunked
		if clFound {
			tx.SetFlag(TxTransferEncodingAmbiguous)
		}
		return
	}
	if clFound {
		n, err := ParseContentLength(clVal)
		if err == nil {
			tx.ResponseBody.DeclaredLength = n
			tx.ResponseBody.TransferCoding = TransferIdentity
			return
		}
	}
	tx.ResponseBody.TransferCoding = TransferCloseDelimited
}

// setupResponseDecompression 依据 Content-Encoding 头为该事务建立解压链
// 解压后的明文通过 response_body_data hook 交付给调用方 原始(压缩态)字节本身
// 不再单独上报——被动检测关心的是解码后的内容
func (p *ConnectionParser) setupResponseDecompression(tx *Transaction) {
	ceVal, found := tx.ResponseHeaders.GetFold([]byte("Content-Encoding"))
	if !found {
		return
	}
	algos := ParseContentEncoding(ceVal.Bytes())
	if len(algos) == 0 {
		return
	}
	tx.ResponseBody.ContentEncoding = algos

	limits := p.Config.decompressLimits()
	chain := BuildChain(algos, func(plain []byte) error {
		p.dispatch(tx, HookResponseBodyData, Data{Tx: tx, Bytes: plain})
		return nil
	}, limits)
	p.responseChains[tx] = chain
}

// feedResponseBody 把观察到的响应体字节交付给调用方——若该事务建立了解压链
// 先经过解压 否则直接作为明文交付
func (p *ConnectionParser) feedResponseBody(tx *Transaction, chunk []byte, isLast bool) {
	chain := p.responseChains[tx]
	if chain == nil {
		if len(chunk) > 0 || isLast {
			p.dispatch(tx, HookResponseBodyData, Data{Tx: tx, Bytes: chunk, IsLast: isLast})
		}
		return
	}
	if len(chunk) > 0 {
		_ = chain.Write(chunk)
	}
	if isLast {
		chain.Close()
		chain.Wait()
		if chain.Flags()&FlagCompressionBomb != 0 {
			tx.SetFlag(TxCompressionBomb)
		}
		if chain.Flags()&FlagCompressionTime != 0 {
			tx.SetFlag(TxCompressionTime)
		}
		delete(p.responseChains, tx)
	}
}

// completeResponse 把响应方向推进到 COMPLETE 并触发相应 hook
func (p *ConnectionParser) completeResponse(tx *Transaction, t0 time.Time) {
	tx.ResponseProgress.Advance(ProgressComplete)
	tx.ResponseDoneTime = t0
	p.dispatch(tx, HookResponseComplete, tx)
	p.maybeCompleteTransaction(tx)
}

// resolveConnect 在 outbound 到达响应行之后 决定 CONNECT 隧道耦合的走向
//
//   - 2xx: 双向进入 TUNNEL 不再解析
//   - 407: inbound 按正常 HTTP 恢复(代理要求认证 客户端会重试 CONNECT)
//   - 其它: 完成当前事务 inbound 探测下一段字节是否仍是已知方法的请求行
func (p *ConnectionParser) resolveConnect(sl StatusLine, t0 time.Time) {
	p.connectSuspended = false
	switch {
	case sl.StatusCode >= 200 && sl.StatusCode <= 299:
		p.in.tx.SetFlag(TxConnectTunnel)
		p.inState = inTunnel
		p.Conn.State = ConnTunnel
	case sl.StatusCode == 407:
		p.inState = inBodyDetermine
	default:
		p.completeRequest(p.in.tx, t0)
		p.inState = inConnectProbe
	}
}

// closeOutbound 处理连接关闭时 outbound 方向的收尾
func (p *ConnectionParser) closeOutbound(t0 time.Time) {
	if p.out.status == StateError || p.out.status == StateClosed {
		return
	}
	if p.outState == resBodyIdentityStreamClose && p.out.tx != nil {
		p.feedResponseBody(p.out.tx, nil, true)
		p.completeResponse(p.out.tx, t0)
	} else if p.out.tx != nil && !p.out.tx.Complete() && p.out.tx.ResponseProgress != ProgressNotStarted {
		p.completeResponse(p.out.tx, t0)
	}
	p.out.status = StateClosed
}
