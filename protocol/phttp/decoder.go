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
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/packetd/htpscan/common"
	"github.com/packetd/htpscan/common/socket"
	"github.com/packetd/htpscan/internal/zerocopy"
	"github.com/packetd/htpscan/protocol"
	"github.com/packetd/htpscan/protocol/role"
)

func newError(format string, args ...any) error {
	format = "http/decoder: " + format
	return errors.Errorf(format, args...)
}

const defaultMaxBodySize = 102400 // 100KB

// bodyCapture 挂在 Transaction.UserData 上 跟踪响应体是否值得被归档
//
// 仅在 Content-Type 命中 JSON 时才真正积累字节 其它场景下 capture 保持 false
// 从而避免对二进制 body 做无意义的拷贝
type bodyCapture struct {
	enabled bool
	buf     bytes.Buffer
	limit   int
}

func (bc *bodyCapture) write(p []byte) {
	if !bc.enabled || bc.buf.Len() >= bc.limit {
		return
	}
	remain := bc.limit - bc.buf.Len()
	if len(p) > remain {
		p = p[:remain]
	}
	bc.buf.Write(p)
}

// parserEntry 是一条 TCP 连接共享的引擎实例 request/response 两个方向的 decoder
// 各自持有一份引用 在两者都释放之后才真正关闭并销毁
type parserEntry struct {
	mu     sync.Mutex
	parser *ConnectionParser
	refs   int

	reqQueue  []*Request
	respQueue []*Response
}

var (
	parserMu sync.Mutex
	parsers  = map[string]*parserEntry{}
)

// connKey 把一对互为镜像的四元组归一化成同一个 key 使得同一条连接的两个方向
// 能够找到同一个 parserEntry——这与 protocol.connPool 用 st 和 st.Mirror() 两个
// key 映射同一个 Conn 是同一种思路
func connKey(st socket.Tuple) string {
	a := st.SrcIP.String() + ":" + strconv.Itoa(int(st.SrcPort))
	b := st.DstIP.String() + ":" + strconv.Itoa(int(st.DstPort))
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

// acquireParser 获取(或创建)该连接对应的共享引擎 并把 refs 加一
func acquireParser(st socket.Tuple, serverPort socket.Port, cfg Config) (*parserEntry, string) {
	key := connKey(st)

	parserMu.Lock()
	defer parserMu.Unlock()

	e, ok := parsers[key]
	if !ok {
		p := NewConnectionParser(cfg)
		p.Conn.AutoDestroy = true
		p.RegisterLogBridge()

		clientIP, clientPort, serverIP, srvPort := st.SrcIP, st.SrcPort, st.DstIP, st.DstPort
		if uint16(serverPort) != uint16(st.DstPort) {
			clientIP, clientPort, serverIP, srvPort = st.DstIP, st.DstPort, st.SrcIP, st.SrcPort
		}
		p.Open(clientIP, clientPort, serverIP, srvPort, time.Time{})

		e = &parserEntry{parser: p}
		registerArchiveHooks(e)
		parsers[key] = e
	}
	e.refs++
	return e, key
}

// releaseParser 把 refs 减一 归零时关闭底层引擎并从共享表里移除
func releaseParser(key string, t0 time.Time) {
	parserMu.Lock()
	defer parserMu.Unlock()

	e, ok := parsers[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		e.parser.Close(t0)
		delete(parsers, key)
	}
}

// registerArchiveHooks 在共享引擎上注册一次性的归档回调 把完成的事务转换为
// *Request / *Response 并投递到对应方向的队列里 供各自的 decoder.Decode 取走
func registerArchiveHooks(e *parserEntry) {
	e.parser.RegisterHook(HookResponseHeaders, func(payload any) HookResult {
		tx := payload.(*Transaction)
		bc := &bodyCapture{limit: e.parser.Config.MaxBodySize}
		if e.parser.Config.EnableBodyCapture {
			if ct, ok := tx.ResponseHeaders.GetFold([]byte("Content-Type")); ok {
				bc.enabled = isJSONContentType(ct.String())
			}
		}
		tx.UserData = bc
		return HookOK
	})

	e.parser.RegisterHook(HookResponseBodyData, func(payload any) HookResult {
		d := payload.(Data)
		if bc, ok := d.Tx.UserData.(*bodyCapture); ok {
			bc.write(d.Bytes)
		}
		return HookOK
	})

	e.parser.RegisterHook(HookRequestComplete, func(payload any) HookResult {
		tx := payload.(*Transaction)
		e.mu.Lock()
		e.reqQueue = append(e.reqQueue, fromTransactionRequest(tx, e.parser.Conn))
		e.mu.Unlock()
		return HookOK
	})

	e.parser.RegisterHook(HookResponseComplete, func(payload any) HookResult {
		tx := payload.(*Transaction)
		e.mu.Lock()
		e.respQueue = append(e.respQueue, fromTransactionResponse(tx, e.parser.Conn))
		e.mu.Unlock()
		return HookOK
	})
}

// decoder 是共享引擎的单个方向视图 request 方向和 response 方向各自持有一个实例
//
// decoder 本身不再维护任何解析状态——状态全部下沉到 ConnectionParser 对应
// Component F 的设计: 一条连接的两个方向必须耦合在同一个引擎实例里才能正确处理
// CONNECT 隧道和请求/响应配对
type decoder struct {
	st         socket.TupleRaw
	serverPort socket.Port
	isRequest  bool

	entry *parserEntry
	key   string
}

// NewDecoder 创建 HTTP/1.x 解码器的单方向视图
func NewDecoder(st socket.Tuple, serverPort socket.Port, options common.Options) protocol.Decoder {
	cfg := DefaultConfig()
	if enableBody, err := options.GetBool("enableBody"); err == nil {
		cfg.EnableBodyCapture = enableBody
	}
	if maxBodySize, err := options.GetInt("maxBodySize"); err == nil && maxBodySize > 0 {
		cfg.MaxBodySize = maxBodySize
	}

	entry, key := acquireParser(st, serverPort, cfg)
	return &decoder{
		st:         st.ToRaw(),
		serverPort: serverPort,
		isRequest:  uint16(serverPort) == uint16(st.DstPort),
		entry:      entry,
		key:        key,
	}
}

// Free 释放持有的资源
func (d *decoder) Free() {
	releaseParser(d.key, time.Time{})
}

// Decode 把一段 L4 已切割好的字节喂给共享引擎对应方向的入口 并取走新完成的事务
//
// 一次调用可能触发零个 一个或多个事务完成(流水线场景下尤其如此) 这与旧实现
// 每次至多归档一个对象不同——引擎按 §4.F 的语义一次性推进尽可能多的状态
func (d *decoder) Decode(r zerocopy.Reader, t time.Time) ([]*role.Object, error) {
	b, err := r.Read(common.ReadWriteBlockSize)
	if err != nil || len(b) == 0 {
		return nil, nil
	}

	var st StreamState
	if d.isRequest {
		st = d.entry.parser.RequestData(b, t)
	} else {
		st = d.entry.parser.ResponseData(b, t)
	}
	if st == StateError {
		return nil, newError("stream (%s) entered error state", d.st)
	}

	return d.drain(), nil
}

func (d *decoder) drain() []*role.Object {
	d.entry.mu.Lock()
	defer d.entry.mu.Unlock()

	var objs []*role.Object
	if d.isRequest {
		for _, req := range d.entry.reqQueue {
			objs = append(objs, role.NewRequestObject(req))
		}
		d.entry.reqQueue = nil
		return objs
	}
	for _, resp := range d.entry.respQueue {
		objs = append(objs, role.NewResponseObject(resp))
	}
	d.entry.respQueue = nil
	return objs
}

// fromTransactionRequest 把一个请求方向已 COMPLETE 的事务归档为对外的 *Request
//
// Host/Port 取自连接的客户端地址(请求总是由客户端发出) RemoteHost 取自 Host 请求头
func fromTransactionRequest(tx *Transaction, conn *Connection) *Request {
	rl := tx.Request
	remoteHost := ""
	if v, ok := tx.RequestHeaders.GetFold([]byte("Host")); ok {
		remoteHost = v.String()
	}
	return &Request{
		Host:       conn.ClientIP.String(),
		Port:       uint16(conn.ClientPort),
		Method:     string(rl.Method),
		Header:     tx.RequestHeaders.ToHTTPHeader(),
		Proto:      string(rl.Protocol),
		Path:       string(rl.URI.Path),
		URL:        string(rl.URIRaw),
		Scheme:     string(rl.URI.Scheme),
		RemoteHost: remoteHost,
		Close:      closeRequested(tx.RequestHeaders),
		Size:       int(tx.RequestBody.ObservedLength),
		Chunked:    tx.RequestBody.TransferCoding == TransferChunked,
		Time:       tx.StartTime,
	}
}

// fromTransactionResponse 把一个响应方向已 COMPLETE 的事务归档为对外的 *Response
//
// Host/Port 取自连接的服务端地址(响应总是由服务端发出)
func fromTransactionResponse(tx *Transaction, conn *Connection) *Response {
	sl := tx.Response
	resp := &Response{
		Host:       conn.ServerIP.String(),
		Port:       uint16(conn.ServerPort),
		Header:     tx.ResponseHeaders.ToHTTPHeader(),
		Status:     string(sl.Reason),
		StatusCode: sl.StatusCode,
		Proto:      string(sl.Protocol),
		Close:      closeRequested(tx.ResponseHeaders),
		Size:       int(tx.ResponseBody.ObservedLength),
		Chunked:    tx.ResponseBody.TransferCoding == TransferChunked,
		Time:       tx.ResponseDoneTime,
	}
	if bc, ok := tx.UserData.(*bodyCapture); ok && bc.enabled {
		archiveBody(resp, bc.buf.Bytes())
	}
	return resp
}

// archiveBody 把捕获到的响应体写入 Response.Body 仅在合法 JSON 时归档
func archiveBody(resp *Response, b []byte) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || !json.Valid(b) {
		return
	}
	resp.Body = json.RawMessage(append([]byte(nil), b...))
}

// closeRequested 判断 "Connection" 头是否要求该方向关闭连接
func closeRequested(h *Header) bool {
	v, ok := h.GetFold([]byte("Connection"))
	if !ok {
		return false
	}
	return bytes.Contains(bytes.ToLower(v.Bytes()), []byte("close"))
}

// isJSONContentType 检查 Content-Type 是否为 JSON 格式
func isJSONContentType(contentType string) bool {
	ct := bytes.ToLower([]byte(contentType))
	return bytes.Contains(ct, []byte("application/json")) || bytes.Contains(ct, []byte("text/json"))
}
