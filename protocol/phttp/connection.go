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

	"github.com/packetd/htpscan/common/socket"
)

// ConnectionState 是连接本身(区别于单个事务)的生命周期状态
type ConnectionState uint8

const (
	ConnNew ConnectionState = iota
	ConnOpen
	ConnTunnel // CONNECT 建隧道成功之后 两个方向均不再解析 纯透传
	ConnClosed
)

// Connection 是单条 TCP 连接上 HTTP 解析状态的根对象 一个 Connection 对应一个
// ConnectionParser 实例的全部生命周期
type Connection struct {
	ClientIP   socket.IPV
	ClientPort socket.Port
	ServerIP   socket.IPV
	ServerPort socket.Port

	OpenTime  time.Time
	CloseTime time.Time

	State ConnectionState
	Flags ConnectionFlag

	// Transactions 按创建顺序保存的事务序列 事务只在调用方显式释放之后才会从
	// 序列中移除(除非开启了 auto-destroy)
	Transactions []*Transaction

	// InboundBytes / OutboundBytes 是两个方向累计消费的字节数
	InboundBytes  uint64
	OutboundBytes uint64

	// AutoDestroy 为真时 事务在 transaction_complete 触发后立即从序列中移除
	AutoDestroy bool
}

// NewConnection 创建一个处于 NEW 状态的连接
func NewConnection() *Connection {
	return &Connection{State: ConnNew}
}

// Open 把连接从 NEW 状态迁移到 OPEN 记录四元组与起始时间
func (c *Connection) Open(clientIP socket.IPV, clientPort socket.Port, serverIP socket.IPV, serverPort socket.Port, t0 time.Time) {
	c.ClientIP = clientIP
	c.ClientPort = clientPort
	c.ServerIP = serverIP
	c.ServerPort = serverPort
	c.OpenTime = t0
	c.State = ConnOpen
}

// Close 把连接迁移到 CLOSED 状态 记录关闭时间 不清空已有事务序列
func (c *Connection) Close(t0 time.Time) {
	c.CloseTime = t0
	c.State = ConnClosed
}

// pushTransaction 创建并追加一个新事务 返回其指针
func (c *Connection) pushTransaction(t0 time.Time) *Transaction {
	tx := newTransaction(len(c.Transactions), t0)
	c.Transactions = append(c.Transactions, tx)
	return tx
}

// lastTransaction 返回最近创建的事务 序列为空时返回 nil
func (c *Connection) lastTransaction() *Transaction {
	if len(c.Transactions) == 0 {
		return nil
	}
	return c.Transactions[len(c.Transactions)-1]
}

// releaseComplete 在 AutoDestroy 开启时 把已经 Complete() 的事务从序列前端剔除
//
// 事务的 Index 字段是固定的创建时序号 剔除之后序列不会重新编号 因此 Index
// 仍然可以用作外部引用的稳定标识 只是不再能直接用作切片下标
func (c *Connection) releaseComplete() {
	if !c.AutoDestroy {
		return
	}
	i := 0
	for i < len(c.Transactions) && c.Transactions[i].Complete() {
		i++
	}
	if i > 0 {
		c.Transactions = c.Transactions[i:]
	}
}
