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
	"strconv"

	"github.com/packetd/htpscan/logger"
)

// RegisterLogBridge 把引擎的 HookLog 事件接到全局 zap 日志器上 按严重性分流到
// 对应的日志级别 事务索引(如果有)被带入消息前缀便于排障时关联具体请求
func (p *ConnectionParser) RegisterLogBridge() {
	p.RegisterHook(HookLog, func(payload any) HookResult {
		rec, ok := payload.(LogRecord)
		if !ok {
			return HookOK
		}
		msg := rec.Message
		if rec.Tx != nil {
			msg = logTxPrefix(rec.Tx.Index) + msg
		}
		switch rec.Severity {
		case LogError:
			logger.Errorf("%s", msg)
		case LogWarning:
			logger.Warnf("%s", msg)
		case LogNotice, LogInfo:
			logger.Infof("%s", msg)
		case LogDebug:
			logger.Debugf("%s", msg)
		}
		return HookOK
	})
}

func logTxPrefix(index int) string {
	return "tx#" + strconv.Itoa(index) + ": "
}
