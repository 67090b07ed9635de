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
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/htpscan/common"
	"github.com/packetd/htpscan/common/socket"
	"github.com/packetd/htpscan/internal/zerocopy"
)

// newTestTuple 构造一对互为镜像的四元组 client -> server 方向的 serverPort 固定为 80
func newTestTuple() (client socket.Tuple, serverPort socket.Port) {
	client = socket.Tuple{
		SrcIP:   socket.ToIPV4(net.ParseIP("10.0.0.1").To4()),
		SrcPort: 51000,
		DstIP:   socket.ToIPV4(net.ParseIP("10.0.0.2").To4()),
		DstPort: 80,
	}
	return client, 80
}

func TestDecoderBasicRoundTrip(t *testing.T) {
	client, serverPort := newTestTuple()
	opts := common.NewOptions()

	reqDecoder := NewDecoder(client, serverPort, opts)
	respDecoder := NewDecoder(client.Mirror(), serverPort, opts)
	defer reqDecoder.Free()
	defer respDecoder.Free()

	t0 := time.Time{}.Add(time.Second)
	reqObjs, err := reqDecoder.Decode(zerocopy.NewBuffer([]byte(
		"GET /index.html HTTP/1.1\r\nHost: www.example.com\r\nAccept: text/html\r\n\r\n")), t0)
	require.NoError(t, err)
	require.Len(t, reqObjs, 1)
	req := reqObjs[0].Obj.(*Request)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/index.html", req.Path)
	assert.Equal(t, "HTTP/1.1", req.Proto)
	assert.Equal(t, []string{"text/html"}, req.Header["Accept"])
	assert.Equal(t, "www.example.com", req.RemoteHost)
	assert.Equal(t, "10.0.0.1", req.Host)

	respObjs, err := respDecoder.Decode(zerocopy.NewBuffer([]byte(
		"HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: 5\r\n\r\nhello")), t0)
	require.NoError(t, err)
	require.Len(t, respObjs, 1)
	resp := respObjs[0].Obj.(*Response)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 5, resp.Size)
	assert.Equal(t, "10.0.0.2", resp.Host)
	assert.Nil(t, resp.Body)
}

func TestDecoderPipeliningYieldsMultipleObjects(t *testing.T) {
	client, serverPort := newTestTuple()
	d := NewDecoder(client, serverPort, common.NewOptions())
	defer d.Free()

	input := "GET /a HTTP/1.1\r\nHost: example.com\r\n\r\n" +
		"GET /b HTTP/1.1\r\nHost: example.com\r\n\r\n"
	objs, err := d.Decode(zerocopy.NewBuffer([]byte(input)), time.Time{})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "/a", objs[0].Obj.(*Request).Path)
	assert.Equal(t, "/b", objs[1].Obj.(*Request).Path)
}

func TestDecoderJSONBodyCapture(t *testing.T) {
	client, serverPort := newTestTuple()
	opts := common.NewOptions()
	opts.Merge("enableBody", true)

	reqDecoder := NewDecoder(client, serverPort, opts)
	respDecoder := NewDecoder(client.Mirror(), serverPort, opts)
	defer reqDecoder.Free()
	defer respDecoder.Free()

	t0 := time.Time{}
	_, err := reqDecoder.Decode(zerocopy.NewBuffer([]byte(
		"GET /api HTTP/1.1\r\nHost: example.com\r\n\r\n")), t0)
	require.NoError(t, err)

	body := `{"status":"success"}`
	resp := "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body
	objs, err := respDecoder.Decode(zerocopy.NewBuffer([]byte(resp)), t0)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	r := objs[0].Obj.(*Response)
	require.NotNil(t, r.Body)
	assert.JSONEq(t, body, string(r.Body.(json.RawMessage)))
}

func TestDecoderNonJSONBodyNotCaptured(t *testing.T) {
	client, serverPort := newTestTuple()
	opts := common.NewOptions()
	opts.Merge("enableBody", true)

	reqDecoder := NewDecoder(client, serverPort, opts)
	respDecoder := NewDecoder(client.Mirror(), serverPort, opts)
	defer reqDecoder.Free()
	defer respDecoder.Free()

	t0 := time.Time{}
	_, err := reqDecoder.Decode(zerocopy.NewBuffer([]byte(
		"GET /plain HTTP/1.1\r\nHost: example.com\r\n\r\n")), t0)
	require.NoError(t, err)

	resp := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 5\r\n\r\nhello"
	objs, err := respDecoder.Decode(zerocopy.NewBuffer([]byte(resp)), t0)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	r := objs[0].Obj.(*Response)
	assert.Nil(t, r.Body)
}

func TestDecoderAmbiguousContentLengthDoesNotError(t *testing.T) {
	// 与旧实现(基于 net/http.ReadRequest)不同: 被动检测要求对畸形/可疑的帧定界
	// 保持宽容解析并打标记 而不是直接报错断流
	client, serverPort := newTestTuple()
	d := NewDecoder(client, serverPort, common.NewOptions())
	defer d.Free()

	input := "POST /x HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\nhelloX"
	objs, err := d.Decode(zerocopy.NewBuffer([]byte(input)), time.Time{})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, http.MethodPost, objs[0].Obj.(*Request).Method)
}
