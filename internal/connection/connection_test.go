package connection

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/protocol"
)

func newConnectedConnection() *Connection {
	m := NewManager(Options{})
	c := newConnection(protocol.Endpoint{Host: "127.0.0.1", Port: 7420}, m, false)
	c.status = StatusConnected
	return c
}

func TestRequestIDSequence(t *testing.T) {
	c := newConnectedConnection()

	req1, err := c.registerPending(time.Second)
	require.NoError(t, err)
	req2, err := c.registerPending(time.Second)
	require.NoError(t, err)

	assert.Equal(t, "query_1", req1.id)
	assert.Equal(t, "query_2", req2.id)
	assert.Equal(t, 2, c.PendingCount())
}

func TestOutOfOrderCorrelation(t *testing.T) {
	c := newConnectedConnection()

	req1, _ := c.registerPending(time.Second)
	req2, _ := c.registerPending(time.Second)

	// 响应乱序到达，带 id 的响应必须命中各自的调用者
	c.resolveResponse(map[string]interface{}{"id": "query_2", "data": "second"})
	c.resolveResponse(map[string]interface{}{"id": "query_1", "data": "first"})

	result2 := <-req2.ch
	result1 := <-req1.ch
	assert.Equal(t, "second", result2.Data)
	assert.Equal(t, "first", result1.Data)
	assert.Zero(t, c.PendingCount())
}

func TestFallbackCorrelationMostRecent(t *testing.T) {
	c := newConnectedConnection()

	req1, _ := c.registerPending(time.Second)
	req2, _ := c.registerPending(time.Second)

	// 无 id 的响应归属最近注册的未决请求
	c.resolveResponse(map[string]interface{}{"data": "for-second"})

	result2 := <-req2.ch
	assert.Equal(t, "for-second", result2.Data)
	assert.Equal(t, 1, c.PendingCount())

	c.resolveResponse(map[string]interface{}{"data": "for-first"})
	result1 := <-req1.ch
	assert.Equal(t, "for-first", result1.Data)
}

func TestUnmatchedResponseDropped(t *testing.T) {
	c := newConnectedConnection()
	// 没有未决请求时响应被丢弃，不得 panic
	c.resolveResponse(map[string]interface{}{"id": "query_99", "data": "orphan"})
	c.resolveResponse(map[string]interface{}{"data": "orphan"})
}

func TestTimeoutRemovesHandlerExactlyOnce(t *testing.T) {
	c := newConnectedConnection()

	req, err := c.registerPending(50 * time.Millisecond)
	require.NoError(t, err)

	result := <-req.ch
	require.False(t, result.Success)
	assert.Equal(t, "Query timeout", result.Error)
	assert.Zero(t, c.PendingCount())

	// 迟到的响应只会被丢弃，处理器不会被移除第二次
	c.resolveResponse(map[string]interface{}{"id": req.id, "data": "late"})
	select {
	case extra := <-req.ch:
		t.Fatalf("expected no second result, got %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegisterPendingRequiresConnected(t *testing.T) {
	m := NewManager(Options{})
	c := newConnection(protocol.Endpoint{}, m, false)

	_, err := c.registerPending(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestFailAllPending(t *testing.T) {
	c := newConnectedConnection()

	req1, _ := c.registerPending(time.Second)
	req2, _ := c.registerPending(time.Second)

	c.failAllPending("Connection closed")

	for _, req := range []*pendingRequest{req1, req2} {
		result := <-req.ch
		assert.False(t, result.Success)
		assert.Equal(t, "Connection closed", result.Error)
	}
	assert.Zero(t, c.PendingCount())
}

func TestDataDroppedInTerminalState(t *testing.T) {
	m := NewManager(Options{})
	c := newConnection(protocol.Endpoint{}, m, false)
	c.status = StatusError

	// 终态下的数据只能被丢弃，绝不进入任何解码器
	c.handleData([]byte(`{"x":1}`))
	assert.Zero(t, c.framer.Buffered())
	assert.Zero(t, c.decoder.Buffered())
}

func TestStatusTransitionsForwardOnly(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusConnecting, StatusAuthenticating, true},
		{StatusAuthenticating, StatusConnected, true},
		{StatusConnected, StatusError, true},
		{StatusError, StatusDisconnected, true},
		{StatusError, StatusConnected, false},
		{StatusDisconnected, StatusConnecting, false},
		{StatusDisconnected, StatusError, false},
	}

	for _, tt := range tests {
		m := NewManager(Options{})
		c := newConnection(protocol.Endpoint{}, m, false)
		c.status = tt.from
		if got := c.setStatus(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s: expected allowed=%v, got %v", tt.from, tt.to, tt.allowed, got)
		}
	}
}

func TestHandshakeStateMachine(t *testing.T) {
	m := NewManager(Options{})
	c := newConnection(protocol.Endpoint{Host: "h", Port: 1, Database: "d", Username: "u", Password: "p"}, m, false)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c.conn = client
	go func() { _, _ = io.Copy(io.Discard, server) }()

	c.handleData([]byte("WELCOME DocBase 3.2\n"))
	assert.Equal(t, StatusAuthenticating, c.Status())

	// 认证响应允许跨多个数据块到达
	c.handleData([]byte(`{"status":`))
	assert.Equal(t, StatusAuthenticating, c.Status())
	c.handleData([]byte(`"success"}`))
	assert.Equal(t, StatusConnected, c.Status())

	result := <-c.connectCh
	assert.True(t, result.Success)
	assert.Equal(t, c.ID, result.ConnectionID)
}

func TestWelcomeSplitAcrossChunks(t *testing.T) {
	m := NewManager(Options{})
	c := newConnection(protocol.Endpoint{Host: "h", Port: 1}, m, false)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c.conn = client
	go func() { _, _ = io.Copy(io.Discard, server) }()

	// 欢迎行允许跨多个数据块到达，行尾之前不得进入认证阶段
	c.handleData([]byte("WELCOME Doc"))
	assert.Equal(t, StatusConnecting, c.Status())

	c.handleData([]byte("Base 3.2\n"))
	assert.Equal(t, StatusAuthenticating, c.Status())

	c.handleData([]byte(`{"status":"success"}`))
	assert.Equal(t, StatusConnected, c.Status())

	result := <-c.connectCh
	assert.True(t, result.Success)
}

func TestWelcomeAndAuthResponseInOneChunk(t *testing.T) {
	m := NewManager(Options{})
	c := newConnection(protocol.Endpoint{Host: "h", Port: 1}, m, false)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c.conn = client
	go func() { _, _ = io.Copy(io.Discard, server) }()

	// 欢迎行之后的字节属于认证响应
	c.handleData([]byte("WELCOME DocBase 3.2\n{\"status\":\"success\"}"))
	assert.Equal(t, StatusConnected, c.Status())

	result := <-c.connectCh
	assert.True(t, result.Success)
}

func TestHandshakeAuthFailure(t *testing.T) {
	m := NewManager(Options{})
	c := newConnection(protocol.Endpoint{Host: "h", Port: 1}, m, false)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c.conn = client
	go func() { _, _ = io.Copy(io.Discard, server) }()

	c.handleData([]byte("WELCOME\n"))
	c.handleData([]byte(`{"status":"failed","error":"bad credentials"}`))

	assert.Equal(t, StatusError, c.Status())
	assert.Equal(t, "bad credentials", c.LastError())

	result := <-c.connectCh
	assert.False(t, result.Success)
	assert.Equal(t, "bad credentials", result.Error)
}

func TestAuthResponseLeftoverFedToFramer(t *testing.T) {
	m := NewManager(Options{})
	c := newConnection(protocol.Endpoint{Host: "h", Port: 1}, m, false)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c.conn = client
	go func() { _, _ = io.Copy(io.Discard, server) }()

	c.handleData([]byte("WELCOME\n"))
	// 认证响应和第一个查询响应粘在同一个数据块里
	c.handleData([]byte(`{"status":"success"}{"id":"query_1","data":`))

	assert.Equal(t, StatusConnected, c.Status())
	assert.Equal(t, len(`{"id":"query_1","data":`), c.framer.Buffered())
}
