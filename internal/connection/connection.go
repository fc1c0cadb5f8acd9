// Package connection 实现客户端协议引擎：连接生命周期、握手状态机、
// 请求关联以及监控模式的分发。
package connection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/frame"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/metric"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/monitor"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/protocol"
)

// ConnectResult 是 Connect 调用的结构化结果，连接失败不以 error 形式抛出
type ConnectResult struct {
	Success      bool
	ConnectionID string
	Error        string
}

type pendingRequest struct {
	id      string
	ch      chan protocol.QueryResult
	timer   *time.Timer
	started time.Time
}

// Connection 一条 TCP 会话。socket、缓冲和未决请求表都由它独占，
// 不同连接之间不共享任何状态。
type Connection struct {
	ID       string
	Endpoint protocol.Endpoint

	mu           sync.Mutex
	conn         net.Conn
	status       Status
	lastError    string
	monitorState MonitorState
	pending      map[string]*pendingRequest
	pendingOrder []string
	requestSeq   uint64

	// bufMu 保护成帧缓冲，读循环和 Disconnect 都会触碰
	bufMu        sync.Mutex
	framer       *frame.Framer
	decoder      *monitor.Decoder
	handshakeBuf []byte

	compress  bool
	connectCh chan ConnectResult
	manager   *Manager
}

func newConnection(ep protocol.Endpoint, m *Manager, compress bool) *Connection {
	id := uuid.NewString()
	return &Connection{
		ID:        id,
		Endpoint:  ep,
		status:    StatusConnecting,
		pending:   make(map[string]*pendingRequest),
		framer:    frame.NewFramer(id),
		decoder:   monitor.NewDecoder(id),
		compress:  compress,
		connectCh: make(chan ConnectResult, 1),
		manager:   m,
	}
}

func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Connection) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Connection) MonitorState() MonitorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitorState
}

func (c *Connection) socket() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// setStatusLocked 只允许前向迁移；Error 状态仅可进入 Disconnected
func (c *Connection) setStatusLocked(next Status) bool {
	if c.status == next {
		return false
	}
	if c.status == StatusDisconnected {
		return false
	}
	if c.status == StatusError && next != StatusDisconnected {
		return false
	}
	c.status = next
	return true
}

func (c *Connection) setStatus(next Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setStatusLocked(next)
}

// handleData 按当前状态分发一块入站数据。只在读循环里调用，
// 同一连接的块处理顺序与到达顺序一致。
func (c *Connection) handleData(chunk []byte) {
	c.mu.Lock()
	status := c.status
	streaming := c.monitorState == MonitorStreaming
	c.mu.Unlock()

	switch status {
	case StatusConnecting:
		c.handleWelcome(chunk)
	case StatusAuthenticating:
		c.handleAuthResponse(chunk)
	case StatusConnected:
		if streaming {
			c.handleMonitorData(chunk)
		} else {
			c.handleFramedData(chunk)
		}
	default:
		logger.WarnF("[%s] Dropping %d bytes received in %s state", c.ID, len(chunk), status)
	}
}

// handleWelcome 缓冲到完整的欢迎行，随后发送连接字符串并进入认证状态。
// 欢迎行允许跨多个数据块到达，行尾之后的字节属于认证响应。
func (c *Connection) handleWelcome(chunk []byte) {
	c.bufMu.Lock()
	c.handshakeBuf = append(c.handshakeBuf, chunk...)
	nl := bytes.IndexByte(c.handshakeBuf, '\n')
	if nl < 0 {
		c.bufMu.Unlock()
		return
	}
	welcome := string(c.handshakeBuf[:nl])
	leftover := append([]byte(nil), c.handshakeBuf[nl+1:]...)
	c.handshakeBuf = nil
	c.bufMu.Unlock()

	logger.DebugF("[%s] Server welcome: %s", c.ID, strings.TrimSpace(welcome))
	if err := c.send(protocol.BuildConnectionString(c.Endpoint, c.compress)); err != nil {
		c.failConnect("unable to send connection string: " + err.Error())
		return
	}
	// 认证中是内部状态，不对外发通知
	c.setStatus(StatusAuthenticating)
	if len(leftover) > 0 {
		c.handleAuthResponse(leftover)
	}
}

func (c *Connection) handleAuthResponse(chunk []byte) {
	c.bufMu.Lock()
	c.handshakeBuf = append(c.handshakeBuf, chunk...)
	raw, leftover, ok := completeAuthResponse(c.handshakeBuf)
	if ok {
		c.handshakeBuf = nil
	}
	c.bufMu.Unlock()
	if !ok {
		return
	}

	resp := protocol.ParseAuthResponse(raw)
	if !protocol.AuthSucceeded(resp) {
		c.failConnect(protocol.AuthError(resp))
		return
	}

	if c.setStatus(StatusConnected) {
		logger.InfoF("[%s] Authenticated against %s", c.ID, c.Endpoint.Address())
		c.manager.emitStatus(c, StatusConnected, "")
		c.resolveConnect(ConnectResult{Success: true, ConnectionID: c.ID})
	}
	// 认证响应之后的字节已属于查询响应流
	if len(leftover) > 0 {
		c.handleFramedData(leftover)
	}
}

// completeAuthResponse 判断认证响应是否完整：以 '{' 开头时等待括号配平，
// 否则等待一个完整文本行
func completeAuthResponse(buf []byte) (raw string, leftover []byte, ok bool) {
	trimmed := bytes.TrimLeft(buf, " \t\r\n")
	if len(trimmed) == 0 {
		return "", nil, false
	}
	if trimmed[0] == '{' {
		end, done := frame.ScanObject(trimmed)
		if !done {
			return "", nil, false
		}
		return string(trimmed[:end]), append([]byte(nil), trimmed[end:]...), true
	}
	nl := bytes.IndexByte(trimmed, '\n')
	if nl < 0 {
		return "", nil, false
	}
	return string(trimmed[:nl]), append([]byte(nil), trimmed[nl+1:]...), true
}

// failConnect 记录失败原因并结束握手。外层 Connect 调用通过结果值
// 观察失败，绝不 panic 或返回未捕获的错误。
func (c *Connection) failConnect(errText string) {
	c.mu.Lock()
	c.lastError = errText
	changed := c.setStatusLocked(StatusError)
	c.mu.Unlock()

	if changed {
		c.manager.emitStatus(c, StatusError, errText)
	}
	c.resolveConnect(ConnectResult{Success: false, Error: errText})
}

func (c *Connection) resolveConnect(result ConnectResult) {
	select {
	case c.connectCh <- result:
	default:
		// 握手已经解析过（例如超时先到），保持首个结果
	}
}

func (c *Connection) handleFramedData(chunk []byte) {
	c.bufMu.Lock()
	messages := c.framer.Push(chunk)
	c.bufMu.Unlock()

	for _, raw := range messages {
		var msg map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			logger.WarnF("[%s] Response frame is not a JSON object, dropped: %v", c.ID, err)
			metric.Default.FramesDropped.WithLabelValues("invalid_json").Inc()
			continue
		}
		c.resolveResponse(msg)
	}
}

func (c *Connection) handleMonitorData(chunk []byte) {
	c.bufMu.Lock()
	snapshots, stopped := c.decoder.Push(chunk)
	c.bufMu.Unlock()

	for _, snap := range snapshots {
		c.manager.emitMonitorSnapshot(c, snap)
	}
	if stopped {
		c.mu.Lock()
		c.monitorState = MonitorIdle
		c.mu.Unlock()
		logger.InfoF("[%s] Monitor stream stopped by server", c.ID)
		c.manager.emitMonitorStopped(c)
	}
}

// resolveResponse 将解码后的消息关联到发起它的调用者
func (c *Connection) resolveResponse(msg map[string]interface{}) {
	id, _ := msg["id"].(string)

	c.mu.Lock()
	var req *pendingRequest
	if id != "" {
		if r, ok := c.pending[id]; ok {
			req = r
			c.removePendingLocked(id)
		}
	} else if n := len(c.pendingOrder); n > 0 {
		// 无 id 的响应归属最近注册的未决请求。仅在每连接严格串行
		// 请求/响应时才正确；并发发出的无标签请求无法被准确归属。
		last := c.pendingOrder[n-1]
		req = c.pending[last]
		c.removePendingLocked(last)
	}
	c.mu.Unlock()

	if req == nil {
		logger.WarnF("[%s] Dropping response with no matching pending request, id=%q", c.ID, id)
		metric.Default.FramesDropped.WithLabelValues("unmatched").Inc()
		return
	}

	req.timer.Stop()
	req.ch <- protocol.NormalizeResponse(msg, time.Since(req.started))
}

// registerPending 生成请求 id 并登记响应处理器。超时后处理器被移除
// 并得到超时失败结果；移除恰好发生一次，要么响应命中要么超时。
func (c *Connection) registerPending(timeout time.Duration) (*pendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusConnected {
		return nil, fmt.Errorf("connection is %s, not connected", c.status)
	}
	if c.monitorState == MonitorStreaming {
		return nil, errors.New("connection is in monitor mode")
	}

	c.requestSeq++
	id := fmt.Sprintf("%s%d", protocol.RequestIDPrefix, c.requestSeq)
	req := &pendingRequest{
		id:      id,
		ch:      make(chan protocol.QueryResult, 1),
		started: time.Now(),
	}
	c.pending[id] = req
	c.pendingOrder = append(c.pendingOrder, id)

	req.timer = time.AfterFunc(timeout, func() {
		if c.failPending(id, "Query timeout") {
			metric.Default.QueryTimeouts.Inc()
		}
	})
	return req, nil
}

func (c *Connection) removePendingLocked(id string) {
	delete(c.pending, id)
	for i, pid := range c.pendingOrder {
		if pid == id {
			c.pendingOrder = append(c.pendingOrder[:i], c.pendingOrder[i+1:]...)
			break
		}
	}
}

func (c *Connection) failPending(id string, errText string) bool {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		c.removePendingLocked(id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	req.timer.Stop()
	req.ch <- protocol.FailedResult(errText, time.Since(req.started))
	return true
}

// failAllPending 在 socket 关闭或出错时主动让所有未决请求失败，
// 而不是任由它们静默超时
func (c *Connection) failAllPending(errText string) {
	c.mu.Lock()
	reqs := make([]*pendingRequest, 0, len(c.pending))
	for _, id := range c.pendingOrder {
		if req, ok := c.pending[id]; ok {
			reqs = append(reqs, req)
		}
	}
	c.pending = make(map[string]*pendingRequest)
	c.pendingOrder = nil
	c.mu.Unlock()

	for _, req := range reqs {
		req.timer.Stop()
		req.ch <- protocol.FailedResult(errText, time.Since(req.started))
	}
}

// PendingCount reports the number of in-flight requests, for diagnostics.
func (c *Connection) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Connection) send(data []byte) error {
	conn := c.socket()
	if conn == nil {
		return errors.New("socket is closed")
	}

	total := 0
	for total < len(data) {
		n, err := conn.Write(data[total:])
		if err != nil {
			logger.ErrorF("[%s] Fail to send data, details: %v", c.ID, err)
			return err
		}
		total += n
	}
	logger.DebugF("[%s] Send %d bytes to server", c.ID, total)
	return nil
}

func (c *Connection) closeSocket() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil && !isNetClosedError(err) {
		logger.WarnF("[%s] Error occured while closing connection, details: %v", c.ID, err)
	}
	metric.Default.ConnectsClosed.Inc()
}

func (c *Connection) resetBuffers() {
	c.bufMu.Lock()
	c.framer.Reset()
	c.decoder.Reset()
	c.handshakeBuf = nil
	c.bufMu.Unlock()
}
