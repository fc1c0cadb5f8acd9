package connection

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/history"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/metric"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/monitor"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/protocol"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/utils"
)

// MonitorResult 是 StartMonitor / StopMonitor 的结构化结果
type MonitorResult struct {
	Success bool
	Error   string
}

// Subscriber 接收引擎对外的生命周期与监控通知
type Subscriber interface {
	OnStatusChange(connectionID string, status string, errText string)
	OnMonitorSnapshot(connectionID string, timestamp time.Time, data interface{})
	OnMonitorStopped(connectionID string)
}

// Options 控制引擎的超时与压缩行为，零值采用默认值
type Options struct {
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	Compression    bool
}

// Manager 持有连接注册表并把入站 socket 事件分发到各连接。
// 注册表是引擎里唯一的跨连接共享状态。
type Manager struct {
	connections sync.Map
	opts        Options
	history     *history.Recorder
	dial        func(address string, timeout time.Duration) (net.Conn, error)

	subMu       sync.RWMutex
	subscribers []Subscriber
}

func NewManager(opts Options) *Manager {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = 10 * time.Second
	}
	return &Manager{
		opts:    opts,
		history: history.NewRecorder(),
		dial: func(address string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", address, timeout)
		},
	}
}

// NewManagerFromConfig builds a Manager from config.json values.
func NewManagerFromConfig() *Manager {
	cfg, _ := config.GetConfig()
	return NewManager(Options{
		ConnectTimeout: utils.ParseStringTime(cfg.Client.ConnectTimeout),
		QueryTimeout:   utils.ParseStringTime(cfg.Client.QueryTimeout),
		Compression:    cfg.Client.Compression,
	})
}

func (m *Manager) Subscribe(sub Subscriber) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscribers = append(m.subscribers, sub)
}

// History 返回最近执行过的查询记录，供界面层展示
func (m *Manager) History() *history.Recorder {
	return m.history
}

// Get 按 id 查找连接
func (m *Manager) Get(connectionID string) (*Connection, bool) {
	if value, ok := m.connections.Load(connectionID); ok {
		return value.(*Connection), true
	}
	return nil, false
}

// Connect 建立一条新连接并阻塞到握手成功、失败或超时。
// 所有结局都通过返回值表达，socket 层错误不会外泄。
func (m *Manager) Connect(ep protocol.Endpoint) ConnectResult {
	c := newConnection(ep, m, m.opts.Compression)
	m.emitStatus(c, StatusConnecting, "")

	// 拨号和握手共用同一份连接超时预算
	deadline := time.Now().Add(m.opts.ConnectTimeout)
	conn, err := m.dial(ep.Address(), m.opts.ConnectTimeout)
	if err != nil {
		logger.ErrorF("[%s] Fail to dial %s, details: %v", c.ID, ep.Address(), err)
		c.mu.Lock()
		c.lastError = err.Error()
		c.setStatusLocked(StatusError)
		c.mu.Unlock()
		m.emitStatus(c, StatusError, err.Error())
		return ConnectResult{Success: false, Error: err.Error()}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	metric.Default.ConnectsOpened.Inc()
	m.connections.Store(c.ID, c)
	logger.DebugF("[%s] Socket opened to %s, waiting for welcome", c.ID, ep.Address())

	go m.readLoop(c)

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case result := <-c.connectCh:
		if !result.Success {
			m.teardown(c)
		}
		return result
	case <-timer.C:
		c.failConnect("Connection timeout")
		m.teardown(c)
		return ConnectResult{Success: false, Error: "Connection timeout"}
	}
}

// TestConnection 完整连一次再立即断开
func (m *Manager) TestConnection(ep protocol.Endpoint) bool {
	result := m.Connect(ep)
	if !result.Success {
		return false
	}
	m.Disconnect(result.ConnectionID)
	return true
}

// Disconnect 关闭 socket、清空缓冲和未决请求并从注册表移除。
// 对未知或已断开的 id 调用是无操作。
func (m *Manager) Disconnect(connectionID string) {
	value, ok := m.connections.LoadAndDelete(connectionID)
	if !ok {
		logger.DebugF("Disconnect of unknown connection %s ignored", connectionID)
		return
	}
	c := value.(*Connection)

	c.failAllPending("Connection closed")

	c.mu.Lock()
	streaming := c.monitorState == MonitorStreaming
	c.monitorState = MonitorIdle
	changed := c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()

	c.resetBuffers()
	c.closeSocket()

	if streaming {
		m.emitMonitorStopped(c)
	}
	if changed {
		m.emitStatus(c, StatusDisconnected, "")
	}
	logger.InfoF("[%s] Disconnected from %s", c.ID, c.Endpoint.Address())
}

// teardown removes a connection that never became usable.
func (m *Manager) teardown(c *Connection) {
	m.connections.Delete(c.ID)
	c.failAllPending("Connection closed")
	c.resetBuffers()
	c.closeSocket()
}

// ExecuteQuery 发出一条查询并阻塞到响应关联成功、超时或 socket 关闭
func (m *Manager) ExecuteQuery(connectionID string, queryText string) protocol.QueryResult {
	c, ok := m.Get(connectionID)
	if !ok {
		return protocol.FailedResult("unknown connection "+connectionID, 0)
	}

	req, err := c.registerPending(m.opts.QueryTimeout)
	if err != nil {
		return protocol.FailedResult(err.Error(), 0)
	}

	if sendErr := c.send(protocol.EncodeQuery(queryText)); sendErr != nil {
		// failPending 会把失败结果投递进 req.ch
		c.failPending(req.id, "unable to send query: "+sendErr.Error())
	}

	result := <-req.ch

	m.history.Record(history.Entry{
		ConnectionID:  connectionID,
		Query:         queryText,
		Success:       result.Success,
		ExecutionTime: result.ExecutionTime,
	})
	return result
}

// StartMonitor 发送监控命令并把连接切换到流式模式。发送本身即是全部
// 效果，后续快照通过订阅者回调到达。
func (m *Manager) StartMonitor(connectionID string, command string) MonitorResult {
	c, ok := m.Get(connectionID)
	if !ok {
		return MonitorResult{Error: "unknown connection " + connectionID}
	}

	c.mu.Lock()
	if c.status != StatusConnected {
		status := c.status
		c.mu.Unlock()
		return MonitorResult{Error: fmt.Sprintf("connection is %s, not connected", status)}
	}
	if c.monitorState == MonitorStreaming {
		c.mu.Unlock()
		return MonitorResult{Error: "monitor is already streaming"}
	}
	if len(c.pending) > 0 {
		// 监控模式与普通查询在同一 socket 上互斥
		c.mu.Unlock()
		return MonitorResult{Error: "queries still pending on this connection"}
	}
	c.monitorState = MonitorStreaming
	c.mu.Unlock()

	if err := c.send(protocol.EncodeQuery(command)); err != nil {
		c.mu.Lock()
		c.monitorState = MonitorIdle
		c.mu.Unlock()
		return MonitorResult{Error: err.Error()}
	}

	logger.InfoF("[%s] Monitor stream started with command %q", c.ID, command)
	return MonitorResult{Success: true}
}

// StopMonitor 请求服务器结束监控流。模式要等服务器的 END 控制行
// 到达才真正切回 idle。
func (m *Manager) StopMonitor(connectionID string) MonitorResult {
	c, ok := m.Get(connectionID)
	if !ok {
		return MonitorResult{Error: "unknown connection " + connectionID}
	}
	if c.MonitorState() != MonitorStreaming {
		return MonitorResult{Error: "monitor is not streaming"}
	}

	if err := c.send(protocol.EncodeQuery(protocol.StopMonitorCommand)); err != nil {
		return MonitorResult{Error: err.Error()}
	}
	return MonitorResult{Success: true}
}

// readLoop 是连接专属的读协程，保证同一连接的数据块按到达顺序处理
func (m *Manager) readLoop(c *Connection) {
	buf := make([]byte, 4096)
	for {
		conn := c.socket()
		if conn == nil {
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			c.handleData(buf[:n])
		}
		if err != nil {
			m.handleReadClose(c, err)
			return
		}
	}
}

// handleReadClose 处理对端关闭或 socket 出错：让未决请求立即失败、
// 结束监控流并迁移状态，绝不让错误击穿注册表
func (m *Manager) handleReadClose(c *Connection, err error) {
	if c.Status().terminal() {
		// 本地主动断开或已失败的连接，状态不再变化
		return
	}
	handleReadError(c.ID, err)

	c.resolveConnect(ConnectResult{Success: false, Error: "Connection closed"})
	c.failAllPending("Connection closed")

	c.mu.Lock()
	streaming := c.monitorState == MonitorStreaming
	c.monitorState = MonitorIdle
	var next Status
	var errText string
	if errors.Is(err, io.EOF) {
		next = StatusDisconnected
	} else {
		next = StatusError
		errText = err.Error()
		c.lastError = errText
	}
	changed := c.setStatusLocked(next)
	c.mu.Unlock()

	if streaming {
		m.emitMonitorStopped(c)
	}
	if changed {
		m.emitStatus(c, next, errText)
	}
	c.closeSocket()
}

func (m *Manager) snapshotSubscribers() []Subscriber {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	subs := make([]Subscriber, len(m.subscribers))
	copy(subs, m.subscribers)
	return subs
}

func (m *Manager) emitStatus(c *Connection, status Status, errText string) {
	logger.InfoF("[%s] Status changed to %s", c.ID, status)
	for _, sub := range m.snapshotSubscribers() {
		sub.OnStatusChange(c.ID, status.String(), errText)
	}
}

func (m *Manager) emitMonitorSnapshot(c *Connection, snap monitor.Snapshot) {
	for _, sub := range m.snapshotSubscribers() {
		sub.OnMonitorSnapshot(c.ID, snap.Timestamp, snap.Data)
	}
}

func (m *Manager) emitMonitorStopped(c *Connection) {
	for _, sub := range m.snapshotSubscribers() {
		sub.OnMonitorStopped(c.ID)
	}
}

func isNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}

func handleReadError(connID string, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.InfoF("[%s] Server closed connection", connID)
	case os.IsTimeout(err):
		logger.WarnF("[%s] Reading timeout", connID)
	default:
		logger.ErrorF("[%s] Error occured while reading data, details: %v", connID, err)
	}
}
