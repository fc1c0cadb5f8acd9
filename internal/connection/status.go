package connection

// Status 连接状态机的状态
type Status byte

const (
	StatusConnecting Status = iota
	StatusAuthenticating
	StatusConnected
	StatusError
	StatusDisconnected
)

// statusNames 将 Status 映射到通知中使用的字符串
var statusNames = map[Status]string{
	StatusConnecting:     "connecting",
	StatusAuthenticating: "authenticating",
	StatusConnected:      "connected",
	StatusError:          "error",
	StatusDisconnected:   "disconnected",
}

func (s Status) String() string {
	return statusNames[s]
}

// terminal 状态不再接受任何前向迁移（Error 仅允许迁移到 Disconnected）
func (s Status) terminal() bool {
	return s == StatusError || s == StatusDisconnected
}

// MonitorState 监控子协议的状态
type MonitorState byte

const (
	MonitorIdle MonitorState = iota
	MonitorStreaming
)

var monitorStateNames = map[MonitorState]string{
	MonitorIdle:      "idle",
	MonitorStreaming: "streaming",
}

func (m MonitorState) String() string {
	return monitorStateNames[m]
}
