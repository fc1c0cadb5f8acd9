// Package monitor 解析监控模式的流式子协议：可选的控制行
// （MONITOR:v1 / SNAPSHOT:<时间戳> / END:monitor_stopped）加内嵌 JSON 快照。
package monitor

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/metric"
)

const (
	headerLine  = "MONITOR:v1"
	snapshotTag = "SNAPSHOT:"
	endLine     = "END:monitor_stopped"
)

// Snapshot 一次监控采样
type Snapshot struct {
	Timestamp time.Time
	Data      interface{}
}

// Decoder 持有单个连接在监控模式下的文本缓冲
type Decoder struct {
	buf       string
	pendingTS time.Time
	hasTS     bool
	connID    string
}

func NewDecoder(connID string) *Decoder {
	return &Decoder{connID: connID}
}

// Push 追加一块数据，返回解析出的快照序列。stopped 为真表示收到了
// END 控制行：缓冲区已清空，连接应退回普通请求/响应模式。
// 控制行是可选的，仅凭括号结构也能识别快照（部分服务器版本不发控制行）。
func (d *Decoder) Push(chunk []byte) (snapshots []Snapshot, stopped bool) {
	d.buf += string(chunk)

	for {
		idx := strings.IndexAny(d.buf, "{[")
		if idx < 0 {
			// 只有控制文本：处理完整行，保留未完结的尾部
			if d.consumeControlLines() {
				return snapshots, true
			}
			return snapshots, false
		}

		if d.classifyLines(d.buf[:idx]) {
			// END 终结本模式，丢弃其后的一切（包括未完成的 JSON）
			d.Reset()
			return snapshots, true
		}
		d.buf = d.buf[idx:]

		end, ok := scanValue(d.buf)
		if !ok {
			// END 可能跟在半截 JSON 之后，这时也必须立即停止
			if strings.Contains(d.buf, "\n"+endLine) {
				d.Reset()
				return snapshots, true
			}
			return snapshots, false
		}

		text := d.buf[:end]
		d.buf = d.buf[end:]

		var data interface{}
		if err := json.Unmarshal([]byte(text), &data); err != nil {
			logger.WarnF("[%s] Invalid monitor snapshot JSON dropped, details: %v", d.connID, err)
			metric.Default.FramesDropped.WithLabelValues("monitor_json").Inc()
			continue
		}

		snapshots = append(snapshots, Snapshot{Timestamp: d.takeTimestamp(), Data: data})
		metric.Default.Snapshots.Inc()
	}
}

// Reset 清空缓冲与待用时间戳
func (d *Decoder) Reset() {
	d.buf = ""
	d.hasTS = false
}

// Buffered returns the number of buffered bytes, for tests and diagnostics.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// consumeControlLines handles buffered text that contains no JSON bracket.
// Only newline-terminated lines are classified; a partial line stays put.
func (d *Decoder) consumeControlLines() (stopped bool) {
	lastNL := strings.LastIndexByte(d.buf, '\n')
	if lastNL < 0 {
		return false
	}
	complete := d.buf[:lastNL+1]
	d.buf = d.buf[lastNL+1:]
	if d.classifyLines(complete) {
		d.Reset()
		return true
	}
	return false
}

// classifyLines 逐行识别控制文本，遇到 END 立即返回 true
func (d *Decoder) classifyLines(text string) (stopped bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case line == headerLine:
			// 版本头，忽略
		case line == endLine:
			return true
		case strings.HasPrefix(line, snapshotTag):
			ms, err := strconv.ParseInt(line[len(snapshotTag):], 10, 64)
			if err != nil {
				logger.WarnF("[%s] Malformed snapshot timestamp %q", d.connID, line)
				continue
			}
			d.pendingTS = time.UnixMilli(ms)
			d.hasTS = true
		default:
			logger.DebugF("[%s] Unknown monitor control line %q", d.connID, line)
		}
	}
	return false
}

// takeTimestamp 取出 SNAPSHOT 行记录的时间戳，没有则用当前时间
func (d *Decoder) takeTimestamp() time.Time {
	if d.hasTS {
		d.hasTS = false
		return d.pendingTS
	}
	return time.Now()
}

// scanValue 对以 '{' 或 '[' 开头的文本做字符串感知的深度扫描，
// 返回匹配的闭括号之后的偏移
func scanValue(s string) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		if escaped {
			escaped = false
			continue
		}
		switch s[i] {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
				if depth == 0 {
					return i + 1, true
				}
			}
		}
	}
	return 0, false
}
