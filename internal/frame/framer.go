// Package frame 将原始字节流切分为完整的应用层消息。
// 支持两种编码：ZSTD 长度前缀压缩帧和直接拼接的 JSON 对象文本。
package frame

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/klauspost/compress/zstd"

	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/metric"
)

var zstdPrefix = []byte("ZSTD:")

// maxLengthHeader bounds the ASCII decimal length field of a compressed
// frame. A longer header without a newline is treated as malformed.
const maxLengthHeader = 20

// Framer 持有单个连接的未成帧字节缓冲
type Framer struct {
	buf     []byte
	decoder *zstd.Decoder
	connID  string
}

func NewFramer(connID string) *Framer {
	decoder, _ := zstd.NewReader(nil)
	return &Framer{decoder: decoder, connID: connID}
}

// Push 追加一块数据并返回当前可提取的所有完整消息。
// 同一消息无论按多少块送入，提取结果都与一次性送入完全一致。
func (f *Framer) Push(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)
	metric.Default.BytesReceived.Add(float64(len(chunk)))

	var messages []string
	for {
		msg, advanced := f.next()
		if !advanced {
			break
		}
		if msg != "" {
			messages = append(messages, msg)
		}
	}
	return messages
}

// Buffered returns the number of bytes awaiting a complete frame.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset discards all buffered bytes.
func (f *Framer) Reset() {
	f.buf = nil
}

// next 尝试从缓冲区头部提取一个帧。返回 advanced=false 表示
// 需要等待更多数据，此时缓冲区保持原样（绝不对不完整帧解码）。
func (f *Framer) next() (string, bool) {
	f.trimLeadingSpace()
	if len(f.buf) == 0 {
		return "", false
	}

	if bytes.HasPrefix(f.buf, zstdPrefix) {
		return f.nextCompressed()
	}
	// 缓冲区可能是 ZSTD 前缀的开头，等待更多数据
	if len(f.buf) < len(zstdPrefix) && bytes.HasPrefix(zstdPrefix, f.buf) {
		return "", false
	}

	if f.buf[0] == '{' {
		return f.nextPlain()
	}

	return f.skipGarbage()
}

func (f *Framer) trimLeadingSpace() {
	i := 0
	for i < len(f.buf) {
		switch f.buf[i] {
		case ' ', '\t', '\r', '\n':
			i++
		default:
			f.buf = f.buf[i:]
			return
		}
	}
	f.buf = f.buf[:0]
}

// nextCompressed 解析 ZSTD:<length>\n<bytes>\n 格式的压缩帧
func (f *Framer) nextCompressed() (string, bool) {
	rest := f.buf[len(zstdPrefix):]
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 {
		if len(rest) > maxLengthHeader {
			logger.WarnF("[%s] Compressed frame length header has no terminator, skipping prefix", f.connID)
			metric.Default.FramesDropped.WithLabelValues("bad_length").Inc()
			f.buf = f.buf[len(zstdPrefix):]
			return "", true
		}
		return "", false
	}

	header := string(rest[:nl])
	length, err := strconv.Atoi(header)
	if err != nil || length < 0 {
		logger.WarnF("[%s] Malformed compressed frame length %q, skipping header", f.connID, header)
		metric.Default.FramesDropped.WithLabelValues("bad_length").Inc()
		f.buf = f.buf[len(zstdPrefix)+nl+1:]
		return "", true
	}

	// 帧总长 = 前缀 + 长度头 + \n + 压缩数据 + 结尾 \n
	frameEnd := len(zstdPrefix) + nl + 1 + length + 1
	if len(f.buf) < frameEnd {
		return "", false
	}

	compressed := f.buf[len(zstdPrefix)+nl+1 : len(zstdPrefix)+nl+1+length]
	decompressed, err := f.decoder.DecodeAll(compressed, nil)
	f.buf = f.buf[frameEnd:]
	if err != nil {
		logger.WarnF("[%s] Fail to decompress frame, details: %v", f.connID, err)
		metric.Default.FramesDropped.WithLabelValues("decompress").Inc()
		return "", true
	}

	if !json.Valid(decompressed) {
		logger.WarnF("[%s] Decompressed frame is not valid JSON, dropped", f.connID)
		metric.Default.FramesDropped.WithLabelValues("invalid_json").Inc()
		return "", true
	}

	metric.Default.FramesDecoded.WithLabelValues("zstd").Inc()
	return string(decompressed), true
}

func (f *Framer) nextPlain() (string, bool) {
	end, ok := ScanObject(f.buf)
	if !ok {
		return "", false
	}

	candidate := f.buf[:end]
	f.buf = f.buf[end:]

	if !json.Valid(candidate) {
		logger.WarnF("[%s] Balanced but invalid JSON message dropped", f.connID)
		metric.Default.FramesDropped.WithLabelValues("invalid_json").Inc()
		return "", true
	}

	metric.Default.FramesDecoded.WithLabelValues("plain").Inc()
	return string(candidate), true
}

// skipGarbage 丢弃无法识别的前缀，跳到下一个可恢复边界
func (f *Framer) skipGarbage() (string, bool) {
	braceIdx := bytes.IndexByte(f.buf, '{')
	zstdIdx := bytes.Index(f.buf, zstdPrefix)

	skip := len(f.buf)
	// 垃圾段结尾可能是被截断的 ZSTD 前缀，保留它等待后续数据
	for keep := len(zstdPrefix) - 1; keep > 0; keep-- {
		if bytes.HasSuffix(f.buf, zstdPrefix[:keep]) {
			skip = len(f.buf) - keep
			break
		}
	}
	if braceIdx >= 0 && braceIdx < skip {
		skip = braceIdx
	}
	if zstdIdx >= 0 && zstdIdx < skip {
		skip = zstdIdx
	}

	if skip == 0 {
		return "", false
	}
	logger.WarnF("[%s] Skipping %d unrecognized bytes in stream", f.connID, skip)
	metric.Default.FramesDropped.WithLabelValues("garbage").Inc()
	f.buf = f.buf[skip:]
	return "", len(f.buf) > 0
}

// ScanObject 对以 '{' 开头的缓冲区做字符串感知的括号深度扫描，
// 返回首个完整 JSON 对象的结束偏移。字符串字面量内的括号不参与计数。
func ScanObject(buf []byte) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i, b := range buf {
		if escaped {
			escaped = false
			continue
		}
		switch b {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
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
