// Package protocol 定义了 DocBase 服务器的线上报文格式
package protocol

import (
	"fmt"
)

// Scheme 连接字符串协议前缀
const Scheme = "docdb"

// EndOfMessage 每条客户端报文的结束标志字节
const EndOfMessage byte = 0x04

const (
	// CompressOption requests zstd-compressed response frames.
	CompressOption = "compress=zstd"
	// RequestIDPrefix prefixes every generated request id.
	RequestIDPrefix = "query_"
	// StopMonitorCommand leaves monitor mode; the server confirms with an
	// END control line.
	StopMonitorCommand = "stop_monitor"
)

// Endpoint 描述一个服务器连接目标
type Endpoint struct {
	Name     string
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

func (ep Endpoint) Address() string {
	return fmt.Sprintf("%s:%d", ep.Host, ep.Port)
}

// BuildConnectionString 编码握手阶段发送的连接字符串：
// scheme://host:port:database:username:password[:compress=zstd] 后接 ";\n" 和结束字节
func BuildConnectionString(ep Endpoint, compress bool) []byte {
	s := fmt.Sprintf("%s://%s:%d:%s:%s:%s",
		Scheme, ep.Host, ep.Port, ep.Database, ep.Username, ep.Password)
	if compress {
		s += ":" + CompressOption
	}
	s += ";\n"
	return append([]byte(s), EndOfMessage)
}

// EncodeQuery 编码查询报文：原始查询文本后接 "\n" 和结束字节
func EncodeQuery(text string) []byte {
	data := make([]byte, 0, len(text)+2)
	data = append(data, text...)
	data = append(data, '\n')
	return append(data, EndOfMessage)
}
