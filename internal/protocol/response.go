package protocol

import (
	"fmt"
	"time"
)

// QueryResult 统一的查询结果结构，屏蔽服务器历史版本的不同响应形态
type QueryResult struct {
	Success       bool        `json:"success"`
	Data          interface{} `json:"data,omitempty"`
	Error         string      `json:"error,omitempty"`
	ExecutionTime int64       `json:"executionTime"`
	DocumentCount int         `json:"documentCount,omitempty"`
	ResultCount   int         `json:"resultCount,omitempty"`
}

// FailedResult builds a failed QueryResult with the elapsed time filled in.
func FailedResult(errText string, elapsed time.Duration) QueryResult {
	return QueryResult{
		Success:       false,
		Error:         errText,
		ExecutionTime: elapsed.Milliseconds(),
	}
}

// NormalizeResponse 将服务器的多种历史响应形态归一化为 QueryResult：
//   - Result + ResultCount 对
//   - data 字段（对象或数组）
//   - results 数组
//   - 裸的单对象响应
//
// 响应中带 error 字段或 success:false 时返回失败结果，绝不返回 Go error。
func NormalizeResponse(msg map[string]interface{}, elapsed time.Duration) QueryResult {
	if errText := responseError(msg); errText != "" {
		return FailedResult(errText, elapsed)
	}

	result := QueryResult{
		Success:       true,
		ExecutionTime: elapsed.Milliseconds(),
	}

	switch {
	case msg["Result"] != nil:
		result.Data = msg["Result"]
		if count, ok := asInt(msg["ResultCount"]); ok {
			result.ResultCount = count
		}
		result.DocumentCount = countDocuments(result.Data)

	case msg["data"] != nil:
		result.Data = msg["data"]
		result.DocumentCount = countDocuments(result.Data)
		result.ResultCount = result.DocumentCount

	case msg["results"] != nil:
		result.Data = msg["results"]
		result.DocumentCount = countDocuments(result.Data)
		result.ResultCount = result.DocumentCount

	default:
		// 裸对象：整条消息就是数据
		result.Data = msg
		result.DocumentCount = 1
		result.ResultCount = 1
	}

	return result
}

func responseError(msg map[string]interface{}) string {
	if success, ok := msg["success"].(bool); ok && !success {
		if errText, ok := msg["error"].(string); ok && errText != "" {
			return errText
		}
		return "query failed"
	}
	if errVal, ok := msg["error"]; ok && errVal != nil {
		if errText, ok := errVal.(string); ok {
			return errText
		}
		return fmt.Sprintf("%v", errVal)
	}
	return ""
}

func countDocuments(data interface{}) int {
	if arr, ok := data.([]interface{}); ok {
		return len(arr)
	}
	return 1
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
