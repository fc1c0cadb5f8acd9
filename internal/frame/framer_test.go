package frame

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func compressedFrame(t *testing.T, msg string) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	compressed := enc.EncodeAll([]byte(msg), nil)
	frame := []byte("ZSTD:" + strconv.Itoa(len(compressed)) + "\n")
	frame = append(frame, compressed...)
	return append(frame, '\n')
}

func TestPlainSingleMessage(t *testing.T) {
	f := NewFramer("test")
	messages := f.Push([]byte(`{"a":1}`))
	if len(messages) != 1 || messages[0] != `{"a":1}` {
		t.Errorf("expected one message, got %v", messages)
	}
	if f.Buffered() != 0 {
		t.Errorf("expected empty buffer, got %d bytes", f.Buffered())
	}
}

func TestPlainConcatenatedMessages(t *testing.T) {
	f := NewFramer("test")
	messages := f.Push([]byte(`{"a":1}{"b":2}{"c":3}`))
	expect := []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}
	if len(messages) != len(expect) {
		t.Fatalf("expected %d messages, got %d", len(expect), len(messages))
	}
	for i := range expect {
		if messages[i] != expect[i] {
			t.Errorf("message %d: expected %s, got %s", i, expect[i], messages[i])
		}
	}
}

func TestStringSafeBraceCounting(t *testing.T) {
	f := NewFramer("test")
	messages := f.Push([]byte(`{"a":"x}y"}{"b":1}`))
	if len(messages) != 2 {
		t.Fatalf("期望 2 条消息，实际 %d 条: %v", len(messages), messages)
	}
	if messages[0] != `{"a":"x}y"}` || messages[1] != `{"b":1}` {
		t.Errorf("unexpected messages: %v", messages)
	}
}

func TestEscapedQuoteInString(t *testing.T) {
	f := NewFramer("test")
	input := `{"a":"he said \"}\" loudly"}{"b":2}`
	messages := f.Push([]byte(input))
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d: %v", len(messages), messages)
	}
	if messages[0] != `{"a":"he said \"}\" loudly"}` {
		t.Errorf("unexpected first message: %s", messages[0])
	}
}

func TestPartialPlainMessageWaits(t *testing.T) {
	f := NewFramer("test")
	if messages := f.Push([]byte(`{"a":{"nested"`)); len(messages) != 0 {
		t.Fatalf("expected no messages for partial input, got %v", messages)
	}
	messages := f.Push([]byte(`:true}}`))
	if len(messages) != 1 || messages[0] != `{"a":{"nested":true}}` {
		t.Errorf("expected completed message, got %v", messages)
	}
}

func TestChunkedDeliveryIdempotence(t *testing.T) {
	payload := []byte(`{"first":{"x":[1,2,3]}}{"second":"with } brace"}`)
	payload = append(payload, compressedFrame(t, `{"third":true}`)...)
	payload = append(payload, []byte(`{"fourth":4}`)...)

	whole := NewFramer("whole").Push(payload)

	for _, chunkSize := range []int{1, 2, 3, 7, 16} {
		t.Run(fmt.Sprintf("chunk%d", chunkSize), func(t *testing.T) {
			f := NewFramer("chunked")
			var chunked []string
			for i := 0; i < len(payload); i += chunkSize {
				end := i + chunkSize
				if end > len(payload) {
					end = len(payload)
				}
				chunked = append(chunked, f.Push(payload[i:end])...)
			}

			if len(chunked) != len(whole) {
				t.Fatalf("expected %d messages, got %d", len(whole), len(chunked))
			}
			for i := range whole {
				if chunked[i] != whole[i] {
					t.Errorf("message %d: expected %s, got %s", i, whole[i], chunked[i])
				}
			}
		})
	}
}

func TestCompressedFrame(t *testing.T) {
	f := NewFramer("test")
	messages := f.Push(compressedFrame(t, `{"compressed":true}`))
	if len(messages) != 1 || messages[0] != `{"compressed":true}` {
		t.Errorf("expected decompressed message, got %v", messages)
	}
}

func TestNoPartialCompressedDecode(t *testing.T) {
	frame := compressedFrame(t, `{"key":"a fairly long value to make the compressed payload non-trivial in size"}`)

	f := NewFramer("test")
	cut := len(frame) - 40
	if messages := f.Push(frame[:cut]); len(messages) != 0 {
		t.Fatalf("expected zero messages with incomplete frame, got %v", messages)
	}
	if f.Buffered() != cut {
		t.Fatalf("expected %d bytes buffered unchanged, got %d", cut, f.Buffered())
	}

	messages := f.Push(frame[cut:])
	if len(messages) != 1 {
		t.Fatalf("expected one message after remaining bytes arrived, got %v", messages)
	}
}

func TestDeclaredLengthLargerThanBuffered(t *testing.T) {
	// 声明 120 字节但只缓冲了 80 字节，不得尝试解码
	frame := []byte("ZSTD:120\n")
	frame = append(frame, make([]byte, 80)...)

	f := NewFramer("test")
	if messages := f.Push(frame); len(messages) != 0 {
		t.Fatalf("expected zero messages, got %v", messages)
	}
	if f.Buffered() != len(frame) {
		t.Errorf("expected buffer unchanged at %d bytes, got %d", len(frame), f.Buffered())
	}
}

func TestMalformedLengthHeaderRecovery(t *testing.T) {
	input := []byte("ZSTD:notanumber\n")
	input = append(input, []byte(`{"after":1}`)...)

	f := NewFramer("test")
	messages := f.Push(input)
	if len(messages) != 1 || messages[0] != `{"after":1}` {
		t.Errorf("expected recovery past malformed header, got %v", messages)
	}
}

func TestGarbagePrefixSkipped(t *testing.T) {
	f := NewFramer("test")
	messages := f.Push([]byte(`#!garbage#!{"ok":1}`))
	if len(messages) != 1 || messages[0] != `{"ok":1}` {
		t.Errorf("expected message after garbage, got %v", messages)
	}
}

func TestGarbageEndingInPartialPrefix(t *testing.T) {
	frame := compressedFrame(t, `{"ok":1}`)

	// 垃圾段结尾的 "ZS" 是下一个压缩帧前缀的开头，不能连同垃圾一起丢弃
	f := NewFramer("test")
	first := append([]byte("#!noise"), frame[:2]...)
	if messages := f.Push(first); len(messages) != 0 {
		t.Fatalf("expected no messages yet, got %v", messages)
	}
	if f.Buffered() != 2 {
		t.Fatalf("expected prefix tail kept buffered, got %d bytes", f.Buffered())
	}

	messages := f.Push(frame[2:])
	if len(messages) != 1 || messages[0] != `{"ok":1}` {
		t.Errorf("expected frame decoded after remaining bytes arrived, got %v", messages)
	}
}

func TestInvalidJSONSkipped(t *testing.T) {
	f := NewFramer("test")
	messages := f.Push([]byte(`{"bad":}{"good":2}`))
	if len(messages) != 1 || messages[0] != `{"good":2}` {
		t.Errorf("expected only the valid message, got %v", messages)
	}
}

func TestResetClearsBuffer(t *testing.T) {
	f := NewFramer("test")
	f.Push([]byte(`{"partial`))
	f.Reset()
	if f.Buffered() != 0 {
		t.Errorf("expected empty buffer after reset, got %d bytes", f.Buffered())
	}
}

func TestScanObject(t *testing.T) {
	tests := []struct {
		input  string
		end    int
		ok     bool
	}{
		{`{}`, 2, true},
		{`{"a":1}tail`, 7, true},
		{`{"a":"}"}`, 9, true},
		{`{"a":{"b":2}}`, 13, true},
		{`{"open":`, 0, false},
	}

	for _, tt := range tests {
		end, ok := ScanObject([]byte(tt.input))
		if end != tt.end || ok != tt.ok {
			t.Errorf("输入=%q 期望=(%d,%v) 实际=(%d,%v)", tt.input, tt.end, tt.ok, end, ok)
		}
	}
}
