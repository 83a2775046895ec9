package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriteReadFrameRoundtrip(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{
			name: "eval frame",
			frame: &Frame{
				Type:     TypeEval,
				Flags:    0,
				StreamID: 1,
				Headers:  []byte(`{"expr":"1+1"}`),
			},
		},
		{
			name: "result frame",
			frame: &Frame{
				Type:     TypeResult,
				Flags:    0,
				StreamID: 1,
				Headers:  []byte(`{"type":"int"}`),
				Payload:  []byte("<html>OK</html>"),
			},
		},
		{
			name:  "ping",
			frame: NewPingFrame(),
		},
		{
			name:  "pong",
			frame: NewPongFrame(),
		},
		{
			name:  "error",
			frame: NewErrorFrame(9, "something went wrong"),
		},
		{
			name: "empty headers and payload",
			frame: &Frame{
				Type:     TypeRun,
				Flags:    0,
				StreamID: 0,
				Headers:  nil,
				Payload:  nil,
			},
		},
		{
			name: "with flags",
			frame: &Frame{
				Type:     TypeCall,
				Flags:    FlagNoOutput,
				StreamID: 100,
				Headers:  []byte("hdr"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteFrame(&buf, tt.frame); err != nil {
				t.Fatalf("WriteFrame: %v", err)
			}

			got, err := ReadFrame(&buf)
			if err != nil {
				t.Fatalf("ReadFrame: %v", err)
			}

			if got.Type != tt.frame.Type {
				t.Errorf("Type: got %d, want %d", got.Type, tt.frame.Type)
			}
			if got.Flags != tt.frame.Flags {
				t.Errorf("Flags: got %d, want %d", got.Flags, tt.frame.Flags)
			}
			if got.StreamID != tt.frame.StreamID {
				t.Errorf("StreamID: got %d, want %d", got.StreamID, tt.frame.StreamID)
			}
			if !bytes.Equal(got.Headers, tt.frame.Headers) {
				t.Errorf("Headers: got %q, want %q", got.Headers, tt.frame.Headers)
			}
			if !bytes.Equal(got.Payload, tt.frame.Payload) {
				t.Errorf("Payload: got %q, want %q", got.Payload, tt.frame.Payload)
			}
		})
	}
}

func TestInvalidMagicBytes(t *testing.T) {
	data := make([]byte, FrameHeaderSize)
	data[0] = 0xFF
	data[1] = 0xFF
	data[2] = Version

	_, err := ReadFrame(bytes.NewReader(data))
	if err == nil {
		t.Error("expected error for invalid magic bytes")
	}
}

func TestInvalidVersion(t *testing.T) {
	data := make([]byte, FrameHeaderSize)
	data[0] = Magic[0]
	data[1] = Magic[1]
	data[2] = 0xFF // invalid version

	_, err := ReadFrame(bytes.NewReader(data))
	if err == nil {
		t.Error("expected error for invalid version")
	}
}

func TestTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, &Frame{Type: TypeResult, Payload: []byte("complete")}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	data := buf.Bytes()[:buf.Len()-3]

	if _, err := ReadFrame(bytes.NewReader(data)); err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestOversizedPayloadRejected(t *testing.T) {
	data := make([]byte, FrameHeaderSize)
	data[0] = Magic[0]
	data[1] = Magic[1]
	data[2] = Version
	data[3] = TypeResult
	data[10], data[11], data[12], data[13] = 0xFF, 0xFF, 0xFF, 0xFF

	_, err := ReadFrame(bytes.NewReader(data))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestLargePayload(t *testing.T) {
	payload := make([]byte, 1024*1024) // 1MB
	for i := range payload {
		payload[i] = byte(i % 256)
	}

	frame := &Frame{
		Type:    TypeResult,
		Payload: payload,
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	if !bytes.Equal(got.Payload, payload) {
		t.Error("payload mismatch for large payload")
	}
}

func roundtrip(t *testing.T, f *Frame) *Frame {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return got
}

func TestEvalEncodeDecode(t *testing.T) {
	frame, err := EncodeEval(3, &EvalHeader{Expr: "strtoupper('x')", ClearGlobals: true})
	if err != nil {
		t.Fatalf("EncodeEval: %v", err)
	}

	got, err := DecodeEval(roundtrip(t, frame))
	if err != nil {
		t.Fatalf("DecodeEval: %v", err)
	}
	if got.Expr != "strtoupper('x')" || !got.ClearGlobals {
		t.Errorf("unexpected header %+v", got)
	}
}

func TestCallEncodeDecode(t *testing.T) {
	frame, err := EncodeCall(4, &CallHeader{
		Function: "str_repeat",
		Args:     []interface{}{"ab", 3, 1.5, true, nil, []interface{}{"x"}},
	})
	if err != nil {
		t.Fatalf("EncodeCall: %v", err)
	}

	read := roundtrip(t, frame)
	if read.StreamID != 4 {
		t.Errorf("StreamID: got %d, want 4", read.StreamID)
	}
	got, err := DecodeCall(read)
	if err != nil {
		t.Fatalf("DecodeCall: %v", err)
	}
	if got.Function != "str_repeat" {
		t.Errorf("Function: got %s", got.Function)
	}
	if len(got.Args) != 6 {
		t.Fatalf("Args: got %d, want 6", len(got.Args))
	}
	if got.Args[0] != "ab" {
		t.Errorf("Args[0]: got %#v", got.Args[0])
	}
	if got.Args[1] != int64(3) {
		t.Errorf("Args[1]: integers decode as int64, got %#v", got.Args[1])
	}
	if got.Args[2] != 1.5 {
		t.Errorf("Args[2]: got %#v", got.Args[2])
	}
	if got.Args[3] != true || got.Args[4] != nil {
		t.Errorf("Args[3:5]: got %#v %#v", got.Args[3], got.Args[4])
	}
}

func TestRunEncodeDecode(t *testing.T) {
	frame, err := EncodeRun(5, &RunHeader{Path: "/srv/app/cron.php", ResetGlobals: true})
	if err != nil {
		t.Fatalf("EncodeRun: %v", err)
	}
	got, err := DecodeRun(roundtrip(t, frame))
	if err != nil {
		t.Fatalf("DecodeRun: %v", err)
	}
	if got.Path != "/srv/app/cron.php" || !got.ResetGlobals {
		t.Errorf("unexpected header %+v", got)
	}
}

func TestResultEncodeDecode(t *testing.T) {
	frame, err := EncodeResult(6, &ResultHeader{
		Type:  "array",
		Value: map[string]interface{}{"name": "php", "answer": 42},
		Dump:  "array (...)",
	}, []byte("printed"))
	if err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}

	got, output, err := DecodeResult(roundtrip(t, frame))
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if got.Type != "array" || got.Dump != "array (...)" {
		t.Errorf("unexpected header %+v", got)
	}
	value, ok := got.Value.(map[string]interface{})
	if !ok {
		t.Fatalf("Value: got %T", got.Value)
	}
	if value["name"] != "php" || value["answer"] != int64(42) {
		t.Errorf("Value: got %#v", value)
	}
	if string(output) != "printed" {
		t.Errorf("output: got %q", output)
	}
}

func TestDecodeWrongFrameType(t *testing.T) {
	frame := &Frame{Type: TypePing}
	if _, err := DecodeEval(frame); err == nil {
		t.Error("expected error decoding PING as EVAL")
	}
	if _, err := DecodeCall(frame); err == nil {
		t.Error("expected error decoding PING as CALL")
	}
	if _, err := DecodeRun(frame); err == nil {
		t.Error("expected error decoding PING as RUN")
	}
	if _, _, err := DecodeResult(frame); err == nil {
		t.Error("expected error decoding PING as RESULT")
	}
}

func TestTypeNameAndPing(t *testing.T) {
	if TypeName(TypeEval) != "EVAL" || TypeName(0x7f) != "0x7f" {
		t.Errorf("unexpected type names %q %q", TypeName(TypeEval), TypeName(0x7f))
	}
	if !IsPing(NewPingFrame()) || IsPing(NewPongFrame()) {
		t.Error("ping/pong detection is wrong")
	}
}

func TestAppendFrameKeepsPrefix(t *testing.T) {
	prefix := []byte("xx")
	out, err := AppendFrame(prefix, NewErrorFrame(7, "boom"))
	if err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	if !bytes.HasPrefix(out, prefix) {
		t.Fatalf("prefix lost: %q", out[:2])
	}
	if len(out) != len(prefix)+FrameHeaderSize+len("boom") {
		t.Errorf("length: got %d", len(out))
	}

	got, err := ReadFrame(bytes.NewReader(out[len(prefix):]))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Type != TypeError || got.StreamID != 7 || string(got.Payload) != "boom" {
		t.Errorf("unexpected frame %+v", got)
	}
}
