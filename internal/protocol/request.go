package protocol

import "fmt"

// EvalHeader asks the engine to evaluate a PHP expression.
type EvalHeader struct {
	Expr         string `msgpack:"expr"`
	ClearGlobals bool   `msgpack:"clear_globals"`
}

// CallHeader asks the engine to call a PHP function.
type CallHeader struct {
	Function string        `msgpack:"function"`
	Args     []interface{} `msgpack:"args"`
}

// RunHeader asks the engine to execute a script file.
type RunHeader struct {
	Path         string `msgpack:"path"`
	ResetGlobals bool   `msgpack:"reset_globals"`
}

var typeNames = map[uint8]string{
	TypeEval:   "EVAL",
	TypeCall:   "CALL",
	TypeRun:    "RUN",
	TypeResult: "RESULT",
	TypeError:  "ERROR",
	TypePing:   "PING",
}

// TypeName names a frame type for errors and logs.
func TypeName(t uint8) string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", t)
}

func encode(typ uint8, streamID uint16, header interface{}, payload []byte) (*Frame, error) {
	headers, err := MarshalMsgpack(header)
	if err != nil {
		return nil, fmt.Errorf("encoding %s headers: %w", TypeName(typ), err)
	}
	return &Frame{
		Type:     typ,
		StreamID: streamID,
		Headers:  headers,
		Payload:  payload,
	}, nil
}

func decode(f *Frame, typ uint8, header interface{}) error {
	if f.Type != typ {
		return fmt.Errorf("expected %s frame, got type %s", TypeName(typ), TypeName(f.Type))
	}
	if err := UnmarshalMsgpack(f.Headers, header); err != nil {
		return fmt.Errorf("decoding %s headers: %w", TypeName(typ), err)
	}
	return nil
}

// EncodeEval creates an EVAL frame.
func EncodeEval(streamID uint16, h *EvalHeader) (*Frame, error) {
	return encode(TypeEval, streamID, h, nil)
}

// DecodeEval extracts the header of an EVAL frame.
func DecodeEval(f *Frame) (*EvalHeader, error) {
	var h EvalHeader
	if err := decode(f, TypeEval, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// EncodeCall creates a CALL frame.
func EncodeCall(streamID uint16, h *CallHeader) (*Frame, error) {
	return encode(TypeCall, streamID, h, nil)
}

// DecodeCall extracts the header of a CALL frame.
func DecodeCall(f *Frame) (*CallHeader, error) {
	var h CallHeader
	if err := decode(f, TypeCall, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// EncodeRun creates a RUN frame.
func EncodeRun(streamID uint16, h *RunHeader) (*Frame, error) {
	return encode(TypeRun, streamID, h, nil)
}

// DecodeRun extracts the header of a RUN frame.
func DecodeRun(f *Frame) (*RunHeader, error) {
	var h RunHeader
	if err := decode(f, TypeRun, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
