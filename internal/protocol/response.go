package protocol

// ResultHeader describes the value a job produced. Value holds the value
// exported to plain data; Dump is its var_export rendering. Captured
// output travels as the frame payload.
type ResultHeader struct {
	Type      string      `msgpack:"type"`
	Value     interface{} `msgpack:"value"`
	Dump      string      `msgpack:"dump,omitempty"`
	Exception bool        `msgpack:"exception,omitempty"`
}

// EncodeResult creates a RESULT frame answering streamID.
func EncodeResult(streamID uint16, h *ResultHeader, output []byte) (*Frame, error) {
	return encode(TypeResult, streamID, h, output)
}

// DecodeResult extracts the header and captured output of a RESULT frame.
func DecodeResult(f *Frame) (*ResultHeader, []byte, error) {
	var h ResultHeader
	if err := decode(f, TypeResult, &h); err != nil {
		return nil, nil, err
	}
	return &h, f.Payload, nil
}
