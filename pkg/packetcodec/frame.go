package packetcodec

import "encoding/binary"

// FrameType tags the variant of a Frame within a packet's plaintext.
type FrameType uint8

const (
	FrameData FrameType = iota
	FrameAck
	FrameControl
	FrameFragment
	FrameHandshake
	FrameSessionRotate
)

// frameHeaderSize is the 1-byte type + 1-byte reserved flags +
// 2-byte big-endian body length prefix shared by every frame.
const frameHeaderSize = 4

// ControlSubtype tags the Control frame's subtype byte.
type ControlSubtype uint8

const (
	ControlPing ControlSubtype = iota
	ControlPong
	ControlClose
	ControlReset
)

// HandshakeStage tags the Handshake frame's stage byte.
type HandshakeStage uint8

const (
	HandshakeInit HandshakeStage = iota
	HandshakeResponse
	HandshakeFinish
)

// Frame is a tagged-sum wire frame carried inside one packet's
// plaintext. Concrete variants are DataFrame, AckFrame, ControlFrame,
// FragmentFrame, HandshakeFrame, SessionRotateFrame.
type Frame interface {
	Type() FrameType
	marshalBody() []byte
}

func marshalFrame(f Frame) []byte {
	body := f.marshalBody()
	out := make([]byte, frameHeaderSize+len(body))
	out[0] = byte(f.Type())
	out[1] = 0 // flags, reserved
	binary.BigEndian.PutUint16(out[2:4], uint16(len(body)))
	copy(out[frameHeaderSize:], body)
	return out
}

// DataFrame carries one reliable sequenced application payload.
type DataFrame struct {
	Seq     uint64
	Payload []byte
}

func (f *DataFrame) Type() FrameType { return FrameData }
func (f *DataFrame) marshalBody() []byte {
	out := make([]byte, 8+len(f.Payload))
	binary.BigEndian.PutUint64(out[0:8], f.Seq)
	copy(out[8:], f.Payload)
	return out
}

// AckFrame reports the highest contiguous acknowledged sequence, a
// 64-bit SACK bitmap for the next 64 sequences, and the advertised
// receive window.
type AckFrame struct {
	Ack    uint64
	Bitmap uint64
	Window uint32
}

func (f *AckFrame) Type() FrameType { return FrameAck }
func (f *AckFrame) marshalBody() []byte {
	out := make([]byte, 20)
	binary.BigEndian.PutUint64(out[0:8], f.Ack)
	binary.BigEndian.PutUint64(out[8:16], f.Bitmap)
	binary.BigEndian.PutUint32(out[16:20], f.Window)
	return out
}

// ControlFrame carries a liveness/teardown subtype with a timestamp
// and optional opaque payload.
type ControlFrame struct {
	Subtype   ControlSubtype
	Timestamp uint64
	Payload   []byte
}

func (f *ControlFrame) Type() FrameType { return FrameControl }
func (f *ControlFrame) marshalBody() []byte {
	out := make([]byte, 9+len(f.Payload))
	out[0] = byte(f.Subtype)
	binary.BigEndian.PutUint64(out[1:9], f.Timestamp)
	copy(out[9:], f.Payload)
	return out
}

// FragmentFrame carries one chunk of a larger application message.
type FragmentFrame struct {
	MessageID uint32
	Index     uint16
	Total     uint16
	Payload   []byte
}

func (f *FragmentFrame) Type() FrameType { return FrameFragment }
func (f *FragmentFrame) marshalBody() []byte {
	out := make([]byte, 8+len(f.Payload))
	binary.BigEndian.PutUint32(out[0:4], f.MessageID)
	binary.BigEndian.PutUint16(out[4:6], f.Index)
	binary.BigEndian.PutUint16(out[6:8], f.Total)
	copy(out[8:], f.Payload)
	return out
}

// HandshakeFrame wraps one stage of the handshake envelope.
type HandshakeFrame struct {
	Stage   HandshakeStage
	Payload []byte
}

func (f *HandshakeFrame) Type() FrameType { return FrameHandshake }
func (f *HandshakeFrame) marshalBody() []byte {
	out := make([]byte, 1+len(f.Payload))
	out[0] = byte(f.Stage)
	copy(out[1:], f.Payload)
	return out
}

// SessionRotateFrame announces a new session id to activate at a given
// sender sequence number.
type SessionRotateFrame struct {
	NewSessionID  [32]byte
	ActivationSeq uint64
}

func (f *SessionRotateFrame) Type() FrameType { return FrameSessionRotate }
func (f *SessionRotateFrame) marshalBody() []byte {
	out := make([]byte, 40)
	copy(out[0:32], f.NewSessionID[:])
	binary.BigEndian.PutUint64(out[32:40], f.ActivationSeq)
	return out
}

// MarshalFrames serializes frames sequentially into one plaintext.
func MarshalFrames(frames []Frame) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, marshalFrame(f)...)
	}
	return out
}

// ParseFrames parses a plaintext into a sequence of frames, consuming
// it entirely. Any malformed prefix length, unknown type, or trailing
// bytes that cannot form a complete frame yields KindInvalidFrame or
// KindUnknownFrameType.
func ParseFrames(plaintext []byte) ([]Frame, error) {
	var frames []Frame
	rest := plaintext
	for len(rest) > 0 {
		if len(rest) < frameHeaderSize {
			return nil, newError(KindInvalidFrame, "truncated frame header", nil)
		}
		typ := FrameType(rest[0])
		bodyLen := int(binary.BigEndian.Uint16(rest[2:4]))
		if len(rest) < frameHeaderSize+bodyLen {
			return nil, newError(KindInvalidFrame, "truncated frame body", nil)
		}
		body := rest[frameHeaderSize : frameHeaderSize+bodyLen]

		frame, err := parseFrameBody(typ, body)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
		rest = rest[frameHeaderSize+bodyLen:]
	}
	return frames, nil
}

func parseFrameBody(typ FrameType, body []byte) (Frame, error) {
	switch typ {
	case FrameData:
		if len(body) < 8 {
			return nil, newError(KindInvalidFrame, "data frame too short", nil)
		}
		payload := append([]byte(nil), body[8:]...)
		return &DataFrame{Seq: binary.BigEndian.Uint64(body[0:8]), Payload: payload}, nil

	case FrameAck:
		if len(body) != 20 {
			return nil, newError(KindInvalidFrame, "ack frame malformed length", nil)
		}
		return &AckFrame{
			Ack:    binary.BigEndian.Uint64(body[0:8]),
			Bitmap: binary.BigEndian.Uint64(body[8:16]),
			Window: binary.BigEndian.Uint32(body[16:20]),
		}, nil

	case FrameControl:
		if len(body) < 9 {
			return nil, newError(KindInvalidFrame, "control frame too short", nil)
		}
		payload := append([]byte(nil), body[9:]...)
		return &ControlFrame{
			Subtype:   ControlSubtype(body[0]),
			Timestamp: binary.BigEndian.Uint64(body[1:9]),
			Payload:   payload,
		}, nil

	case FrameFragment:
		if len(body) < 8 {
			return nil, newError(KindInvalidFrame, "fragment frame too short", nil)
		}
		payload := append([]byte(nil), body[8:]...)
		return &FragmentFrame{
			MessageID: binary.BigEndian.Uint32(body[0:4]),
			Index:     binary.BigEndian.Uint16(body[4:6]),
			Total:     binary.BigEndian.Uint16(body[6:8]),
			Payload:   payload,
		}, nil

	case FrameHandshake:
		if len(body) < 1 {
			return nil, newError(KindInvalidFrame, "handshake frame too short", nil)
		}
		payload := append([]byte(nil), body[1:]...)
		return &HandshakeFrame{Stage: HandshakeStage(body[0]), Payload: payload}, nil

	case FrameSessionRotate:
		if len(body) != 40 {
			return nil, newError(KindInvalidFrame, "session rotate frame malformed length", nil)
		}
		var f SessionRotateFrame
		copy(f.NewSessionID[:], body[0:32])
		f.ActivationSeq = binary.BigEndian.Uint64(body[32:40])
		return &f, nil

	default:
		return nil, newError(KindUnknownFrameType, "unrecognized frame type", nil)
	}
}
