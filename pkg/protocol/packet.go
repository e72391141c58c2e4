// Package protocol implements the binary packet codec of the live danmaku service.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// HeaderLen is the fixed size of a packet header in bytes.
const HeaderLen = 16

// ErrMalformed is returned when a buffer does not hold well-formed packets.
var ErrMalformed = errors.New("malformed packet")

// Operation identifies what a packet carries.
type Operation uint32

const (
	OpHeartbeat      Operation = 2
	OpHeartbeatReply Operation = 3
	OpMessage        Operation = 5
	OpJoin           Operation = 7
	OpWelcome        Operation = 8
)

// String returns the string representation of Operation
func (op Operation) String() string {
	switch op {
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpHeartbeatReply:
		return "HEARTBEAT_REPLY"
	case OpMessage:
		return "MESSAGE"
	case OpJoin:
		return "JOIN"
	case OpWelcome:
		return "WELCOME"
	default:
		return fmt.Sprintf("OP(%d)", uint32(op))
	}
}

// Version describes how a packet body is encoded.
type Version uint16

const (
	VersionJSON   Version = 0
	VersionInt    Version = 1
	VersionZlib   Version = 2
	VersionBrotli Version = 3
)

// String returns the string representation of Version
func (v Version) String() string {
	switch v {
	case VersionJSON:
		return "JSON"
	case VersionInt:
		return "INT"
	case VersionZlib:
		return "ZLIB"
	case VersionBrotli:
		return "BROTLI"
	default:
		return fmt.Sprintf("VERSION(%d)", uint16(v))
	}
}

// Header is the fixed 16-byte big-endian packet header.
type Header struct {
	PacketLen uint32
	HeaderLen uint16
	Version   Version
	Op        Operation
	Sequence  uint32
}

// RawPacket is a packet split off a buffer but not yet interpreted.
type RawPacket struct {
	Header
	Body []byte
}

// Kind is the logical kind of a decoded packet.
type Kind int

const (
	KindWelcome Kind = iota
	KindHeartbeat
	KindMessage
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindWelcome:
		return "welcome"
	case KindHeartbeat:
		return "heartbeat"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Packet is a decoded unit. Online is set for KindHeartbeat; Payload and Raw
// are set for KindMessage.
type Packet struct {
	Kind    Kind
	Online  int
	Payload *structpb.Struct
	Raw     []byte
}

// Pack builds one packet with the given operation, version and body.
func Pack(op Operation, ver Version, body []byte) []byte {
	buf := make([]byte, HeaderLen+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)))
	binary.BigEndian.PutUint16(buf[4:6], HeaderLen)
	binary.BigEndian.PutUint16(buf[6:8], uint16(ver))
	binary.BigEndian.PutUint32(buf[8:12], uint32(op))
	binary.BigEndian.PutUint32(buf[12:16], 1)
	copy(buf[HeaderLen:], body)
	return buf
}

// Unpack splits a buffer holding one or more concatenated packets.
// Packets read before a malformed header are returned along with the error.
func Unpack(buf []byte) ([]RawPacket, error) {
	var packets []RawPacket
	for off := 0; off < len(buf); {
		rest := buf[off:]
		if len(rest) < HeaderLen {
			return packets, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(rest))
		}
		h := Header{
			PacketLen: binary.BigEndian.Uint32(rest[0:4]),
			HeaderLen: binary.BigEndian.Uint16(rest[4:6]),
			Version:   Version(binary.BigEndian.Uint16(rest[6:8])),
			Op:        Operation(binary.BigEndian.Uint32(rest[8:12])),
			Sequence:  binary.BigEndian.Uint32(rest[12:16]),
		}
		if h.HeaderLen < HeaderLen || uint32(h.HeaderLen) > h.PacketLen {
			return packets, fmt.Errorf("%w: header length %d", ErrMalformed, h.HeaderLen)
		}
		if uint64(h.PacketLen) > uint64(len(rest)) {
			return packets, fmt.Errorf("%w: packet length %d exceeds %d buffered bytes", ErrMalformed, h.PacketLen, len(rest))
		}
		packets = append(packets, RawPacket{Header: h, Body: rest[h.HeaderLen:h.PacketLen]})
		off += int(h.PacketLen)
	}
	return packets, nil
}
