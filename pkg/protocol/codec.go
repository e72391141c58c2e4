package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zlib"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// MaxInflatedSize bounds the size of a decompressed batch body.
const MaxInflatedSize = 64 << 20

// maxNesting bounds how many compressed batches may be nested in each other.
const maxNesting = 4

// JoinRequest is the body of the join handshake.
type JoinRequest struct {
	UID           int64  `json:"uid"`
	RoomID        int64  `json:"roomid"`
	ProtoVer      int    `json:"protover"`
	Platform      string `json:"platform"`
	ClientVersion string `json:"clientver"`
	Type          int    `json:"type"`
	Key           string `json:"key,omitempty"`
	Buvid         string `json:"buvid,omitempty"`
}

// EncodeJoin encodes the join handshake packet.
func EncodeJoin(req JoinRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode join request: %w", err)
	}
	return Pack(OpJoin, VersionInt, body), nil
}

// DecodeJoin decodes the body of a join packet.
func DecodeJoin(body []byte) (JoinRequest, error) {
	var req JoinRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("%w: join body: %v", ErrMalformed, err)
	}
	return req, nil
}

// EncodeHeartbeat encodes a heartbeat request packet.
func EncodeHeartbeat() []byte {
	return Pack(OpHeartbeat, VersionInt, nil)
}

// EncodeHeartbeatReply encodes a heartbeat reply carrying the viewer count.
func EncodeHeartbeatReply(online int) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, uint32(online))
	return Pack(OpHeartbeatReply, VersionInt, body)
}

// EncodeWelcome encodes the join acknowledgement.
func EncodeWelcome() []byte {
	return Pack(OpWelcome, VersionInt, []byte(`{"code":0}`))
}

// EncodeMessage encodes v as JSON into a message packet.
func EncodeMessage(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return Pack(OpMessage, VersionJSON, body), nil
}

// Compress wraps already packed packets into one compressed batch packet.
func Compress(ver Version, inner []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch ver {
	case VersionZlib:
		w = zlib.NewWriter(&buf)
	case VersionBrotli:
		w = brotli.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("version %s is not a compressed version", ver)
	}
	if _, err := w.Write(inner); err != nil {
		return nil, fmt.Errorf("failed to compress batch: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress batch: %w", err)
	}
	return Pack(OpMessage, ver, buf.Bytes()), nil
}

// Decompress inflates the body of a compressed batch packet.
func Decompress(ver Version, body []byte) ([]byte, error) {
	var r io.Reader
	switch ver {
	case VersionZlib:
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: zlib: %v", ErrMalformed, err)
		}
		defer zr.Close()
		r = zr
	case VersionBrotli:
		r = brotli.NewReader(bytes.NewReader(body))
	default:
		return nil, fmt.Errorf("version %s is not a compressed version", ver)
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxInflatedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate %s: %v", ErrMalformed, ver, err)
	}
	if len(data) > MaxInflatedSize {
		return nil, fmt.Errorf("%w: inflated batch exceeds %d bytes", ErrMalformed, MaxInflatedSize)
	}
	return data, nil
}

// Decode splits buf into packets, inflating compressed batches, and returns
// them in wire order. A packet with a bad body is skipped and the rest are
// still decoded; a bad header stops the buffer there. Every packet decoded is
// returned along with the first error.
func Decode(buf []byte) ([]Packet, error) {
	return decode(buf, nil, 0)
}

// decode skips a packet whose body is bad and keeps going; only a framing
// error from Unpack ends the buffer early. The first error is returned.
func decode(buf []byte, out []Packet, depth int) ([]Packet, error) {
	raws, err := Unpack(buf)
	var first error
	for _, raw := range raws {
		var derr error
		out, derr = decodeRaw(raw, out, depth)
		if derr != nil && first == nil {
			first = derr
		}
	}
	if first == nil {
		first = err
	}
	return out, first
}

func decodeRaw(raw RawPacket, out []Packet, depth int) ([]Packet, error) {
	if raw.Version == VersionZlib || raw.Version == VersionBrotli {
		if depth >= maxNesting {
			return out, fmt.Errorf("%w: batches nested deeper than %d", ErrMalformed, maxNesting)
		}
		inner, err := Decompress(raw.Version, raw.Body)
		if err != nil {
			return out, err
		}
		return decode(inner, out, depth+1)
	}

	switch raw.Op {
	case OpWelcome:
		return append(out, Packet{Kind: KindWelcome}), nil
	case OpHeartbeatReply:
		if len(raw.Body) < 4 {
			return out, fmt.Errorf("%w: heartbeat reply body of %d bytes", ErrMalformed, len(raw.Body))
		}
		online := int(binary.BigEndian.Uint32(raw.Body[:4]))
		return append(out, Packet{Kind: KindHeartbeat, Online: online}), nil
	case OpMessage:
		payload, err := decodePayload(raw.Body)
		if err != nil {
			return out, err
		}
		return append(out, Packet{Kind: KindMessage, Payload: payload, Raw: raw.Body}), nil
	default:
		return out, nil
	}
}

// decodePayload parses a message body into a Struct. Bodies protojson rejects
// for invalid UTF-8 or duplicate keys are parsed again with encoding/json:
// invalid bytes become U+FFFD and the last duplicate key wins.
func decodePayload(body []byte) (*structpb.Struct, error) {
	payload := &structpb.Struct{}
	err := protojson.Unmarshal(body, payload)
	if err == nil {
		return payload, nil
	}

	var fields map[string]any
	if jerr := json.Unmarshal(body, &fields); jerr != nil || fields == nil {
		return nil, fmt.Errorf("%w: message body: %v", ErrMalformed, err)
	}
	payload, serr := structpb.NewStruct(fields)
	if serr != nil {
		return nil, fmt.Errorf("%w: message body: %v", ErrMalformed, serr)
	}
	return payload, nil
}
