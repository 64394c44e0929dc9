// Package wire implements the fixed 8-byte frame header used on every P2P
// TCP stream: version, start byte, body length, and a reserved field,
// optionally followed by a 32-byte SHA-256 hash for broadcast frames.
package wire

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/shardnode/shardnode/pkg/types"
)

const (
	headerSize   = 8
	hashSize     = 32
	wireVersion  = 1
	reservedZero = 0
)

// ErrProtocol is returned for any malformed header or body per SPEC_FULL §7.
var ErrProtocol = errors.New("wire: protocol error")

// ReadResult is the outcome of TryRead.
type ReadResult int

const (
	NeedMore ReadResult = iota
	Success
	Malformed
)

// Frame produces header+[hash]+body bytes ready to write to a socket.
// broadcastHash is only consulted when startByte is StartByteBroadcast.
func Frame(body []byte, startByte types.StartByte, broadcastHash []byte) []byte {
	out := make([]byte, 0, headerSize+hashSize+len(body))

	header := make([]byte, headerSize)
	header[0] = wireVersion
	header[1] = byte(startByte)
	binary.BigEndian.PutUint32(header[2:6], uint32(len(body)))
	binary.BigEndian.PutUint16(header[6:8], reservedZero)
	out = append(out, header...)

	if startByte == types.StartByteBroadcast {
		h := broadcastHash
		if h == nil {
			sum := sha256.Sum256(body)
			h = sum[:]
		}
		out = append(out, h...)
	}

	out = append(out, body...)
	return out
}

// HashBody computes the SHA-256 digest used for broadcast hash verification.
func HashBody(body []byte) [32]byte {
	return sha256.Sum256(body)
}

// TryRead attempts to parse one frame from the front of buf. maxMessageSize
// bounds body_length on the inbound side (SPEC_FULL §4.1). It returns the
// parsed frame, the number of bytes consumed from buf, the result kind, and
// an error set only when result is Malformed.
func TryRead(buf []byte, maxMessageSize uint32) (types.RawFrame, int, ReadResult, error) {
	if len(buf) < headerSize {
		return types.RawFrame{}, 0, NeedMore, nil
	}

	version := buf[0]
	startByte := types.StartByte(buf[1])
	bodyLen := binary.BigEndian.Uint32(buf[2:6])

	if version != wireVersion {
		return types.RawFrame{}, 0, Malformed, fmt.Errorf("%w: unexpected version %d", ErrProtocol, version)
	}
	if startByte != types.StartByteNormal && startByte != types.StartByteBroadcast && startByte != types.StartByteGossip {
		return types.RawFrame{}, 0, Malformed, fmt.Errorf("%w: unknown start byte 0x%02x", ErrProtocol, byte(startByte))
	}
	if bodyLen > maxMessageSize {
		return types.RawFrame{}, 0, Malformed, fmt.Errorf("%w: body length %d exceeds max %d", ErrProtocol, bodyLen, maxMessageSize)
	}

	offset := headerSize
	hasHash := startByte == types.StartByteBroadcast
	if hasHash {
		offset += hashSize
	}

	total := offset + int(bodyLen)
	if len(buf) < total {
		return types.RawFrame{}, 0, NeedMore, nil
	}

	frame := types.RawFrame{
		StartByte: startByte,
		HasHash:   hasHash,
	}
	if hasHash {
		copy(frame.BroadcastHash[:], buf[headerSize:headerSize+hashSize])
		computed := sha256.Sum256(buf[offset:total])
		if computed != frame.BroadcastHash {
			return types.RawFrame{}, 0, Malformed, fmt.Errorf("%w: broadcast hash mismatch", ErrProtocol)
		}
	}
	frame.Message = append([]byte(nil), buf[offset:total]...)

	return frame, total, Success, nil
}
