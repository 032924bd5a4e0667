// Package protocol implements IEv1, the binary wire format used to encode
// revision operations. Layout (all integers little-endian):
//
//	offset 0   version     uint16  (always 1)
//	offset 2   op_type     uint16  (operation.Type)
//	offset 4   payload_len uint32  (length of the payload that follows the header)
//	offset 8   crc32       uint32  (IEEE CRC-32 of the payload only)
//	offset 12  payload     []byte  (payload_len bytes, operation-specific)
package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	apperrors "github.com/imgrevise/imgrevise/errors"
	"github.com/imgrevise/imgrevise/operation"
)

const (
	Version    uint16 = 1
	headerSize        = 12
)

const (
	rotateCode90  byte = 1
	rotateCode180 byte = 2
	rotateCode270 byte = 3

	flipBitHorizontal byte = 1 << 0
	flipBitVertical   byte = 1 << 1
)

// Encode serialises op into an IEv1 frame.
func Encode(op operation.Operation) ([]byte, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	payload, err := encodePayload(op)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], Version)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(op.OpType()))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[8:12], crc32.ChecksumIEEE(payload))
	copy(buf[headerSize:], payload)
	return buf, nil
}

// Decode parses an IEv1 frame and returns the operation it describes.
// It verifies the frame length, the version, that payload_len does not
// overrun the buffer, and the CRC-32 before interpreting the payload.
func Decode(frame []byte) (operation.Operation, error) {
	if len(frame) < headerSize {
		return nil, protoErr("decode", fmt.Errorf("frame too short: %d bytes, need at least %d", len(frame), headerSize))
	}

	version := binary.LittleEndian.Uint16(frame[0:2])
	if version != Version {
		return nil, protoErr("decode", fmt.Errorf("unsupported version %d", version))
	}

	opType := operation.Type(binary.LittleEndian.Uint16(frame[2:4]))
	payloadLen := binary.LittleEndian.Uint32(frame[4:8])
	wantCRC := binary.LittleEndian.Uint32(frame[8:12])

	if uint64(payloadLen) > uint64(len(frame)-headerSize) {
		return nil, protoErr("decode", fmt.Errorf("payload_len %d overruns frame (have %d bytes after header)", payloadLen, len(frame)-headerSize))
	}

	payload := frame[headerSize : headerSize+int(payloadLen)]
	if gotCRC := crc32.ChecksumIEEE(payload); gotCRC != wantCRC {
		return nil, protoErr("decode", fmt.Errorf("crc32 mismatch: frame says %#x, computed %#x", wantCRC, gotCRC))
	}

	op, err := decodePayload(opType, payload)
	if err != nil {
		return nil, err
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

func encodePayload(op operation.Operation) ([]byte, error) {
	switch v := op.(type) {
	case operation.Rotate:
		var code byte
		switch v.Degrees {
		case 90:
			code = rotateCode90
		case 180:
			code = rotateCode180
		case 270:
			code = rotateCode270
		}
		return []byte{code}, nil

	case operation.Flip:
		var mask byte
		if v.Horizontal {
			mask |= flipBitHorizontal
		}
		if v.Vertical {
			mask |= flipBitVertical
		}
		return []byte{mask}, nil

	case operation.Resize:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(v.Width))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(v.Height))
		return buf, nil

	case operation.Compress:
		return []byte{byte(v.Quality)}, nil

	default:
		return nil, protoErr("encode", fmt.Errorf("unknown operation type %T", op))
	}
}

func decodePayload(opType operation.Type, payload []byte) (operation.Operation, error) {
	switch opType {
	case operation.TypeRotate:
		if len(payload) != 1 {
			return nil, protoErr("decode", fmt.Errorf("rotate payload must be 1 byte, got %d", len(payload)))
		}
		var degrees int
		switch payload[0] {
		case rotateCode90:
			degrees = 90
		case rotateCode180:
			degrees = 180
		case rotateCode270:
			degrees = 270
		default:
			return nil, protoErr("decode", fmt.Errorf("invalid rotate code %d", payload[0]))
		}
		return operation.Rotate{Degrees: degrees}, nil

	case operation.TypeFlip:
		if len(payload) != 1 {
			return nil, protoErr("decode", fmt.Errorf("flip payload must be 1 byte, got %d", len(payload)))
		}
		return operation.Flip{
			Horizontal: payload[0]&flipBitHorizontal != 0,
			Vertical:   payload[0]&flipBitVertical != 0,
		}, nil

	case operation.TypeResize:
		if len(payload) != 8 {
			return nil, protoErr("decode", fmt.Errorf("resize payload must be 8 bytes, got %d", len(payload)))
		}
		width := binary.LittleEndian.Uint32(payload[0:4])
		height := binary.LittleEndian.Uint32(payload[4:8])
		return operation.Resize{Width: int(width), Height: int(height)}, nil

	case operation.TypeCompress:
		if len(payload) != 1 {
			return nil, protoErr("decode", fmt.Errorf("compress payload must be 1 byte, got %d", len(payload)))
		}
		return operation.Compress{Quality: int(payload[0])}, nil

	default:
		return nil, protoErr("decode", fmt.Errorf("unknown op_type %d", opType))
	}
}

func protoErr(op string, err error) error {
	return apperrors.New(apperrors.CategoryProtocol, "protocol."+op, err)
}
