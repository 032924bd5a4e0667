package protocol

import (
	"bytes"
	"testing"

	"github.com/imgrevise/imgrevise/operation"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		op   operation.Operation
	}{
		{"rotate90", operation.Rotate{Degrees: 90}},
		{"rotate180", operation.Rotate{Degrees: 180}},
		{"rotate270", operation.Rotate{Degrees: 270}},
		{"flip_h", operation.Flip{Horizontal: true}},
		{"flip_v", operation.Flip{Vertical: true}},
		{"flip_both", operation.Flip{Horizontal: true, Vertical: true}},
		{"resize_both", operation.Resize{Width: 800, Height: 600}},
		{"resize_width_only", operation.Resize{Width: 800}},
		{"compress", operation.Compress{Quality: 72}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := Encode(tc.op)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tc.op {
				t.Fatalf("round trip mismatch: got %#v, want %#v", got, tc.op)
			}
		})
	}
}

// TestResizeExactFrame pins down the exact byte layout for a RESIZE width=800
// operation: 12-byte header + 8-byte payload, little-endian throughout.
func TestResizeExactFrame(t *testing.T) {
	op := operation.Resize{Width: 800, Height: 0}
	frame, err := Encode(op)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(frame) != headerSize+8 {
		t.Fatalf("frame length = %d, want %d", len(frame), headerSize+8)
	}

	wantPayload := []byte{0x20, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00} // width=800 LE, height=0
	gotPayload := frame[headerSize:]
	if !bytes.Equal(gotPayload, wantPayload) {
		t.Fatalf("payload = % x, want % x", gotPayload, wantPayload)
	}

	if frame[0] != 1 || frame[1] != 0 {
		t.Fatalf("version bytes = % x, want version 1", frame[0:2])
	}
	if frame[2] != byte(operation.TypeResize) || frame[3] != 0 {
		t.Fatalf("op_type bytes = % x, want resize (3)", frame[2:4])
	}
}

func TestDecodeTooShort(t *testing.T) {
	if _, err := Decode(make([]byte, headerSize-1)); err == nil {
		t.Fatal("expected error for short frame")
	}
}

func TestDecodeTamperedCRC(t *testing.T) {
	frame, err := Encode(operation.Rotate{Degrees: 90})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	tampered := append([]byte(nil), frame...)
	tampered[headerSize] ^= 0xFF // flip the payload byte without updating CRC

	if _, err := Decode(tampered); err == nil {
		t.Fatal("expected crc mismatch error for tampered payload")
	}
}

func TestDecodeBadVersion(t *testing.T) {
	frame, err := Encode(operation.Compress{Quality: 50})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	frame[0] = 9
	if _, err := Decode(frame); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestDecodePayloadLenOverrun(t *testing.T) {
	frame, err := Encode(operation.Compress{Quality: 50})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	frame[4] = 0xFF // blow up payload_len far past the actual buffer
	if _, err := Decode(frame); err == nil {
		t.Fatal("expected error for payload_len overrun")
	}
}

func TestEncodeRejectsInvalidOperation(t *testing.T) {
	if _, err := Encode(operation.Rotate{Degrees: 45}); err == nil {
		t.Fatal("expected validation error for invalid rotate degrees")
	}
	if _, err := Encode(operation.Resize{Width: 100}); err == nil {
		t.Fatal("expected validation error for width below minimum")
	}
	if _, err := Encode(operation.Compress{Quality: 5}); err == nil {
		t.Fatal("expected validation error for quality below minimum")
	}
}
