// Package aggregator implements the wire codec for weight-delta blobs and
// sample-weighted FedAvg aggregation of a round's submissions.
//
// Wire format for one blob:
//
//	byte 0        magic byte: magicFloat16 (lz4 block, normal path) or
//	              magicFloat32 (uncompressed fallback)
//	uint32 LE     original_size — decompressed payload length in bytes
//	remainder     under magicFloat16, a single raw lz4 block (no framing)
//	              that decompresses to original_size bytes; under
//	              magicFloat32, the payload itself, uncompressed
//
// The decompressed payload is:
//
//	uint32 LE     layer_count
//	per layer (Encode writes them in map iteration order; Decode keys
//	them by name):
//	  uint32 LE     name_len, then name_len bytes of UTF-8 name
//	  uint32 LE     elem_count
//	  values        float16 LE × elem_count (magicFloat16) or
//	               float32 LE × elem_count (magicFloat32)
package aggregator

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/pierrec/lz4/v4"
	"github.com/x448/float16"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

// magicFloat16 marks a blob whose payload is an lz4 block of float16
// layers, the normal path. magicFloat32 marks the uncompressed float32
// fallback taken when the payload fails to compress.
const (
	magicFloat16 = 0x01
	magicFloat32 = 0x00
)

// Codec implements domain.Aggregator's Decode/Encode half.
type Codec struct{}

func (Codec) Decode(blob []byte) (domain.DeltaSet, error) {
	if len(blob) < 5 || (blob[0] != magicFloat16 && blob[0] != magicFloat32) {
		return nil, domain.ErrBadMagicByte
	}
	originalSize := binary.LittleEndian.Uint32(blob[1:5])
	rest := blob[5:]

	var payload []byte
	if blob[0] == magicFloat16 {
		payload = make([]byte, originalSize)
		n, err := lz4.UncompressBlock(rest, payload)
		if err != nil {
			return nil, fmt.Errorf("decompress blob: %w", err)
		}
		if uint32(n) != originalSize {
			return nil, domain.ErrSizeMismatch
		}
	} else {
		if uint32(len(rest)) != originalSize {
			return nil, domain.ErrSizeMismatch
		}
		payload = rest
	}

	return decodePayload(payload, blob[0] == magicFloat16)
}

func decodePayload(payload []byte, float16Values bool) (domain.DeltaSet, error) {
	r := bytes.NewReader(payload)

	numLayers, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read layer count: %w", err)
	}

	elemSize := 4
	if float16Values {
		elemSize = 2
	}

	deltas := make(domain.DeltaSet, numLayers)
	for i := uint32(0); i < numLayers; i++ {
		nameLen, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read name length: %w", err)
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return nil, fmt.Errorf("read layer name: %w", err)
		}
		name := string(nameBuf)

		numElements, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read element count: %w", err)
		}

		raw := make([]byte, int(numElements)*elemSize)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("read layer %q values: %w", name, err)
		}

		values := make([]float32, numElements)
		for j := range values {
			if float16Values {
				bits := binary.LittleEndian.Uint16(raw[j*2:])
				values[j] = float16.Frombits(bits).Float32()
			} else {
				bits := binary.LittleEndian.Uint32(raw[j*4:])
				values[j] = math.Float32frombits(bits)
			}
		}
		deltas[name] = values
	}
	return deltas, nil
}

// Encode writes deltas as an lz4-compressed float16 payload. If the
// payload fails to compress (pathological high-entropy input, where lz4
// returns a zero length), it falls back to the uncompressed float32
// format instead.
func (Codec) Encode(deltas domain.DeltaSet) ([]byte, error) {
	payload := encodePayload(deltas, true)

	compressed := make([]byte, lz4.CompressBlockBound(len(payload)))
	var compressor lz4.Compressor
	clen, err := compressor.CompressBlock(payload, compressed)
	if err != nil {
		return nil, fmt.Errorf("compress blob: %w", err)
	}
	if clen == 0 {
		return encodeFloat32(deltas), nil
	}

	blob := make([]byte, 0, 5+clen)
	blob = append(blob, magicFloat16)
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	blob = append(blob, sizeBuf[:]...)
	blob = append(blob, compressed[:clen]...)
	return blob, nil
}

func encodeFloat32(deltas domain.DeltaSet) []byte {
	payload := encodePayload(deltas, false)
	blob := make([]byte, 0, 5+len(payload))
	blob = append(blob, magicFloat32)
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	blob = append(blob, sizeBuf[:]...)
	blob = append(blob, payload...)
	return blob
}

func encodePayload(deltas domain.DeltaSet, float16Values bool) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(deltas)))

	for name, values := range deltas {
		writeUint32(&buf, uint32(len(name)))
		buf.WriteString(name)
		writeUint32(&buf, uint32(len(values)))

		if float16Values {
			raw := make([]byte, len(values)*2)
			for i, v := range values {
				binary.LittleEndian.PutUint16(raw[i*2:], float16.Fromfloat32(v).Bits())
			}
			buf.Write(raw)
		} else {
			raw := make([]byte, len(values)*4)
			for i, v := range values {
				binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
			}
			buf.Write(raw)
		}
	}
	return buf.Bytes()
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
