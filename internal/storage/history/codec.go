package history

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/pierrec/lz4"
	"github.com/ugorji/go/codec"
)

// Record encoding: one header byte, the uvarint length of the msgpack
// payload, then the payload either raw or lz4 block-compressed.
const (
	encodingRaw byte = 0
	encodingLZ4 byte = 1
)

// minCompressSize skips compression for payloads too small to benefit.
const minCompressSize = 64

// maxRecordSize bounds the declared payload length of a stored record.
// An lz4 block cannot expand by more than maxLZ4Ratio.
const (
	maxRecordSize = 64 << 20
	maxLZ4Ratio   = 255
)

var msgpackHandle = newHandle()

func newHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	h.Canonical = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return h
}

func encode(v interface{}) ([]byte, error) {
	var payload []byte
	if err := codec.NewEncoderBytes(&payload, msgpackHandle).Encode(v); err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	return compress(payload)
}

func decode(data []byte, v interface{}) error {
	payload, err := decompress(data)
	if err != nil {
		return err
	}
	if err := codec.NewDecoderBytes(payload, msgpackHandle).Decode(v); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	return nil
}

func compress(payload []byte) ([]byte, error) {
	header := make([]byte, 1+binary.MaxVarintLen64)
	n := 1 + binary.PutUvarint(header[1:], uint64(len(payload)))

	if len(payload) >= minCompressSize {
		buf := make([]byte, lz4.CompressBlockBound(len(payload)))
		size, err := lz4.CompressBlock(payload, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compression failed: %w", err)
		}
		// size 0 means the payload is incompressible
		if size > 0 && size < len(payload) {
			header[0] = encodingLZ4
			return append(header[:n], buf[:size]...), nil
		}
	}
	header[0] = encodingRaw
	return append(header[:n], payload...), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: short record", ErrCorrupt)
	}
	rawLen, n := binary.Uvarint(data[1:])
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad length", ErrCorrupt)
	}
	body := data[1+n:]
	if rawLen > maxRecordSize {
		return nil, fmt.Errorf("%w: length %d exceeds %d", ErrCorrupt, rawLen, maxRecordSize)
	}

	switch data[0] {
	case encodingRaw:
		if uint64(len(body)) != rawLen {
			return nil, fmt.Errorf("%w: length %d, want %d", ErrCorrupt, len(body), rawLen)
		}
		return body, nil
	case encodingLZ4:
		if rawLen > uint64(len(body))*maxLZ4Ratio {
			return nil, fmt.Errorf("%w: length %d from %d compressed bytes", ErrCorrupt, rawLen, len(body))
		}
		out := make([]byte, rawLen)
		size, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompression failed: %w", err)
		}
		if uint64(size) != rawLen {
			return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrCorrupt, size, rawLen)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %d", ErrCorrupt, data[0])
	}
}
