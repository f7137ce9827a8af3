package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// DefaultThreshold is the payload size at which compression kicks in.
// Below it the frame overhead outweighs the saving.
const DefaultThreshold = 1024

// Algorithm identifies the compressor. The value is written as the first
// byte of every compressed frame, so existing values must not change.
type Algorithm uint8

const (
	AlgorithmZstd Algorithm = 1
	AlgorithmLZ4  Algorithm = 2
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", a)
	}
}

// ParseAlgorithm maps a config value to an Algorithm. Empty means zstd.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", "zstd":
		return AlgorithmZstd, nil
	case "lz4":
		return AlgorithmLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression algorithm: %q", name)
	}
}

// MaxPayload bounds the declared length of a compressed frame.
const MaxPayload = 64 << 20

var ErrCorrupt = errors.New("codec: corrupt frame")

// zstd.Encoder and zstd.Decoder are safe for concurrent use when driven
// through EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	// refuse to inflate any frame past MaxPayload, whatever its header claims
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayload))
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Compressor turns payloads into their stored wire form. It holds only
// immutable settings.
//
// Compressed frame layout: algorithm tag (1 byte), original length
// (uvarint), compressed bytes. Uncompressed payloads are stored verbatim.
type Compressor struct {
	Threshold int
	Algorithm Algorithm
}

func NewCompressor(algorithm Algorithm) Compressor {
	if algorithm == 0 {
		algorithm = AlgorithmZstd
	}
	return Compressor{Threshold: DefaultThreshold, Algorithm: algorithm}
}

// Encode returns the wire bytes for payload and whether they are
// compressed. Payloads that do not shrink are stored as-is.
func (c Compressor) Encode(payload []byte) ([]byte, bool, error) {
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if len(payload) < threshold {
		return clone(payload), false, nil
	}

	var body []byte
	switch c.Algorithm {
	case AlgorithmZstd, 0:
		body = zstdEncoder.EncodeAll(payload, nil)
	case AlgorithmLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(payload)))
		n, err := lz4.CompressBlock(payload, dst, nil)
		if err != nil {
			return nil, false, fmt.Errorf("lz4 compress: %w", err)
		}
		body = dst[:n]
	default:
		return nil, false, fmt.Errorf("unsupported compression algorithm: %s", c.Algorithm)
	}

	algo := c.Algorithm
	if algo == 0 {
		algo = AlgorithmZstd
	}
	header := make([]byte, 1, 1+binary.MaxVarintLen64)
	header[0] = byte(algo)
	header = binary.AppendUvarint(header, uint64(len(payload)))

	// lz4 reports 0 for incompressible input.
	if len(body) == 0 || len(header)+len(body) >= len(payload) {
		return clone(payload), false, nil
	}
	return append(header, body...), true, nil
}

// Decode inverts Encode.
func (c Compressor) Decode(wire []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return clone(wire), nil
	}
	if len(wire) < 2 {
		return nil, ErrCorrupt
	}
	algo := Algorithm(wire[0])
	size, n := binary.Uvarint(wire[1:])
	if n <= 0 || size > MaxPayload {
		return nil, ErrCorrupt
	}
	body := wire[1+n:]

	switch algo {
	case AlgorithmZstd:
		out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d: %w", len(out), size, ErrCorrupt)
		}
		return out, nil
	case AlgorithmLZ4:
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d: %w", read, size, ErrCorrupt)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown algorithm tag %d: %w", wire[0], ErrCorrupt)
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
