// Package compression frames stored objects with an optional compression
// pass. Every frame starts with a one-byte algorithm tag, so objects written
// under one setting stay readable after the setting changes.
package compression

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies the compression applied to a frame. Values are
// persisted; do not renumber.
type Algorithm uint8

const (
	None Algorithm = 0
	Zstd Algorithm = 1
	LZ4  Algorithm = 2
)

// minCompressSize is the payload size below which compression is skipped.
const minCompressSize = 128

var errIncompressible = errors.New("compression: incompressible")

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", a)
	}
}

// ParseAlgorithm parses the config spelling of an algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", "none":
		return None, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression algorithm: %q", name)
	}
}

type Compressor struct {
	algorithm Algorithm
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewCompressor returns a compressor writing frames with algorithm. Level
// only applies to zstd: 1 fastest, 2 default, 3 better compression.
func NewCompressor(algorithm Algorithm, level int) (*Compressor, error) {
	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, err
	}

	// The decoder is always needed: frames from earlier settings may be zstd.
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		encoder.Close()
		return nil, err
	}

	return &Compressor{
		algorithm: algorithm,
		encoder:   encoder,
		decoder:   decoder,
	}, nil
}

// Algorithm returns the algorithm used for new frames.
func (c *Compressor) Algorithm() Algorithm {
	return c.algorithm
}

// Compress returns a framed copy of data. Payloads that are small or do not
// shrink are stored uncompressed.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if c.algorithm == None || len(data) < minCompressSize {
		return frame(None, data), nil
	}

	var (
		compressed []byte
		err        error
	)
	switch c.algorithm {
	case Zstd:
		compressed = c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
		if len(compressed) >= len(data) {
			err = errIncompressible
		}
	case LZ4:
		compressed, err = compressLZ4(data)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", c.algorithm)
	}
	if errors.Is(err, errIncompressible) {
		return frame(None, data), nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+binary.MaxVarintLen64+len(compressed))
	out = append(out, byte(c.algorithm))
	out = binary.AppendUvarint(out, uint64(len(data)))
	return append(out, compressed...), nil
}

// Decompress reverses Compress for any algorithm tag.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decompress: empty frame")
	}

	algorithm := Algorithm(data[0])
	body := data[1:]
	if algorithm == None {
		return body, nil
	}

	size, n := binary.Uvarint(body)
	if n <= 0 {
		return nil, fmt.Errorf("decompress: bad size header")
	}
	body = body[n:]

	switch algorithm {
	case Zstd:
		result, err := c.decoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(result)) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil
	case LZ4:
		return decompressLZ4(body, int(size))
	default:
		return nil, fmt.Errorf("decompress: unknown algorithm %s", algorithm)
	}
}

func (c *Compressor) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}

func frame(algorithm Algorithm, data []byte) []byte {
	out := make([]byte, 1+len(data))
	out[0] = byte(algorithm)
	copy(out[1:], data)
	return out
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}
