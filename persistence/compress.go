package persistence

import (
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Compression identifies the algorithm used to compress journal frames.
// Values are stored in the journal, changing them breaks compatibility.
type Compression uint8

// Compression algorithms.
const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
)

// String returns the name of the algorithm.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression parses the algorithm from its name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, errors.Errorf("unknown compression: %q", name)
	}
}

var errIncompressible = errors.New("data is incompressible")

// zstd encoder and decoder are safe for concurrent use, so they are shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("persistence: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("persistence: zstd decoder initialization failed: " + err.Error())
	}
}

// compress compresses data. If compression does not pay off, data is returned as is with CompressionNone.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	var compressed []byte
	var err error
	switch c {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed, err = compressZstd(data)
	default:
		return nil, 0, errors.Errorf("unsupported compression: %d", c)
	}

	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return compressed, c, nil
}

func decompress(data []byte, c Compression, rawLength int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(data) != rawLength {
			return nil, errors.Errorf("uncompressed frame has %d bytes, expected %d", len(data), rawLength)
		}
		return data, nil
	case CompressionLZ4:
		out := make([]byte, rawLength)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, errors.Wrap(err, "lz4 decompress")
		}
		if n != rawLength {
			return nil, errors.Errorf("lz4 decompress: got %d bytes, expected %d", n, rawLength)
		}
		return out, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, rawLength))
		if err != nil {
			return nil, errors.Wrap(err, "zstd decompress")
		}
		if len(out) != rawLength {
			return nil, errors.Errorf("zstd decompress: got %d bytes, expected %d", len(out), rawLength)
		}
		return out, nil
	default:
		return nil, errors.Errorf("unsupported compression: %d", c)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	out := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, out, nil)
	if err != nil {
		return nil, errors.Wrap(err, "lz4 compress")
	}
	// Zero means lz4 found the data incompressible.
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return out[:n], nil
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}
