package checkpoint

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the compression of a checkpoint payload.
type Codec byte

const (
	None Codec = iota
	Zstd
	LZ4
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	}
	return fmt.Sprintf("Codec(%d)", byte(c))
}

// ParseCodec maps the configuration spelling to a Codec.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "none":
		return None, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	}
	return 0, fmt.Errorf("checkpoint: unknown codec %q", s)
}

// zstd encoders and decoders are built to be reused.
var zstdEncoderPool = sync.Pool{
	New: func() any {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd encoder for pool: %v", err))
		}
		return enc
	},
}

var zstdDecoderPool = sync.Pool{
	New: func() any {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder for pool: %v", err))
		}
		return dec
	},
}

var lz4CompressorPool = sync.Pool{
	New: func() any {
		return &lz4.Compressor{}
	},
}

// errIncompressible is returned by the lz4 block compressor when the block
// would grow.
var errIncompressible = errors.New("checkpoint: payload is incompressible")

func compress(c Codec, raw []byte) ([]byte, error) {
	switch c {
	case None:
		return raw, nil
	case Zstd:
		enc := zstdEncoderPool.Get().(*zstd.Encoder)
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(raw, nil), nil
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		lc := lz4CompressorPool.Get().(*lz4.Compressor)
		defer lz4CompressorPool.Put(lc)
		n, err := lc.CompressBlock(raw, dst)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, errIncompressible
		}
		return dst[:n], nil
	}
	return nil, fmt.Errorf("checkpoint: unknown codec %d", byte(c))
}

// decompress inflates payload; size is the raw length recorded in the header.
func decompress(c Codec, payload []byte, size int) ([]byte, error) {
	switch c {
	case None:
		return payload, nil
	case Zstd:
		dec := zstdDecoderPool.Get().(*zstd.Decoder)
		defer zstdDecoderPool.Put(dec)
		raw, err := dec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompression failed: %w", err)
		}
		return raw, nil
	case LZ4:
		raw := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompression failed: %w", err)
		}
		return raw[:n], nil
	}
	return nil, fmt.Errorf("checkpoint: unknown codec %d", byte(c))
}
