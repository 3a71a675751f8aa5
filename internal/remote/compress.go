package remote

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"

	"github.com/twmb/rocketmq-go/rerr"
)

// Codec identifies how a message body is compressed, carried in the high
// bits of a message's SysFlag.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecSnappy
	CodecLZ4
	CodecZstd
)

// SysFlag layout: bit 0 marks the body compressed; bits 8-9 hold the codec,
// meaningful only when the compressed bit is set.
const (
	sysFlagCompressedBit int32 = 1 << 0
	codecShift                 = 8
	codecMask            int32 = 0x3
)

// CodecFromSysFlag extracts the compression codec a message's SysFlag
// carries, or CodecNone if the compressed-body bit isn't set.
func CodecFromSysFlag(sysFlag int32) Codec {
	if sysFlag&sysFlagCompressedBit == 0 {
		return CodecNone
	}
	return Codec((sysFlag >> codecShift) & codecMask)
}

// SysFlagWithCodec returns sysFlag with the compressed-body bit and codec
// bits set to codec, clearing both first. CodecNone clears them.
func SysFlagWithCodec(sysFlag int32, codec Codec) int32 {
	sysFlag &^= sysFlagCompressedBit | (codecMask << codecShift)
	if codec == CodecNone {
		return sysFlag
	}
	return sysFlag | sysFlagCompressedBit | (int32(codec) << codecShift)
}

// Decompress returns body decoded per codec, or body unchanged for
// CodecNone.
func Decompress(codec Codec, body []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return body, nil
	case CodecSnappy:
		out, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, rerr.Client("snappy decompress: %v", err)
		}
		return out, nil
	case CodecLZ4:
		r := lz4.NewReader(bytes.NewReader(body))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, rerr.Client("lz4 decompress: %v", err)
		}
		return out, nil
	case CodecZstd:
		dec, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, rerr.Client("zstd reader: %v", err)
		}
		defer dec.Close()
		out, err := io.ReadAll(dec)
		if err != nil {
			return nil, rerr.Client("zstd decompress: %v", err)
		}
		return out, nil
	default:
		return nil, rerr.Client("unknown compression codec %d", codec)
	}
}

// Compress encodes body with codec, used by the producer path.
func Compress(codec Codec, body []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return body, nil
	case CodecSnappy:
		return snappy.Encode(nil, body), nil
	case CodecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, rerr.Client("lz4 compress: %v", err)
		}
		if err := w.Close(); err != nil {
			return nil, rerr.Client("lz4 compress: %v", err)
		}
		return buf.Bytes(), nil
	case CodecZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, rerr.Client("zstd writer: %v", err)
		}
		defer enc.Close()
		return enc.EncodeAll(body, nil), nil
	default:
		return nil, rerr.Client("unknown compression codec %d", codec)
	}
}
