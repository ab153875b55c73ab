package wire

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder

	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func getEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		// 仅在选项非法时出错，此处选项固定
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	})
	return encoder
}

func getDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0), zstd.WithDecoderMaxMemory(64<<20))
	})
	return decoder
}

func compress(src []byte) []byte {
	return getEncoder().EncodeAll(src, make([]byte, 0, len(src)/2))
}

func decompress(src []byte, maxSize int) ([]byte, error) {
	out, err := getDecoder().DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrMalformed, err)
	}
	if len(out) > maxSize {
		return nil, fmt.Errorf("%w: decompressed %d > %d", ErrMessageTooLarge, len(out), maxSize)
	}
	return out, nil
}
