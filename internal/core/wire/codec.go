// Package wire 实现消息信封的编解码
//
// 信封使用 protobuf 线格式（protowire 手写编码，无生成代码）：
//
//	1  id         string
//	2  type       varint
//	3  from       message { 1 id, 2 public_key }
//	4  to         message { 1 id, 2 public_key }
//	5  payload    bytes
//	6  signature  bytes
//	7  timestamp  varint (ms)
//	8  ttl        varint
//	9  headers    repeated message { 1 key, 2 value }，按 key 排序
//	10 flags      varint
//
// 负载超过 CompressThreshold 时使用 zstd 压缩并置 FlagCompressed。
// 控制类负载（FIND_NODE、STORE、CONSENSUS_* 等）使用规范 CBOR，见 payloads.go。
package wire

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-meshnet/pkg/types"
)

const (
	// DefaultMaxMessageSize 默认最大消息字节数
	DefaultMaxMessageSize = 4 << 20

	// CompressThreshold 负载压缩阈值
	CompressThreshold = 1024

	// FlagCompressed 负载已压缩
	FlagCompressed uint64 = 1 << 0
)

const (
	fieldID        protowire.Number = 1
	fieldType      protowire.Number = 2
	fieldFrom      protowire.Number = 3
	fieldTo        protowire.Number = 4
	fieldPayload   protowire.Number = 5
	fieldSignature protowire.Number = 6
	fieldTimestamp protowire.Number = 7
	fieldTTL       protowire.Number = 8
	fieldHeader    protowire.Number = 9
	fieldFlags     protowire.Number = 10

	fieldIdentityID  protowire.Number = 1
	fieldIdentityKey protowire.Number = 2

	fieldHeaderKey   protowire.Number = 1
	fieldHeaderValue protowire.Number = 2
)

// 错误定义
var (
	// ErrMessageTooLarge 消息超过大小限制
	ErrMessageTooLarge = errors.New("wire: message too large")

	// ErrMalformed 消息格式错误
	ErrMalformed = errors.New("wire: malformed message")

	// ErrUnknownType 未知消息类型
	ErrUnknownType = errors.New("wire: unknown message type")
)

// NewMessageID 生成新的消息 ID
func NewMessageID() string {
	return uuid.NewString()
}

// ============================================================================
//                              Codec
// ============================================================================

// Codec 信封编解码器
type Codec struct {
	// MaxSize 编码后与解压后的最大字节数
	MaxSize int
}

// NewCodec 创建编解码器
func NewCodec(maxSize int) *Codec {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Codec{MaxSize: maxSize}
}

// Marshal 编码消息
func (c *Codec) Marshal(msg *types.Message) ([]byte, error) {
	payload := msg.Payload
	var flags uint64
	if len(payload) > CompressThreshold {
		compressed := compress(payload)
		if len(compressed) < len(payload) {
			payload = compressed
			flags |= FlagCompressed
		}
	}

	b := appendEnvelope(nil, msg, payload, msg.Signature, flags)
	if len(b) > c.MaxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(b), c.MaxSize)
	}
	return b, nil
}

// Unmarshal 解码消息
func (c *Codec) Unmarshal(data []byte) (*types.Message, error) {
	if len(data) > c.MaxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), c.MaxSize)
	}

	msg := &types.Message{Headers: make(map[string]string)}
	var flags uint64
	var typ uint64
	typeSeen := false

	for len(data) > 0 {
		num, wtyp, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, malformed(protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldID && wtyp == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			msg.ID = v
			data = data[n:]
		case num == fieldType && wtyp == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			typ, typeSeen = v, true
			data = data[n:]
		case (num == fieldFrom || num == fieldTo) && wtyp == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			id, err := consumeIdentity(v)
			if err != nil {
				return nil, err
			}
			if num == fieldFrom {
				msg.From = id
			} else {
				msg.To = id
			}
			data = data[n:]
		case (num == fieldPayload || num == fieldSignature) && wtyp == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			if num == fieldPayload {
				msg.Payload = append([]byte(nil), v...)
			} else {
				msg.Signature = append([]byte(nil), v...)
			}
			data = data[n:]
		case num == fieldTimestamp && wtyp == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			msg.Timestamp = int64(v)
			data = data[n:]
		case num == fieldTTL && wtyp == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			msg.TTL = uint32(v)
			data = data[n:]
		case num == fieldHeader && wtyp == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			key, value, err := consumeHeader(v)
			if err != nil {
				return nil, err
			}
			msg.Headers[key] = value
			data = data[n:]
		case num == fieldFlags && wtyp == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			flags = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, wtyp, data)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if !typeSeen {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	msg.Type = types.MessageType(typ)
	if typ > 0xff || !msg.Type.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, typ)
	}

	if flags&FlagCompressed != 0 {
		plain, err := decompress(msg.Payload, c.MaxSize)
		if err != nil {
			return nil, err
		}
		msg.Payload = plain
	}
	return msg, nil
}

// SigningBytes 返回消息的签名输入
//
// 为签名字段置空、负载未压缩时的信封编码。
func SigningBytes(msg *types.Message) []byte {
	return appendEnvelope(nil, msg, msg.Payload, nil, 0)
}

// ============================================================================
//                              内部编码
// ============================================================================

func appendEnvelope(b []byte, msg *types.Message, payload, signature []byte, flags uint64) []byte {
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendString(b, msg.ID)
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Type))
	b = protowire.AppendTag(b, fieldFrom, protowire.BytesType)
	b = protowire.AppendBytes(b, appendIdentity(nil, msg.From))
	b = protowire.AppendTag(b, fieldTo, protowire.BytesType)
	b = protowire.AppendBytes(b, appendIdentity(nil, msg.To))

	if len(payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, payload)
	}
	if len(signature) > 0 {
		b = protowire.AppendTag(b, fieldSignature, protowire.BytesType)
		b = protowire.AppendBytes(b, signature)
	}

	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Timestamp))
	b = protowire.AppendTag(b, fieldTTL, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.TTL))

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldHeaderKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, fieldHeaderValue, protowire.BytesType)
		entry = protowire.AppendString(entry, msg.Headers[k])
		b = protowire.AppendTag(b, fieldHeader, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}

	if flags != 0 {
		b = protowire.AppendTag(b, fieldFlags, protowire.VarintType)
		b = protowire.AppendVarint(b, flags)
	}
	return b
}

func appendIdentity(b []byte, id types.PeerIdentity) []byte {
	b = protowire.AppendTag(b, fieldIdentityID, protowire.BytesType)
	b = protowire.AppendString(b, string(id.ID))
	if id.PublicKey != "" {
		b = protowire.AppendTag(b, fieldIdentityKey, protowire.BytesType)
		b = protowire.AppendString(b, id.PublicKey)
	}
	return b
}

func consumeIdentity(data []byte) (types.PeerIdentity, error) {
	var id types.PeerIdentity
	for len(data) > 0 {
		num, wtyp, n := protowire.ConsumeTag(data)
		if n < 0 {
			return id, malformed(protowire.ParseError(n))
		}
		data = data[n:]
		if wtyp != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, wtyp, data)
			if n < 0 {
				return id, malformed(protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeString(data)
		if n < 0 {
			return id, malformed(protowire.ParseError(n))
		}
		switch num {
		case fieldIdentityID:
			id.ID = types.PeerID(v)
		case fieldIdentityKey:
			id.PublicKey = v
		}
		data = data[n:]
	}
	return id, nil
}

func consumeHeader(data []byte) (string, string, error) {
	var key, value string
	for len(data) > 0 {
		num, wtyp, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", "", malformed(protowire.ParseError(n))
		}
		data = data[n:]
		if wtyp != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, wtyp, data)
			if n < 0 {
				return "", "", malformed(protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeString(data)
		if n < 0 {
			return "", "", malformed(protowire.ParseError(n))
		}
		switch num {
		case fieldHeaderKey:
			key = v
		case fieldHeaderValue:
			value = v
		}
		data = data[n:]
	}
	return key, value, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
