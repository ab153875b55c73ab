package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"lukechampine.com/blake3"

	"github.com/dep2p/go-meshnet/pkg/types"
)

// ============================================================================
//                              CBOR 编解码
// ============================================================================

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 4096,
		MaxMapPairs:      4096,
		MaxNestedLevels:  16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor dec mode: %v", err))
	}
}

// EncodePayload 以规范 CBOR 编码控制负载
func EncodePayload(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode payload: %w", err)
	}
	return b, nil
}

// DecodePayload 解码控制负载
func DecodePayload(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode payload: %v", ErrMalformed, err)
	}
	return nil
}

// ============================================================================
//                              负载定义
// ============================================================================

// Announce PING/PONG 携带的节点信息
type Announce struct {
	DisplayName     string   `cbor:"1,keyasint,omitempty"`
	ProtocolVersion string   `cbor:"2,keyasint,omitempty"`
	Addresses       []string `cbor:"3,keyasint,omitempty"`
	IsRelay         bool     `cbor:"4,keyasint,omitempty"`
}

// PeerInfo FIND_NODE_RESPONSE 中的节点条目
type PeerInfo struct {
	Identity        types.PeerIdentity `cbor:"1,keyasint"`
	Addresses       []string           `cbor:"2,keyasint,omitempty"`
	DisplayName     string             `cbor:"3,keyasint,omitempty"`
	ProtocolVersion string             `cbor:"4,keyasint,omitempty"`
	IsRelay         bool               `cbor:"5,keyasint,omitempty"`
}

// ToRecord 转换为 PeerRecord
func (p PeerInfo) ToRecord() *types.PeerRecord {
	r := types.NewPeerRecord(p.Identity, p.Addresses...)
	r.DisplayName = p.DisplayName
	r.ProtocolVersion = p.ProtocolVersion
	r.IsRelay = p.IsRelay
	return r
}

// PeerInfoFromRecord 由 PeerRecord 构造
func PeerInfoFromRecord(r *types.PeerRecord) PeerInfo {
	return PeerInfo{
		Identity:        r.Identity,
		Addresses:       append([]string(nil), r.Addresses...),
		DisplayName:     r.DisplayName,
		ProtocolVersion: r.ProtocolVersion,
		IsRelay:         r.IsRelay,
	}
}

// FindNodeRequest FIND_NODE 负载
type FindNodeRequest struct {
	Target string `cbor:"1,keyasint"`
}

// FindNodeResponse FIND_NODE_RESPONSE 负载
type FindNodeResponse struct {
	Target string     `cbor:"1,keyasint"`
	Peers  []PeerInfo `cbor:"2,keyasint,omitempty"`
}

// Record STORE 负载，签名覆盖除 Signature 外的全部字段
type Record struct {
	Key       string             `cbor:"1,keyasint"`
	Value     []byte             `cbor:"2,keyasint"`
	Publisher types.PeerIdentity `cbor:"3,keyasint"`

	// PublishedAt/ExpiresAt 毫秒时间戳
	PublishedAt int64 `cbor:"4,keyasint"`
	ExpiresAt   int64 `cbor:"5,keyasint"`

	Signature []byte `cbor:"6,keyasint,omitempty"`
}

// RecordSigningBytes 返回记录签名输入
//
// blake3(规范 CBOR(record, Signature 置空))。
func RecordSigningBytes(r Record) ([]byte, error) {
	r.Signature = nil
	b, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wire: encode record: %w", err)
	}
	sum := blake3.Sum256(b)
	return sum[:], nil
}

// StoreResponse STORE_RESPONSE 负载
type StoreResponse struct {
	Key   string `cbor:"1,keyasint"`
	OK    bool   `cbor:"2,keyasint"`
	Error string `cbor:"3,keyasint,omitempty"`
}

// ConsensusPropose CONSENSUS_PROPOSE 负载
type ConsensusPropose struct {
	RoundID      uint64         `cbor:"1,keyasint"`
	ProposalHash string         `cbor:"2,keyasint"`
	Value        []byte         `cbor:"3,keyasint"`
	Participants []types.PeerID `cbor:"4,keyasint,omitempty"`
}

// ConsensusVote CONSENSUS_VOTE 负载
//
// ProposalHash 把投票绑定到具体提案，轮次 ID 在不同提案者之间可能重复。
type ConsensusVote struct {
	RoundID      uint64 `cbor:"1,keyasint"`
	Accept       bool   `cbor:"2,keyasint"`
	ProposalHash string `cbor:"3,keyasint"`
}

// ConsensusCommit CONSENSUS_COMMIT 负载
type ConsensusCommit struct {
	RoundID      uint64 `cbor:"1,keyasint"`
	ProposalHash string `cbor:"2,keyasint"`
}

// DataAck DATA_ACK 负载
type DataAck struct {
	MessageID string `cbor:"1,keyasint"`
}
