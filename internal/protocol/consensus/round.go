// Package consensus 实现单轮法定人数二元共识
//
// 对一个不透明的字节值进行是/否表决：无领导选举、无视图切换。
// 本包只维护轮次状态，不发送网络消息；
// CONSENSUS_PROPOSE / VOTE / COMMIT 的收发由 overlay 负责。
//
// 状态转换：
//
//	PROPOSING ──┐
//	            ├─> VOTING ──> COMMITTED | FAILED
//	(远端提案) ──┘
//
// COMMITTED 与 FAILED 为终态，终态后的投票被忽略。
package consensus

import (
	"time"

	"github.com/dep2p/go-meshnet/pkg/types"
)

// State 轮次状态
type State int

const (
	// StateIdle 未知轮次
	StateIdle State = iota
	// StateProposing 本地提案，尚未开始投票
	StateProposing
	// StateVoting 收集投票中
	StateVoting
	// StateCommitted 达到法定人数
	StateCommitted
	// StateFailed 全部参与者已投票但未达法定人数，或已超过截止时间
	StateFailed
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateProposing:
		return "PROPOSING"
	case StateVoting:
		return "VOTING"
	case StateCommitted:
		return "COMMITTED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 是否为终态
func (s State) IsTerminal() bool {
	return s == StateCommitted || s == StateFailed
}

// DecisionFunc 轮次结束回调，每轮至多调用一次
type DecisionFunc func(value []byte, committed bool)

// Round 共识轮次快照
type Round struct {
	ID           uint64
	ProposalHash string
	Value        []byte
	Proposer     types.PeerIdentity
	Votes        map[types.PeerID]bool
	Participants []types.PeerID
	State        State
	StartedAt    time.Time
	Deadline     time.Time
}

// YesVotes 赞成票数
func (r *Round) YesVotes() int {
	n := 0
	for _, accept := range r.Votes {
		if accept {
			n++
		}
	}
	return n
}

// IsLocal 是否由 local 发起
func (r *Round) IsLocal(local types.PeerID) bool {
	return r.Proposer.ID == local
}

// Clone 深拷贝
func (r *Round) Clone() *Round {
	c := *r
	c.Value = append([]byte(nil), r.Value...)
	c.Participants = append([]types.PeerID(nil), r.Participants...)
	c.Votes = make(map[types.PeerID]bool, len(r.Votes))
	for id, v := range r.Votes {
		c.Votes[id] = v
	}
	return &c
}
