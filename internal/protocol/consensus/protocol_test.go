package consensus

import (
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshnet/internal/core/identity"
	"github.com/dep2p/go-meshnet/pkg/types"
)

func pid(c string) types.PeerID {
	return types.PeerID(strings.Repeat(c, 64))
}

var (
	nodeA = types.PeerIdentity{ID: pid("a")}
	nodeB = types.PeerIdentity{ID: pid("b")}
	nodeC = types.PeerIdentity{ID: pid("c")}
)

type decision struct {
	value     string
	committed bool
}

func newTestProtocol(t *testing.T, local types.PeerIdentity, opts ...Option) (*Protocol, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	p, err := New(local, identity.Hash, DefaultConfig(), append([]Option{WithClock(mock)}, opts...)...)
	require.NoError(t, err)
	return p, mock
}

// TestRequiredVotes 测试法定人数计算
func TestRequiredVotes(t *testing.T) {
	tests := []struct {
		n         int
		threshold float64
		want      int
	}{
		{3, 0.67, 2},
		{1, 0.67, 1},
		{0, 0.67, 1},
		{10, 0.67, 6},
		{4, 1.0, 4},
		{5, 0.5, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RequiredVotes(tt.n, tt.threshold), "n=%d threshold=%v", tt.n, tt.threshold)
	}
}

// TestNew_InvalidConfig 测试无效配置
func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(nodeA, identity.Hash, Config{QuorumThreshold: 0, RoundTimeout: time.Second})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(nodeA, identity.Hash, Config{QuorumThreshold: 0.5})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(nodeA, nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestQuorum_TwoYesCommit 测试三个参与者两票赞成即提交
func TestQuorum_TwoYesCommit(t *testing.T) {
	p, _ := newTestProtocol(t, nodeA)
	p.SetParticipants([]types.PeerID{nodeA.ID, nodeB.ID, nodeC.ID})

	var decisions []decision
	id := p.Propose([]byte("v"), func(value []byte, committed bool) {
		decisions = append(decisions, decision{string(value), committed})
	})
	assert.Equal(t, StateProposing, p.State(id))

	assert.True(t, p.OnVote(nodeB.ID, id, true))
	assert.Equal(t, StateVoting, p.State(id))
	assert.Empty(t, decisions)

	assert.True(t, p.OnVote(nodeC.ID, id, true))
	assert.Equal(t, StateCommitted, p.State(id))
	assert.Equal(t, []decision{{"v", true}}, decisions)

	// 终态后投票无效，回调不再触发
	assert.False(t, p.OnVote(nodeA.ID, id, false))
	assert.False(t, p.OnCommit(nodeB.ID, id))
	assert.Len(t, decisions, 1)
}

// TestQuorum_TwoNoWaitForThird 测试两票反对时等待第三票才失败
func TestQuorum_TwoNoWaitForThird(t *testing.T) {
	p, _ := newTestProtocol(t, nodeA)
	p.SetParticipants([]types.PeerID{nodeA.ID, nodeB.ID, nodeC.ID})

	var decisions []decision
	id := p.Propose([]byte("v"), func(value []byte, committed bool) {
		decisions = append(decisions, decision{string(value), committed})
	})

	p.OnVote(nodeB.ID, id, false)
	p.OnVote(nodeC.ID, id, false)
	assert.Equal(t, StateVoting, p.State(id))
	assert.Empty(t, decisions)

	// 同一节点改票不重复计数
	p.OnVote(nodeC.ID, id, false)
	assert.Equal(t, StateVoting, p.State(id))

	p.OnVote(nodeA.ID, id, false)
	assert.Equal(t, StateFailed, p.State(id))
	assert.Equal(t, []decision{{"v", false}}, decisions)
}

// TestQuorum_LastVoteWins 测试同一节点后一票覆盖前一票
func TestQuorum_LastVoteWins(t *testing.T) {
	p, _ := newTestProtocol(t, nodeA)
	p.SetParticipants([]types.PeerID{nodeA.ID, nodeB.ID, nodeC.ID})

	id := p.Propose([]byte("v"), nil)
	p.OnVote(nodeB.ID, id, false)
	p.OnVote(nodeB.ID, id, true)

	r, ok := p.Round(id)
	require.True(t, ok)
	assert.Len(t, r.Votes, 1)
	assert.Equal(t, 1, r.YesVotes())

	p.Vote(id, true)
	assert.Equal(t, StateCommitted, p.State(id))
}

// TestOnVote_NonParticipantIgnored 测试非参与者的投票被忽略
func TestOnVote_NonParticipantIgnored(t *testing.T) {
	p, _ := newTestProtocol(t, nodeA)
	p.SetParticipants([]types.PeerID{nodeA.ID, nodeB.ID, nodeC.ID})
	id := p.Propose([]byte("v"), nil)

	assert.False(t, p.OnVote(pid("d"), id, true))
	assert.False(t, p.OnVote(pid("e"), id, true))
	assert.Equal(t, StateProposing, p.State(id))

	// 未知轮次
	assert.False(t, p.OnVote(nodeB.ID, 999, true))
	assert.Equal(t, StateIdle, p.State(999))
}

// TestOnPropose 测试远端提案
func TestOnPropose(t *testing.T) {
	p, _ := newTestProtocol(t, nodeB)

	assert.True(t, p.OnPropose(nodeA, 7, []byte("x"), nodeA.ID, nodeB.ID, nodeC.ID))
	assert.Equal(t, StateVoting, p.State(7))

	// 幂等
	assert.False(t, p.OnPropose(nodeC, 7, []byte("other")))
	r, _ := p.Round(7)
	assert.Equal(t, nodeA, r.Proposer)
	assert.Equal(t, "x", string(r.Value))
	assert.Equal(t, identity.Hash([]byte("x")), r.ProposalHash)
	assert.Equal(t, []types.PeerID{nodeA.ID, nodeB.ID, nodeC.ID}, r.Participants)
	assert.False(t, r.IsLocal(nodeB.ID))

	// 本地轮次 ID 跳过已见的远端 ID
	assert.Equal(t, uint64(8), p.Propose([]byte("mine"), nil))
}

// TestOnVoteFor_HashMismatch 测试摘要不一致的投票不计入轮次
func TestOnVoteFor_HashMismatch(t *testing.T) {
	p, _ := newTestProtocol(t, nodeA)
	p.SetParticipants([]types.PeerID{nodeA.ID, nodeB.ID, nodeC.ID})
	id := p.Propose([]byte("alpha"), nil)

	// nodeB 自己的同号轮次提案为 "beta"
	assert.False(t, p.OnVoteFor(nodeB.ID, id, identity.Hash([]byte("beta")), true))
	r, _ := p.Round(id)
	assert.Empty(t, r.Votes)

	assert.True(t, p.OnVoteFor(nodeB.ID, id, identity.Hash([]byte("alpha")), true))
	r, _ = p.Round(id)
	assert.Equal(t, map[types.PeerID]bool{nodeB.ID: true}, r.Votes)
}

// TestOnCommit 测试远端提交通知
func TestOnCommit(t *testing.T) {
	p, _ := newTestProtocol(t, nodeB)
	p.OnPropose(nodeA, 1, []byte("x"), nodeA.ID, nodeB.ID, nodeC.ID)

	assert.True(t, p.OnCommit(nodeA.ID, 1))
	assert.Equal(t, StateCommitted, p.State(1))
	assert.False(t, p.OnCommit(nodeA.ID, 1))
	assert.False(t, p.OnCommit(nodeA.ID, 42))
}

// TestExpireRounds 测试超时轮次被置为失败
func TestExpireRounds(t *testing.T) {
	var finished []*Round
	p, mock := newTestProtocol(t, nodeA, WithFinishHandler(func(r *Round) {
		finished = append(finished, r)
	}))
	p.SetParticipants([]types.PeerID{nodeA.ID, nodeB.ID, nodeC.ID})

	var decisions []decision
	id := p.Propose([]byte("slow"), func(value []byte, committed bool) {
		decisions = append(decisions, decision{string(value), committed})
	})
	require.True(t, p.StartVoting(id))
	assert.False(t, p.StartVoting(id))

	mock.Add(29 * time.Second)
	assert.Empty(t, p.ExpireRounds())
	assert.Equal(t, 1, p.ActiveRounds())

	mock.Add(time.Second)
	assert.Equal(t, []uint64{id}, p.ExpireRounds())
	assert.Equal(t, StateFailed, p.State(id))
	assert.Equal(t, []decision{{"slow", false}}, decisions)
	require.Len(t, finished, 1)
	assert.Equal(t, StateFailed, finished[0].State)
	assert.Equal(t, 0, p.ActiveRounds())

	// 超时后投票被忽略
	assert.False(t, p.OnVote(nodeB.ID, id, true))
}

// TestOnVote_ExpiresFirst 测试投票前先处理超时
func TestOnVote_ExpiresFirst(t *testing.T) {
	p, mock := newTestProtocol(t, nodeA)
	p.SetParticipants([]types.PeerID{nodeA.ID, nodeB.ID, nodeC.ID})

	stale := p.Propose([]byte("stale"), nil)
	mock.Add(31 * time.Second)
	fresh := p.Propose([]byte("fresh"), nil)

	assert.True(t, p.OnVote(nodeB.ID, fresh, true))
	assert.Equal(t, StateFailed, p.State(stale))
	assert.Equal(t, StateVoting, p.State(fresh))
}

// TestPrune 测试清理终态轮次
func TestPrune(t *testing.T) {
	p, mock := newTestProtocol(t, nodeA)
	p.SetParticipants([]types.PeerID{nodeA.ID})

	done := p.Propose([]byte("done"), nil)
	p.Vote(done, true)
	p.SetParticipants([]types.PeerID{nodeA.ID, nodeB.ID})
	open := p.Propose([]byte("open"), nil)

	mock.Add(time.Minute)
	assert.Equal(t, 1, p.Prune(30*time.Second))
	assert.Equal(t, StateIdle, p.State(done))
	assert.Equal(t, StateProposing, p.State(open))
}

// TestEndToEnd_ThreeNodes 测试三节点提案、投票与迟到投票
func TestEndToEnd_ThreeNodes(t *testing.T) {
	a, _ := newTestProtocol(t, nodeA)
	b, _ := newTestProtocol(t, nodeB)
	c, _ := newTestProtocol(t, nodeC)
	participants := []types.PeerID{nodeA.ID, nodeB.ID, nodeC.ID}
	a.SetParticipants(participants)

	var decisions []decision
	id := a.Propose([]byte("upgrade"), func(value []byte, committed bool) {
		decisions = append(decisions, decision{string(value), committed})
	})
	require.Equal(t, uint64(1), id)
	a.StartVoting(id)

	// 提案传播
	r, _ := a.Round(id)
	require.True(t, b.OnPropose(nodeA, id, r.Value, r.Participants...))
	require.True(t, c.OnPropose(nodeA, id, r.Value, r.Participants...))

	// B、C 投票并发送给 A
	require.True(t, b.Vote(id, true))
	require.True(t, c.Vote(id, true))
	a.OnVote(nodeB.ID, id, true)
	a.OnVote(nodeC.ID, id, true)

	assert.Equal(t, []decision{{"upgrade", true}}, decisions)
	assert.Equal(t, StateCommitted, a.State(id))

	// 迟到投票无影响
	assert.False(t, a.OnVote(nodeB.ID, id, false))
	assert.Equal(t, StateCommitted, a.State(id))
	assert.Len(t, decisions, 1)

	// 提交通知传播
	assert.True(t, b.OnCommit(nodeA.ID, id))
	assert.True(t, c.OnCommit(nodeA.ID, id))
	assert.Equal(t, StateCommitted, b.State(id))
}
