package consensus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-meshnet/pkg/lib/log"
	"github.com/dep2p/go-meshnet/pkg/types"
)

var logger = log.Logger("protocol/consensus")

// 错误定义
var (
	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("consensus: invalid config")
)

// Config 共识配置
type Config struct {
	// QuorumThreshold 提交所需的赞成比例，(0, 1]
	QuorumThreshold float64

	// RoundTimeout 轮次截止时间
	RoundTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		QuorumThreshold: 0.67,
		RoundTimeout:    30 * time.Second,
	}
}

// Option 协议选项
type Option func(*Protocol)

// WithClock 使用指定时钟
func WithClock(c clock.Clock) Option {
	return func(p *Protocol) {
		p.clock = c
	}
}

// WithFinishHandler 注册轮次进入终态时的观察回调
//
// 在决策回调之后调用，不持有协议锁。
func WithFinishHandler(h func(r *Round)) Option {
	return func(p *Protocol) {
		p.onFinish = h
	}
}

// ============================================================================
//                              Protocol
// ============================================================================

type roundEntry struct {
	round        *Round
	participants map[types.PeerID]struct{}
	onDecision   DecisionFunc
}

// notification 锁外执行的回调
type notification struct {
	round    *Round
	decision DecisionFunc
}

// Protocol 共识协议
type Protocol struct {
	local    types.PeerIdentity
	hash     func([]byte) string
	cfg      Config
	clock    clock.Clock
	onFinish func(r *Round)

	mu           sync.Mutex
	rounds       map[uint64]*roundEntry
	nextRoundID  uint64
	participants []types.PeerID
}

// New 创建共识协议
//
// hash 用于计算提案摘要（通常为身份提供者的 Hash）。
func New(local types.PeerIdentity, hash func([]byte) string, cfg Config, opts ...Option) (*Protocol, error) {
	if cfg.QuorumThreshold <= 0 || cfg.QuorumThreshold > 1 || cfg.RoundTimeout <= 0 {
		return nil, fmt.Errorf("%w: threshold=%v timeout=%v", ErrInvalidConfig, cfg.QuorumThreshold, cfg.RoundTimeout)
	}
	if hash == nil {
		return nil, fmt.Errorf("%w: nil hash", ErrInvalidConfig)
	}

	p := &Protocol{
		local:       local,
		hash:        hash,
		cfg:         cfg,
		clock:       clock.New(),
		rounds:      make(map[uint64]*roundEntry),
		nextRoundID: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// RequiredVotes 返回 n 个参与者时提交所需的赞成票数
//
// max(1, floor(n × threshold))：3 个参与者、阈值 0.67 时为 2。
func RequiredVotes(n int, threshold float64) int {
	required := int(float64(n) * threshold)
	if required < 1 {
		required = 1
	}
	return required
}

// SetParticipants 设置之后新建轮次的参与者
func (p *Protocol) SetParticipants(peers []types.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.participants = dedupe(peers)
}

// Participants 返回当前默认参与者
func (p *Protocol) Participants() []types.PeerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.PeerID(nil), p.participants...)
}

// Propose 发起提案，返回轮次 ID
//
// 轮次处于 PROPOSING，截止时间为 now + RoundTimeout。
func (p *Protocol) Propose(value []byte, onDecision DecisionFunc) uint64 {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextRoundID
	p.nextRoundID++

	p.rounds[id] = p.newEntryLocked(id, value, p.local, p.participants, StateProposing, now, onDecision)
	logger.Debug("发起提案", "round", id, "participants", len(p.participants))
	return id
}

// StartVoting 将本地提案从 PROPOSING 推进到 VOTING
func (p *Protocol) StartVoting(roundID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.rounds[roundID]
	if !ok || e.round.State != StateProposing {
		return false
	}
	e.round.State = StateVoting
	return true
}

// OnPropose 处理远端提案
//
// 未知轮次以 VOTING 状态创建，proposer 为 from；已知轮次为空操作。
// participants 为空时使用默认参与者。返回是否新建了轮次。
func (p *Protocol) OnPropose(from types.PeerIdentity, roundID uint64, value []byte, participants ...types.PeerID) bool {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if roundID >= p.nextRoundID {
		p.nextRoundID = roundID + 1
	}
	if _, exists := p.rounds[roundID]; exists {
		return false
	}
	if len(participants) == 0 {
		participants = p.participants
	}
	p.rounds[roundID] = p.newEntryLocked(roundID, value, from, participants, StateVoting, now, nil)
	logger.Debug("收到提案", "round", roundID, "proposer", from.ID.ShortString())
	return true
}

// OnVote 记录投票并检查法定人数
//
// 同一节点的后一票覆盖前一票。设置了参与者时只统计参与者的投票。
// 终态轮次与未知轮次忽略投票。返回投票是否被记录。
func (p *Protocol) OnVote(from types.PeerID, roundID uint64, accept bool) bool {
	return p.OnVoteFor(from, roundID, "", accept)
}

// OnVoteFor 与 OnVote 相同，但 proposalHash 非空时只接受摘要与轮次一致的投票
//
// 不同提案者可能分配相同的轮次 ID，远端投票必须携带摘要。
func (p *Protocol) OnVoteFor(from types.PeerID, roundID uint64, proposalHash string, accept bool) bool {
	notes := p.collectExpired()

	p.mu.Lock()
	recorded := false
	if e, ok := p.rounds[roundID]; ok && !e.round.State.IsTerminal() && e.accepts(from) &&
		(proposalHash == "" || proposalHash == e.round.ProposalHash) {
		e.round.Votes[from] = accept
		if e.round.State == StateProposing {
			e.round.State = StateVoting
		}
		recorded = true
		if n, ok := p.checkQuorumLocked(e); ok {
			notes = append(notes, n)
		}
	}
	p.mu.Unlock()

	p.notify(notes)
	return recorded
}

// Vote 记录本地投票
func (p *Protocol) Vote(roundID uint64, accept bool) bool {
	return p.OnVote(p.local.ID, roundID, accept)
}

// OnCommit 处理远端提交通知，强制轮次进入 COMMITTED
//
// 终态轮次与未知轮次忽略。
func (p *Protocol) OnCommit(from types.PeerID, roundID uint64) bool {
	p.mu.Lock()
	e, ok := p.rounds[roundID]
	if !ok || e.round.State.IsTerminal() {
		p.mu.Unlock()
		return false
	}
	n := p.finishLocked(e, StateCommitted)
	p.mu.Unlock()

	logger.Debug("收到提交通知", "round", roundID, "from", from.ShortString())
	p.notify([]notification{n})
	return true
}

// ExpireRounds 将超过截止时间的 PROPOSING/VOTING 轮次置为 FAILED
//
// 返回被置为失败的轮次 ID。
func (p *Protocol) ExpireRounds() []uint64 {
	notes := p.collectExpired()
	ids := make([]uint64, len(notes))
	for i, n := range notes {
		ids[i] = n.round.ID
	}
	p.notify(notes)
	return ids
}

// Prune 删除开始时间早于 maxAge 的终态轮次
func (p *Protocol) Prune(maxAge time.Duration) int {
	cutoff := p.clock.Now().Add(-maxAge)

	p.mu.Lock()
	defer p.mu.Unlock()

	pruned := 0
	for id, e := range p.rounds {
		if e.round.State.IsTerminal() && e.round.StartedAt.Before(cutoff) {
			delete(p.rounds, id)
			pruned++
		}
	}
	return pruned
}

// State 返回轮次状态，未知轮次为 IDLE
func (p *Protocol) State(roundID uint64) State {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.rounds[roundID]; ok {
		return e.round.State
	}
	return StateIdle
}

// Round 返回轮次快照
func (p *Protocol) Round(roundID uint64) (*Round, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.rounds[roundID]
	if !ok {
		return nil, false
	}
	return e.round.Clone(), true
}

// ActiveRounds 返回未结束轮次数
func (p *Protocol) ActiveRounds() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, e := range p.rounds {
		if !e.round.State.IsTerminal() {
			n++
		}
	}
	return n
}

// ============================================================================
//                              内部实现
// ============================================================================

func (p *Protocol) newEntryLocked(id uint64, value []byte, proposer types.PeerIdentity,
	participants []types.PeerID, state State, now time.Time, onDecision DecisionFunc) *roundEntry {
	parts := dedupe(participants)
	set := make(map[types.PeerID]struct{}, len(parts))
	for _, pid := range parts {
		set[pid] = struct{}{}
	}
	return &roundEntry{
		round: &Round{
			ID:           id,
			ProposalHash: p.hash(value),
			Value:        append([]byte(nil), value...),
			Proposer:     proposer,
			Votes:        make(map[types.PeerID]bool),
			Participants: parts,
			State:        state,
			StartedAt:    now,
			Deadline:     now.Add(p.cfg.RoundTimeout),
		},
		participants: set,
		onDecision:   onDecision,
	}
}

func (e *roundEntry) accepts(voter types.PeerID) bool {
	if len(e.participants) == 0 {
		return true
	}
	_, ok := e.participants[voter]
	return ok
}

// checkQuorumLocked 评估法定人数
//
// yes >= RequiredVotes(n) 时提交；否则全部参与者都已投票时失败。
// 未设置参与者时 n 取已投票数。
func (p *Protocol) checkQuorumLocked(e *roundEntry) (notification, bool) {
	total := len(e.round.Votes)
	n := len(e.participants)
	if n == 0 {
		n = total
	}

	if e.round.YesVotes() >= RequiredVotes(n, p.cfg.QuorumThreshold) {
		return p.finishLocked(e, StateCommitted), true
	}
	if total >= n {
		return p.finishLocked(e, StateFailed), true
	}
	return notification{}, false
}

func (p *Protocol) finishLocked(e *roundEntry, state State) notification {
	e.round.State = state
	n := notification{round: e.round.Clone(), decision: e.onDecision}
	e.onDecision = nil
	return n
}

func (p *Protocol) collectExpired() []notification {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	var notes []notification
	for _, e := range p.rounds {
		if !e.round.State.IsTerminal() && !now.Before(e.round.Deadline) {
			notes = append(notes, p.finishLocked(e, StateFailed))
		}
	}
	return notes
}

func (p *Protocol) notify(notes []notification) {
	for _, n := range notes {
		logger.Info("轮次结束", "round", n.round.ID, "state", n.round.State.String(),
			"yes", n.round.YesVotes(), "votes", len(n.round.Votes))
		if n.decision != nil {
			n.decision(n.round.Value, n.round.State == StateCommitted)
		}
		if p.onFinish != nil {
			p.onFinish(n.round)
		}
	}
}

func dedupe(ids []types.PeerID) []types.PeerID {
	seen := make(map[types.PeerID]struct{}, len(ids))
	out := make([]types.PeerID, 0, len(ids))
	for _, id := range ids {
		if id.IsEmpty() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
