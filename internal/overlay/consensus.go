package overlay

import (
	"context"
	"fmt"

	"github.com/dep2p/go-meshnet/internal/core/metrics"
	"github.com/dep2p/go-meshnet/internal/core/wire"
	"github.com/dep2p/go-meshnet/internal/protocol/consensus"
	"github.com/dep2p/go-meshnet/pkg/types"
)

// ============================================================================
//                              共识
// ============================================================================

// ProposeConsensus 以本地节点与全部已连接节点为参与者发起提案
//
// 轮次立即进入 VOTING，CONSENSUS_PROPOSE 发送给每个已连接节点。
// 提案者不自动投票。返回轮次 ID。
func (n *Node) ProposeConsensus(ctx context.Context, value []byte, onDecision consensus.DecisionFunc) (uint64, error) {
	connected := n.transport.ConnectedPeers()
	participants := append([]types.PeerID{n.local.ID}, connected...)
	n.consensus.SetParticipants(participants)

	roundID := n.consensus.Propose(value, onDecision)
	n.consensus.StartVoting(roundID)

	r, ok := n.consensus.Round(roundID)
	if !ok {
		return roundID, opError("propose", ErrUnknownRound)
	}
	proposal := wire.ConsensusPropose{
		RoundID:      roundID,
		ProposalHash: r.ProposalHash,
		Value:        r.Value,
		Participants: r.Participants,
	}
	for _, peer := range connected {
		if err := n.sendPayload(ctx, types.MessageConsensusPropose, peer, proposal); err != nil {
			logger.Debug("发送提案失败", "round", roundID, "peer", peer.ShortString(), "err", err)
		}
	}

	logger.Info("发起共识提案", "round", roundID, "participants", len(participants))
	return roundID, nil
}

// VoteConsensus 记录本地投票并发送 CONSENSUS_VOTE
//
// 远端轮次的投票发给提案者；本地轮次的投票发给其余参与者。
func (n *Node) VoteConsensus(ctx context.Context, roundID uint64, accept bool) error {
	r, ok := n.consensus.Round(roundID)
	if !ok {
		return opError("vote", fmt.Errorf("%w: %d", ErrUnknownRound, roundID))
	}
	if r.State.IsTerminal() {
		return opError("vote", fmt.Errorf("%w: %d is %s", ErrRoundFinished, roundID, r.State))
	}

	n.consensus.Vote(roundID, accept)

	var targets []types.PeerID
	if r.IsLocal(n.local.ID) {
		for _, p := range r.Participants {
			if p != n.local.ID {
				targets = append(targets, p)
			}
		}
	} else {
		targets = []types.PeerID{r.Proposer.ID}
	}

	vote := wire.ConsensusVote{RoundID: roundID, Accept: accept, ProposalHash: r.ProposalHash}
	var lastErr error
	for _, peer := range targets {
		if err := n.sendPayload(ctx, types.MessageConsensusVote, peer, vote); err != nil {
			logger.Debug("发送投票失败", "round", roundID, "peer", peer.ShortString(), "err", err)
			lastErr = err
		}
	}
	if len(targets) == 1 && lastErr != nil {
		return opError("vote", lastErr)
	}
	return nil
}

// ConsensusState 返回轮次状态
func (n *Node) ConsensusState(roundID uint64) consensus.State {
	return n.consensus.State(roundID)
}

// ConsensusRound 返回轮次快照
func (n *Node) ConsensusRound(roundID uint64) (*consensus.Round, bool) {
	return n.consensus.Round(roundID)
}

// ============================================================================
//                              入站处理
// ============================================================================

func (n *Node) handleConsensusPropose(msg *types.Message) {
	var p wire.ConsensusPropose
	if err := wire.DecodePayload(msg.Payload, &p); err != nil {
		n.drop(msg, metrics.DropInvalid, err)
		return
	}
	if p.ProposalHash != n.identity.Hash(p.Value) {
		n.drop(msg, metrics.DropInvalid, fmt.Errorf("proposal hash mismatch"))
		return
	}

	if !n.consensus.OnPropose(msg.From, p.RoundID, p.Value, p.Participants...) {
		return
	}
	if h := n.proposalHandler(); h != nil {
		h(p.RoundID, msg.From, append([]byte(nil), p.Value...))
	}
}

// handleConsensusVote 只统计摘要与本地轮次一致的投票
func (n *Node) handleConsensusVote(msg *types.Message) {
	var v wire.ConsensusVote
	if err := wire.DecodePayload(msg.Payload, &v); err != nil {
		n.drop(msg, metrics.DropInvalid, err)
		return
	}
	if v.ProposalHash == "" {
		n.drop(msg, metrics.DropInvalid, fmt.Errorf("vote for round %d has no proposal hash", v.RoundID))
		return
	}
	if !n.consensus.OnVoteFor(msg.From.ID, v.RoundID, v.ProposalHash, v.Accept) {
		logger.Debug("投票被忽略", "round", v.RoundID, "from", msg.From.ID.ShortString())
	}
}

// handleConsensusCommit 只接受提案者发出且摘要一致的提交通知
func (n *Node) handleConsensusCommit(msg *types.Message) {
	var c wire.ConsensusCommit
	if err := wire.DecodePayload(msg.Payload, &c); err != nil {
		n.drop(msg, metrics.DropInvalid, err)
		return
	}
	r, ok := n.consensus.Round(c.RoundID)
	if !ok {
		return
	}
	if r.Proposer.ID != msg.From.ID || r.ProposalHash != c.ProposalHash {
		n.drop(msg, metrics.DropInvalid, fmt.Errorf("commit for round %d does not match proposal", c.RoundID))
		return
	}
	n.consensus.OnCommit(msg.From.ID, c.RoundID)
}

// onRoundFinished 轮次进入终态
//
// 本地提案提交后向其余参与者发送 CONSENSUS_COMMIT。
func (n *Node) onRoundFinished(r *consensus.Round) {
	n.metrics.RoundFinished(r.State.String())
	if r.State != consensus.StateCommitted || !r.IsLocal(n.local.ID) {
		return
	}

	ctx, cancel := n.replyContext()
	defer cancel()

	commit := wire.ConsensusCommit{RoundID: r.ID, ProposalHash: r.ProposalHash}
	for _, p := range r.Participants {
		if p == n.local.ID || !n.transport.IsConnected(p) {
			continue
		}
		if err := n.sendPayload(ctx, types.MessageConsensusCommit, p, commit); err != nil {
			logger.Debug("发送提交通知失败", "round", r.ID, "peer", p.ShortString(), "err", err)
		}
	}
}
