package raft

import (
	"context"
	"sort"
	"time"

	"github.com/cuemby/raftcore/pkg/log"
	"github.com/cuemby/raftcore/pkg/membership"
	"github.com/cuemby/raftcore/pkg/metrics"
	"github.com/cuemby/raftcore/pkg/transport"
	"github.com/cuemby/raftcore/pkg/wal"
)

// leaderHandler owns the per-peer replication goroutines for as long as
// this node believes it is leader.
type leaderHandler struct {
	n      *Node
	ctx    context.Context
	cancel context.CancelFunc
}

func newLeaderHandler(n *Node) *leaderHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &leaderHandler{n: n, ctx: ctx, cancel: cancel}
}

func (h *leaderHandler) role() Role { return Leader }

func (h *leaderHandler) start() {
	n := h.n
	lastIndex := n.log.LastIndex()
	n.termCache.clear()
	n.termCache.insert(int64(lastIndex), int64(n.log.LastTerm()))

	n.peers = make(map[string]*peerState)
	for _, m := range n.members.Active().Members {
		if m.ID == n.id {
			continue
		}
		n.peers[m.ID] = &peerState{nextIndex: lastIndex + 1, backoff: n.opts.ReplicationBackoff}
	}

	metrics.RaftIsLeader.Set(1)
	log.WithElection(n.id, n.log.CurrentTerm()).Info().Msg("became leader")

	for peerID := range n.peers {
		n.wg.Add(1)
		go h.replicate(peerID)
	}
}

func (h *leaderHandler) stop() {
	h.cancel()
	metrics.RaftIsLeader.Set(0)
}

// replicate is the per-peer replication loop: one goroutine per peer,
// running until the leader handler is disposed.
func (h *leaderHandler) replicate(peerID string) {
	defer h.n.wg.Done()
	n := h.n

	heartbeat := n.opts.heartbeatInterval()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-timer.C:
		}

		n.mu.Lock()
		if n.role != Leader {
			n.mu.Unlock()
			return
		}
		peer, ok := n.peers[peerID]
		n.mu.Unlock()
		if !ok {
			return
		}

		if h.sendOnce(peerID, peer) {
			peer.backoff.Reset()
			timer.Reset(heartbeat)
		} else {
			timer.Reset(peer.backoff.Next())
		}
	}
}

// sendOnce issues one AppendEntries (or InstallSnapshot, if the peer has
// fallen behind the retained log) attempt and folds the reply into peer
// state and commit-index advancement.
func (h *leaderHandler) sendOnce(peerID string, peer *peerState) bool {
	n := h.n
	member, found := n.members.Active().Get(peerID)
	if !found {
		return false
	}

	ctx, cancel := context.WithTimeout(h.ctx, n.opts.RPCTimeout)
	defer cancel()

	snapIndex := n.log.SnapshotIndex()
	if peer.nextIndex <= snapIndex {
		return h.sendSnapshot(ctx, peerID, member.Address, peer)
	}

	n.mu.Lock()
	term := n.log.CurrentTerm()
	prevIndex := peer.nextIndex - 1
	prevTerm, _ := n.termAtLocked(prevIndex)
	commitIndex := n.log.CommitIndex()
	fingerprint := n.members.Fingerprint()
	nextIndex := peer.nextIndex
	n.mu.Unlock()

	entries, err := n.entriesFrom(nextIndex, n.opts.MaxEntriesPerAppend)
	if err != nil {
		log.WithComponent("raft").Error().Err(err).Str("peer", peerID).Msg("read entries for replication")
		return false
	}

	req := &transport.AppendEntriesRequest{
		Term:                     int64(term),
		LeaderID:                 n.id,
		PrevLogIndex:             int64(prevIndex),
		PrevLogTerm:              int64(prevTerm),
		Entries:                  entries,
		CommitIndex:              int64(commitIndex),
		ConfigurationFingerprint: fingerprint,
	}

	reply, err := n.transport.AppendEntries(ctx, member.Address, req)
	if err != nil {
		peer.unreachable = true
		return false
	}
	peer.unreachable = false

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.role != Leader {
		return false
	}
	if uint64(reply.Term) > n.log.CurrentTerm() {
		n.observeTermLocked(ctx, uint64(reply.Term))
		return false
	}
	if !reply.Success {
		if reply.ConflictIndex > 0 {
			peer.nextIndex = uint64(reply.ConflictIndex)
		} else if peer.nextIndex > 1 {
			peer.nextIndex--
		}
		return false
	}

	if len(entries) > 0 {
		peer.matchIndex = entries[len(entries)-1].Index
		peer.nextIndex = peer.matchIndex + 1
	} else {
		peer.matchIndex = prevIndex
	}
	metrics.RaftPeerMatchIndex.WithLabelValues(peerID).Set(float64(peer.matchIndex))

	n.maybeFinalizeConfigChangeLocked()
	n.applyReady.Set()
	return true
}

// entriesFrom reads up to max entries starting at index from the WAL,
// stopping early at last_index.
func (n *Node) entriesFrom(index uint64, max int) ([]wal.LogEntry, error) {
	last := n.log.LastIndex()
	if index > last {
		return nil, nil
	}
	to := index + uint64(max) - 1
	if to > last {
		to = last
	}
	var out []wal.LogEntry
	err := n.log.Read(context.Background(), index, to, func(item wal.ReadItem) error {
		if item.Entry != nil {
			out = append(out, *item.Entry)
		}
		return nil
	})
	return out, err
}

func (h *leaderHandler) sendSnapshot(ctx context.Context, peerID, addr string, peer *peerState) bool {
	n := h.n
	n.mu.Lock()
	term := n.log.CurrentTerm()
	fingerprint := n.members.Fingerprint()
	n.mu.Unlock()

	snapIndex := n.log.SnapshotIndex()
	snapTerm := n.log.LastTerm()

	var payload []byte
	_ = n.log.Read(ctx, 0, snapIndex, func(item wal.ReadItem) error {
		if item.Snapshot != nil {
			payload = item.Snapshot.StateMachinePayload
		}
		return nil
	})

	req := &transport.InstallSnapshotRequest{
		Term:                     int64(term),
		LeaderID:                 n.id,
		LastIncludedIndex:        int64(snapIndex),
		LastIncludedTerm:         int64(snapTerm),
		ConfigurationFingerprint: fingerprint,
		Data:                     payload,
	}

	reply, err := n.transport.InstallSnapshot(ctx, addr, req)
	if err != nil {
		peer.unreachable = true
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if uint64(reply.Term) > n.log.CurrentTerm() {
		n.observeTermLocked(ctx, uint64(reply.Term))
		return false
	}
	peer.nextIndex = snapIndex + 1
	peer.matchIndex = snapIndex
	metrics.RaftPeerMatchIndex.WithLabelValues(peerID).Set(float64(peer.matchIndex))
	return true
}

// leaderCommitTargetLocked returns the highest index replicated to a
// quorum at the current term, per the N > commit_index, majority
// match_index >= N, log[N].term == current_term rule. Caller holds n.mu.
func (n *Node) leaderCommitTargetLocked() uint64 {
	quorum := n.votingQuorumLocked()
	matches := make([]uint64, 0, len(quorum))
	for _, m := range quorum {
		if m.ID == n.id {
			matches = append(matches, n.log.LastIndex())
			continue
		}
		if p, ok := n.peers[m.ID]; ok {
			matches = append(matches, p.matchIndex)
		} else {
			matches = append(matches, 0)
		}
	}
	if len(matches) == 0 {
		return n.log.CommitIndex()
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })
	majorityIdx := len(matches) - (len(matches)/2 + 1)
	candidate := matches[majorityIdx]

	currentTerm := n.log.CurrentTerm()
	if candidate <= n.log.CommitIndex() {
		return n.log.CommitIndex()
	}
	t, ok := n.termAtLocked(candidate)
	if !ok || t != currentTerm {
		return n.log.CommitIndex()
	}
	return candidate
}

// maybeFinalizeConfigChangeLocked ends the joint-union interim once the
// pending configuration-change entry has replicated to a majority of the
// NEW configuration alone, promoting proposed to active.
func (n *Node) maybeFinalizeConfigChangeLocked() {
	if n.pendingCfg == nil {
		return
	}
	newVoters := n.pendingCfg.new.VotingMembers()
	matches := make([]uint64, 0, len(newVoters))
	for _, m := range newVoters {
		if m.ID == n.id {
			matches = append(matches, n.log.LastIndex())
			continue
		}
		if p, ok := n.peers[m.ID]; ok {
			matches = append(matches, p.matchIndex)
		} else {
			matches = append(matches, 0)
		}
	}
	if len(matches) == 0 {
		return
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })
	majorityIdx := len(matches) - (len(matches)/2 + 1)
	if matches[majorityIdx] < n.pendingCfg.index {
		return
	}

	if _, err := n.members.Apply(); err != nil {
		log.WithComponent("raft").Error().Err(err).Msg("apply configuration after quorum")
		return
	}
	n.pendingCfg = nil

	for _, m := range n.members.Active().Members {
		if m.ID == n.id {
			continue
		}
		if _, ok := n.peers[m.ID]; !ok {
			n.peers[m.ID] = &peerState{nextIndex: n.log.LastIndex() + 1, backoff: n.opts.ReplicationBackoff}
		}
	}
	for id := range n.peers {
		if !n.members.Active().Has(id) {
			delete(n.peers, id)
		}
	}
}

// ProposeConfiguration appends a configuration-change log entry for cfg.
// Only valid on the leader; it stages the change in pkg/membership and
// tracks it as the pending joint-union interim until a majority of cfg
// itself has replicated the entry.
func (n *Node) ProposeConfiguration(ctx context.Context, cfg membership.Configuration) (bool, error) {
	n.mu.Lock()
	if n.role != Leader {
		n.mu.Unlock()
		return false, nil
	}
	if n.pendingCfg != nil {
		n.mu.Unlock()
		return false, nil
	}
	old := n.members.Active()
	term := n.log.CurrentTerm()
	n.mu.Unlock()

	if err := n.members.Propose(cfg); err != nil {
		return false, err
	}

	payload := encodeConfigChangeEntry(cfg)
	cmdID := configChangeCommandID
	entries := []wal.LogEntry{{Term: term, Payload: payload, CommandID: &cmdID}}
	lastIndex, err := n.log.Append(ctx, entries, n.log.LastIndex()+1, false, false)
	if err != nil {
		return false, err
	}

	n.mu.Lock()
	n.termCache.insert(int64(lastIndex), int64(term))
	n.pendingCfg = &configChange{index: lastIndex, old: old, new: cfg}
	for _, m := range cfg.Members {
		if m.ID == n.id {
			continue
		}
		if _, ok := n.peers[m.ID]; !ok {
			n.peers[m.ID] = &peerState{nextIndex: lastIndex, backoff: n.opts.ReplicationBackoff}
		}
	}
	n.mu.Unlock()
	return true, nil
}

// Propose appends an application command to the log. It returns the index
// the entry was assigned and ErrNotLeader if this node doesn't currently
// believe itself to be the leader. A successful return does not mean the
// entry has committed; callers that need that guarantee should poll
// Inspect().CommitIndex or watch HandleSynchronize's read-index contract.
func (n *Node) Propose(ctx context.Context, payload []byte) (uint64, error) {
	n.mu.Lock()
	if n.role != Leader {
		n.mu.Unlock()
		return 0, ErrNotLeader
	}
	term := n.log.CurrentTerm()
	n.mu.Unlock()

	entries := []wal.LogEntry{{Term: term, Payload: payload}}
	lastIndex, err := n.log.Append(ctx, entries, n.log.LastIndex()+1, false, false)
	if err != nil {
		return 0, err
	}

	n.mu.Lock()
	n.termCache.insert(int64(lastIndex), int64(term))
	n.mu.Unlock()
	return lastIndex, nil
}
