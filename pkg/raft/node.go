package raft

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/raftcore/pkg/log"
	"github.com/cuemby/raftcore/pkg/membership"
	"github.com/cuemby/raftcore/pkg/metrics"
	"github.com/cuemby/raftcore/pkg/syncx"
	"github.com/cuemby/raftcore/pkg/transport"
	"github.com/cuemby/raftcore/pkg/wal"
)

// peerState is the leader's single-writer view of one peer's replication
// progress. Only the replication goroutine for that peer mutates it.
type peerState struct {
	nextIndex  uint64
	matchIndex uint64
	unreachable bool
	backoff     Backoff
}

// configChange tracks an in-flight single-step reconfiguration: the
// configuration-change log entry appended by this leader, pending
// replication to a majority of the new configuration. While pending,
// commit-advancement quorum math uses the union of old and new
// configurations.
type configChange struct {
	index uint64
	old   membership.Configuration
	new   membership.Configuration
}

// Node drives the Raft state machine for one cluster member.
type Node struct {
	id   string
	opts Options

	log       *wal.Store
	members   *membership.Manager
	transport transport.Transport

	mu           sync.Mutex
	role         Role
	leaderID     string
	handler      roleHandler
	termCache    *termCache
	peers        map[string]*peerState
	lastContact  time.Time
	pendingCfg   *configChange
	leaderCommit uint64
	rng          *rand.Rand

	resetElectionCh chan struct{}
	applyReady      *syncx.AutoResetEvent

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewNode constructs a Node. Call Start to begin running it.
func NewNode(opts Options, store *wal.Store, members *membership.Manager, tr transport.Transport) *Node {
	return &Node{
		id:              opts.NodeID,
		opts:            opts,
		log:             store,
		members:         members,
		transport:       tr,
		role:            Follower,
		termCache:       newTermCache(),
		peers:           make(map[string]*peerState),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(hashString(opts.NodeID)))),
		resetElectionCh: make(chan struct{}, 1),
		applyReady:      syncx.NewAutoResetEvent(),
		stopCh:          make(chan struct{}),
	}
}

func hashString(s string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// Start begins running the node's background tasks: the role handler for
// its initial role, and the commit-applier loop.
func (n *Node) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return
	}
	n.started = true

	initial := Follower
	if me, ok := n.members.Active().Get(n.id); ok && me.Standby {
		initial = Standby
	}
	n.role = initial
	n.handler = n.newHandlerLocked(initial)
	n.handler.start()

	n.wg.Add(1)
	go n.commitApplierLoop()

	log.WithNode("raft", n.id).Info().Str("role", initial.String()).Msg("node started")
}

// Stop disposes the current role handler and halts background tasks.
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return
	}
	n.started = false
	if n.handler != nil {
		n.handler.stop()
	}
	close(n.stopCh)
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Node) newHandlerLocked(role Role) roleHandler {
	switch role {
	case Follower, Standby:
		return newFollowerHandler(n, role)
	case Candidate:
		return newCandidateHandler(n)
	case Leader:
		return newLeaderHandler(n)
	default:
		panic(fmt.Sprintf("raft: unknown role %v", role))
	}
}

// transitionTo disposes the current role handler and starts a new one. The
// caller must hold n.mu.
func (n *Node) transitionToLocked(role Role) {
	if n.handler != nil {
		n.handler.stop()
	}
	n.role = role
	n.handler = n.newHandlerLocked(role)
	n.handler.start()
}

func (n *Node) electionTimeout() time.Duration {
	span := int64(n.opts.ElectionMax - n.opts.ElectionMin)
	if span <= 0 {
		return n.opts.ElectionMin
	}
	return n.opts.ElectionMin + time.Duration(n.rng.Int63n(span))
}

func (n *Node) signalElectionReset() {
	select {
	case n.resetElectionCh <- struct{}{}:
	default:
	}
}

// observeTerm applies the "any RPC with term > current_term" common rule:
// steps down to follower and persists the higher term with no vote cast.
// Returns true if the term advanced. Caller must hold n.mu.
func (n *Node) observeTermLocked(ctx context.Context, term uint64) bool {
	if term <= n.log.CurrentTerm() {
		return false
	}
	_ = n.log.SetTermAndVote(ctx, term, "")
	if n.role != Standby {
		n.transitionToLocked(Follower)
	}
	n.leaderID = ""
	metrics.RaftCurrentTerm.Set(float64(term))
	return true
}

// HandleRequestVote implements transport.Handler.
func (n *Node) HandleRequestVote(ctx context.Context, args *transport.VoteRequest) (*transport.VoteReply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.observeTermLocked(ctx, uint64(args.Term))
	currentTerm := n.log.CurrentTerm()
	if uint64(args.Term) < currentTerm {
		return &transport.VoteReply{Term: int64(currentTerm), VoteGranted: false}, nil
	}

	votedFor := n.log.VotedFor()
	upToDate := n.candidateLogUpToDateLocked(uint64(args.LastLogIndex), uint64(args.LastLogTerm))
	grant := (votedFor == "" || votedFor == args.CandidateID) && upToDate
	if grant {
		if err := n.log.SetTermAndVote(ctx, currentTerm, args.CandidateID); err != nil {
			return nil, err
		}
		n.signalElectionReset()
		metrics.RaftVotesGranted.Inc()
	}
	return &transport.VoteReply{Term: int64(currentTerm), VoteGranted: grant}, nil
}

// HandleRequestPreVote implements transport.Handler. It never mutates
// persistent state: a candidate probing for pre-votes must not cause
// followers to bump their term or record a vote.
func (n *Node) HandleRequestPreVote(ctx context.Context, args *transport.PreVoteRequest) (*transport.PreVoteReply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	currentTerm := n.log.CurrentTerm()
	if uint64(args.Term) < currentTerm {
		return &transport.PreVoteReply{Term: int64(currentTerm), Accepted: false}, nil
	}
	upToDate := n.candidateLogUpToDateLocked(uint64(args.LastLogIndex), uint64(args.LastLogTerm))
	recentLeader := n.role != Candidate && time.Since(n.lastContact) < n.opts.ElectionMin && n.leaderID != ""
	accepted := upToDate && !recentLeader
	return &transport.PreVoteReply{Term: int64(currentTerm), Accepted: accepted}, nil
}

func (n *Node) candidateLogUpToDateLocked(lastLogIndex, lastLogTerm uint64) bool {
	myLastTerm := n.log.LastTerm()
	myLastIndex := n.log.LastIndex()
	if lastLogTerm != myLastTerm {
		return lastLogTerm > myLastTerm
	}
	return lastLogIndex >= myLastIndex
}

// HandleAppendEntries implements transport.Handler.
func (n *Node) HandleAppendEntries(ctx context.Context, args *transport.AppendEntriesRequest) (*transport.AppendEntriesReply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.observeTermLocked(ctx, uint64(args.Term))
	currentTerm := n.log.CurrentTerm()
	if uint64(args.Term) < currentTerm {
		return &transport.AppendEntriesReply{Term: int64(currentTerm), Success: false}, nil
	}

	if n.role == Candidate {
		n.transitionToLocked(Follower)
	}
	n.leaderID = args.LeaderID
	n.lastContact = time.Now()
	n.signalElectionReset()

	prevIndex := uint64(args.PrevLogIndex)
	if prevIndex > 0 {
		myTerm, ok := n.termAtLocked(prevIndex)
		if !ok {
			return &transport.AppendEntriesReply{Term: int64(currentTerm), Success: false, ConflictIndex: int64(n.log.LastIndex() + 1)}, nil
		}
		if myTerm != uint64(args.PrevLogTerm) {
			conflictIndex := n.firstIndexOfTermLocked(myTerm, prevIndex)
			return &transport.AppendEntriesReply{Term: int64(currentTerm), Success: false, ConflictIndex: int64(conflictIndex), ConflictTerm: int64(myTerm)}, nil
		}
	}

	if len(args.Entries) > 0 {
		start := uint64(args.Entries[0].Index)
		if start == 0 {
			start = prevIndex + 1
		}
		if _, err := n.log.Append(ctx, args.Entries, start, true, false); err != nil {
			return nil, fmt.Errorf("raft: append from leader: %w", err)
		}
		for _, e := range args.Entries {
			n.termCache.insert(int64(e.Index), int64(e.Term))
		}
		n.applyReady.Set()
	}

	if uint64(args.CommitIndex) > n.leaderCommit {
		n.leaderCommit = uint64(args.CommitIndex)
	}
	if uint64(args.CommitIndex) > n.log.CommitIndex() {
		n.applyReady.Set()
	}

	return &transport.AppendEntriesReply{Term: int64(currentTerm), Success: true}, nil
}

func (n *Node) termAtLocked(index uint64) (uint64, bool) {
	if index == 0 {
		return 0, true
	}
	if t, ok := n.termCache.get(int64(index)); ok {
		return uint64(t), true
	}
	if index > n.log.LastIndex() {
		return 0, false
	}
	var term uint64
	found := false
	err := n.log.Read(context.Background(), index, index, func(item wal.ReadItem) error {
		if item.Entry != nil {
			term = item.Entry.Term
			found = true
		}
		return nil
	})
	if err != nil || !found {
		return 0, false
	}
	n.termCache.insert(int64(index), int64(term))
	return term, true
}

func (n *Node) firstIndexOfTermLocked(term, before uint64) uint64 {
	idx := before
	for idx > 0 {
		t, ok := n.termAtLocked(idx - 1)
		if !ok || t != term {
			break
		}
		idx--
	}
	return idx
}

// HandleInstallSnapshot implements transport.Handler.
func (n *Node) HandleInstallSnapshot(ctx context.Context, args *transport.InstallSnapshotRequest) (*transport.InstallSnapshotReply, error) {
	n.mu.Lock()
	n.observeTermLocked(ctx, uint64(args.Term))
	currentTerm := n.log.CurrentTerm()
	if uint64(args.Term) < currentTerm {
		n.mu.Unlock()
		return &transport.InstallSnapshotReply{Term: int64(currentTerm)}, nil
	}
	n.leaderID = args.LeaderID
	n.lastContact = time.Now()
	n.signalElectionReset()
	n.termCache.clear()
	n.mu.Unlock()

	err := n.log.InstallSnapshot(ctx, uint64(args.LastIncludedIndex), uint64(args.LastIncludedTerm), args.ConfigurationFingerprint, bytes.NewReader(args.Data))
	if err != nil {
		return nil, fmt.Errorf("raft: install snapshot: %w", err)
	}
	metrics.RaftCommitIndex.Set(float64(n.log.CommitIndex()))
	return &transport.InstallSnapshotReply{Term: int64(currentTerm)}, nil
}

// HandleResign implements transport.Handler: a planned leadership transfer
// request. Only the current leader acts on it.
func (n *Node) HandleResign(ctx context.Context, args *transport.ResignRequest) (*transport.ResignReply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	currentTerm := n.log.CurrentTerm()
	if n.role != Leader || uint64(args.Term) != currentTerm {
		return &transport.ResignReply{Term: int64(currentTerm), Resigned: false}, nil
	}
	n.transitionToLocked(Follower)
	return &transport.ResignReply{Term: int64(currentTerm), Resigned: true}, nil
}

// HandleSynchronize implements transport.Handler: a follower's
// acknowledgement that the requesting leader's term is still current,
// used for the leader's own read-index liveness check.
func (n *Node) HandleSynchronize(ctx context.Context, args *transport.SynchronizeRequest) (*transport.SynchronizeReply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	currentTerm := n.log.CurrentTerm()
	ok := uint64(args.Term) == currentTerm
	return &transport.SynchronizeReply{Term: int64(currentTerm), Ok: ok}, nil
}

// HandleConfigurationPropose implements transport.Handler. Only the leader
// accepts; followers respond with a leader hint.
func (n *Node) HandleConfigurationPropose(ctx context.Context, args *transport.ConfigurationProposeRequest) (*transport.ConfigurationProposeReply, error) {
	n.mu.Lock()
	if n.role != Leader {
		hint := n.leaderID
		n.mu.Unlock()
		return &transport.ConfigurationProposeReply{Accepted: false, LeaderHint: hint}, nil
	}
	n.mu.Unlock()

	members := make([]membership.Member, len(args.Members))
	for i, m := range args.Members {
		members[i] = membership.Member{ID: m.ID, Address: m.Address, Standby: m.Standby}
	}
	ok, err := n.ProposeConfiguration(ctx, membership.Configuration{Members: members})
	if err != nil {
		return nil, err
	}
	return &transport.ConfigurationProposeReply{Accepted: ok}, nil
}

// Role reports the node's current role.
func (n *Node) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// LeaderHint reports who the node believes the current leader is, which
// may be empty.
func (n *Node) LeaderHint() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderID
}

// commitApplierLoop wakes whenever applyReady is set and advances the
// commit index to whatever the leader's replication loop (or a follower's
// AppendEntries handler) has determined is safe, applying newly committed
// entries to the state machine via wal.Store.Commit.
func (n *Node) commitApplierLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = n.applyReady.Wait(ctx)
		cancel()

		select {
		case <-n.stopCh:
			return
		default:
		}

		n.mu.Lock()
		target := n.commitTargetLocked()
		n.mu.Unlock()
		if target > n.log.CommitIndex() {
			applyCtx, applyCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := n.log.Commit(applyCtx, target); err != nil {
				log.WithComponent("raft").Error().Err(err).Msg("commit apply failed")
			} else {
				metrics.RaftAppliedIndex.Set(float64(n.log.AppliedIndex()))
				metrics.RaftCommitIndex.Set(float64(n.log.CommitIndex()))
			}
			applyCancel()
		}
	}
}

// commitTargetLocked computes the highest index this node currently
// believes is safe to commit. Followers trust the leader's advertised
// commit index (leaderCommit, set from AppendEntries), clamped to this
// node's own last_index since the entries it covers may not have arrived
// yet; leaders compute it from the match_index quorum.
func (n *Node) commitTargetLocked() uint64 {
	if n.role != Leader {
		if n.leaderCommit < n.log.LastIndex() {
			return n.leaderCommit
		}
		return n.log.LastIndex()
	}
	return n.leaderCommitTargetLocked()
}

// votingQuorumLocked returns the member set commit-advancement quorum is
// computed against: the union of old and new configurations while a
// reconfiguration is in flight, the active configuration otherwise.
func (n *Node) votingQuorumLocked() []membership.Member {
	if n.pendingCfg != nil {
		return membership.Union(n.pendingCfg.old, n.pendingCfg.new).VotingMembers()
	}
	return n.members.Active().VotingMembers()
}
