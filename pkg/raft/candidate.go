package raft

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/raftcore/pkg/log"
	"github.com/cuemby/raftcore/pkg/metrics"
	"github.com/cuemby/raftcore/pkg/transport"
)

// candidateHandler drives election rounds: pre-vote (optional), then a
// real RequestVote fan-out, repeating with a fresh randomized timeout
// until it wins, discovers a higher term, or is disposed by a transition
// triggered from an incoming RPC.
type candidateHandler struct {
	n      *Node
	ctx    context.Context
	cancel context.CancelFunc
}

func newCandidateHandler(n *Node) *candidateHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &candidateHandler{n: n, ctx: ctx, cancel: cancel}
}

func (h *candidateHandler) role() Role { return Candidate }

func (h *candidateHandler) start() {
	h.n.wg.Add(1)
	go h.run()
}

func (h *candidateHandler) stop() {
	h.cancel()
}

func (h *candidateHandler) run() {
	defer h.n.wg.Done()
	n := h.n

	for {
		if h.ctx.Err() != nil {
			return
		}
		roundTimeout := n.electionTimeout()

		if n.opts.EnablePreVote {
			if !h.preVoteRound(roundTimeout) {
				if h.waitOrDone(roundTimeout) {
					return
				}
				continue
			}
		}

		won := h.voteRound(roundTimeout)
		if h.ctx.Err() != nil {
			return
		}
		if won {
			n.mu.Lock()
			if n.handler == h {
				n.transitionToLocked(Leader)
			}
			n.mu.Unlock()
			return
		}
		// Lost the round (split vote or a higher term stepped us down
		// already via observeTermLocked). If a higher term intervened, the
		// handler was replaced and this goroutine's next ctx check exits.
		if n.handler != h {
			return
		}
	}
}

// waitOrDone sleeps for d or returns true if the handler is disposed
// first.
func (h *candidateHandler) waitOrDone(d time.Duration) bool {
	select {
	case <-h.ctx.Done():
		return true
	case <-time.After(d):
		return false
	}
}

func (h *candidateHandler) preVoteRound(timeout time.Duration) bool {
	n := h.n
	n.mu.Lock()
	term := n.log.CurrentTerm() + 1
	lastIndex := n.log.LastIndex()
	lastTerm := n.log.LastTerm()
	voters := n.members.Active().VotingMembers()
	n.mu.Unlock()

	needed := len(voters)/2 + 1
	if needed <= 1 {
		return true // single-node cluster: no peers to ask
	}

	ctx, cancel := context.WithTimeout(h.ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	accepted := 1 // counts self
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range voters {
		if m.ID == n.id {
			continue
		}
		m := m
		g.Go(func() error {
			req := &transport.PreVoteRequest{Term: int64(term), CandidateID: n.id, LastLogIndex: int64(lastIndex), LastLogTerm: int64(lastTerm)}
			reply, err := n.transport.RequestPreVote(gctx, m.Address, req)
			if err != nil || reply == nil || !reply.Accepted {
				return nil
			}
			mu.Lock()
			accepted++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return accepted >= needed
}

func (h *candidateHandler) voteRound(timeout time.Duration) bool {
	n := h.n
	n.mu.Lock()
	term := n.log.CurrentTerm() + 1
	if err := n.log.SetTermAndVote(h.ctx, term, n.id); err != nil {
		n.mu.Unlock()
		log.WithComponent("raft").Error().Err(err).Msg("persist term/vote for new election round")
		return false
	}
	lastIndex := n.log.LastIndex()
	lastTerm := n.log.LastTerm()
	voters := n.members.Active().VotingMembers()
	n.mu.Unlock()

	metrics.RaftElectionsStarted.Inc()
	metrics.RaftCurrentTerm.Set(float64(term))
	log.WithElection(n.id, term).Info().Msg("starting election round")

	needed := len(voters)/2 + 1
	if needed <= 1 {
		return true
	}

	ctx, cancel := context.WithTimeout(h.ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	granted := 1 // counts self
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range voters {
		if m.ID == n.id {
			continue
		}
		m := m
		g.Go(func() error {
			req := &transport.VoteRequest{Term: int64(term), CandidateID: n.id, LastLogIndex: int64(lastIndex), LastLogTerm: int64(lastTerm)}
			reply, err := n.transport.RequestVote(gctx, m.Address, req)
			if err != nil || reply == nil {
				return nil
			}
			if uint64(reply.Term) > term {
				n.mu.Lock()
				n.observeTermLocked(gctx, uint64(reply.Term))
				n.mu.Unlock()
				return nil
			}
			if reply.VoteGranted {
				mu.Lock()
				granted++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return granted >= needed
}
