package raft

import (
	"context"
	"time"
)

// followerHandler runs the election timer for Follower and Standby roles.
// A Standby node never upgrades to Candidate on timeout: it behaves
// exactly like a follower otherwise, per spec.
type followerHandler struct {
	n      *Node
	r      Role
	ctx    context.Context
	cancel context.CancelFunc
}

func newFollowerHandler(n *Node, r Role) *followerHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &followerHandler{n: n, r: r, ctx: ctx, cancel: cancel}
}

func (h *followerHandler) role() Role { return h.r }

func (h *followerHandler) start() {
	h.n.wg.Add(1)
	go h.run()
}

func (h *followerHandler) stop() {
	h.cancel()
}

func (h *followerHandler) run() {
	defer h.n.wg.Done()
	n := h.n

	timer := time.NewTimer(n.electionTimeout())
	defer timer.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-n.resetElectionCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(n.electionTimeout())
		case <-timer.C:
			if h.r == Standby {
				timer.Reset(n.electionTimeout())
				continue
			}
			if n.opts.AggressiveLeaderStickiness {
				n.mu.Lock()
				recent := n.leaderID != "" && time.Since(n.lastContact) < n.opts.ElectionMin
				n.mu.Unlock()
				if recent {
					timer.Reset(n.electionTimeout())
					continue
				}
			}

			n.mu.Lock()
			if n.handler == h {
				n.transitionToLocked(Candidate)
			}
			n.mu.Unlock()
			return
		}
	}
}
