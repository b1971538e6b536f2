package raft

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftcore/pkg/membership"
	"github.com/cuemby/raftcore/pkg/transport"
	"github.com/cuemby/raftcore/pkg/wal"
)

// routerTransport dispatches RPCs to in-process handlers keyed by address,
// standing in for pkg/transport/tcp so pkg/raft's tests never touch a
// socket. Addresses unknown to the router, or explicitly cut via partition,
// fail as if the peer were unreachable.
type routerTransport struct {
	mu       sync.RWMutex
	handlers map[string]transport.Handler
	cut      map[string]bool
}

func newRouterTransport() *routerTransport {
	return &routerTransport{handlers: make(map[string]transport.Handler), cut: make(map[string]bool)}
}

func (r *routerTransport) register(addr string, h transport.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[addr] = h
}

func (r *routerTransport) partition(addr string, cut bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cut[addr] = cut
}

func (r *routerTransport) handler(addr string) (transport.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cut[addr] {
		return nil, fmt.Errorf("routerTransport: %s is partitioned", addr)
	}
	h, ok := r.handlers[addr]
	if !ok {
		return nil, fmt.Errorf("routerTransport: no handler for %s", addr)
	}
	return h, nil
}

func (r *routerTransport) RequestVote(ctx context.Context, peer string, args *transport.VoteRequest) (*transport.VoteReply, error) {
	h, err := r.handler(peer)
	if err != nil {
		return nil, err
	}
	return h.HandleRequestVote(ctx, args)
}

func (r *routerTransport) RequestPreVote(ctx context.Context, peer string, args *transport.PreVoteRequest) (*transport.PreVoteReply, error) {
	h, err := r.handler(peer)
	if err != nil {
		return nil, err
	}
	return h.HandleRequestPreVote(ctx, args)
}

func (r *routerTransport) AppendEntries(ctx context.Context, peer string, args *transport.AppendEntriesRequest) (*transport.AppendEntriesReply, error) {
	h, err := r.handler(peer)
	if err != nil {
		return nil, err
	}
	return h.HandleAppendEntries(ctx, args)
}

func (r *routerTransport) InstallSnapshot(ctx context.Context, peer string, args *transport.InstallSnapshotRequest) (*transport.InstallSnapshotReply, error) {
	h, err := r.handler(peer)
	if err != nil {
		return nil, err
	}
	return h.HandleInstallSnapshot(ctx, args)
}

func (r *routerTransport) Resign(ctx context.Context, peer string, args *transport.ResignRequest) (*transport.ResignReply, error) {
	h, err := r.handler(peer)
	if err != nil {
		return nil, err
	}
	return h.HandleResign(ctx, args)
}

func (r *routerTransport) Synchronize(ctx context.Context, peer string, args *transport.SynchronizeRequest) (*transport.SynchronizeReply, error) {
	h, err := r.handler(peer)
	if err != nil {
		return nil, err
	}
	return h.HandleSynchronize(ctx, args)
}

func (r *routerTransport) ProposeConfiguration(ctx context.Context, peer string, args *transport.ConfigurationProposeRequest) (*transport.ConfigurationProposeReply, error) {
	h, err := r.handler(peer)
	if err != nil {
		return nil, err
	}
	return h.HandleConfigurationPropose(ctx, args)
}

type testCluster struct {
	t      *testing.T
	router *routerTransport
	nodes  map[string]*Node
}

func addrOf(id string) string { return id + ":0" }

// newTestCluster wires up n nodes sharing one membership configuration and
// one in-process router, with fast timeouts suited to unit tests.
func newTestCluster(t *testing.T, n int) *testCluster {
	t.Helper()
	router := newRouterTransport()
	cluster := &testCluster{t: t, router: router, nodes: make(map[string]*Node)}

	members := make([]membership.Member, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("node-%d", i)
		members[i] = membership.Member{ID: id, Address: addrOf(id)}
	}
	cfg := membership.NewConfiguration(members...)

	for i := 0; i < n; i++ {
		id := members[i].ID
		dir, err := os.MkdirTemp("", "raftcore-test-*")
		require.NoError(t, err)
		t.Cleanup(func() { os.RemoveAll(dir) })

		mgr := membership.NewManager(membership.NewInMemoryStore(), membership.NewInMemoryStore())
		require.NoError(t, mgr.Propose(cfg))
		_, err = mgr.Apply()
		require.NoError(t, err)

		walOpts := wal.DefaultOptions(dir)
		store, err := wal.Open(walOpts, nil)
		require.NoError(t, err)

		opts := DefaultOptions(id)
		opts.ElectionMin = 30 * time.Millisecond
		opts.ElectionMax = 60 * time.Millisecond
		opts.RPCTimeout = 200 * time.Millisecond
		opts.EnablePreVote = true

		node := NewNode(opts, store, mgr, router)
		router.register(addrOf(id), node)
		cluster.nodes[id] = node
	}
	return cluster
}

func (c *testCluster) startAll() {
	for _, n := range c.nodes {
		n.Start()
	}
}

func (c *testCluster) stopAll() {
	for _, n := range c.nodes {
		n.Stop()
	}
}

// awaitLeader polls until exactly one node reports itself Leader, or fails
// the test after timeout.
func (c *testCluster) awaitLeader(timeout time.Duration) *Node {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, n := range c.nodes {
			if n.Role() == Leader {
				return n
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.t.Fatal("no leader elected before timeout")
	return nil
}
