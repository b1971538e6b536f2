// Package tcp is the reference transport.Transport/Handler wiring: plain
// TCP connections framed by pkg/transport's length-prefixed binary codec.
// It exists to drive the demo binary and integration tests; any transport
// satisfying pkg/transport's interfaces works equally well against pkg/raft.
package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/raftcore/pkg/transport"
)

// DialTimeout bounds how long establishing a new connection to a peer may
// take before Transport falls back to reporting it unreachable.
const DialTimeout = 3 * time.Second

// Client is a transport.Transport backed by one pooled, reused TCP
// connection per peer address. A broken connection is dropped from the pool
// and redialed on the next call rather than retried in place, leaving retry
// policy to the caller (pkg/raft's Backoff).
type Client struct {
	mu    sync.Mutex
	conns map[string]net.Conn
}

// NewClient returns an empty connection pool.
func NewClient() *Client {
	return &Client{conns: make(map[string]net.Conn)}
}

// Close closes every pooled connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, conn := range c.conns {
		_ = conn.Close()
		delete(c.conns, addr)
	}
	return nil
}

func (c *Client) getConn(addr string) (net.Conn, error) {
	c.mu.Lock()
	if conn, ok := c.conns[addr]; ok {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}

	c.mu.Lock()
	if existing, ok := c.conns[addr]; ok {
		c.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	c.conns[addr] = conn
	c.mu.Unlock()
	return conn, nil
}

func (c *Client) drop(addr string, conn net.Conn) {
	c.mu.Lock()
	if current, ok := c.conns[addr]; ok && current == conn {
		delete(c.conns, addr)
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// roundTrip writes a request frame and reads the matching reply frame,
// dropping the connection from the pool on any I/O error so the next call
// redials.
func roundTrip(ctx context.Context, c *Client, addr string, reqType transport.MessageType, reqPayload []byte) (transport.MessageType, []byte, error) {
	conn, err := c.getConn(addr)
	if err != nil {
		return 0, nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(DialTimeout))
	}

	if err := transport.WriteFrame(conn, reqType, reqPayload); err != nil {
		c.drop(addr, conn)
		return 0, nil, err
	}
	replyType, replyPayload, err := transport.ReadFrame(conn)
	if err != nil {
		c.drop(addr, conn)
		return 0, nil, err
	}
	return replyType, replyPayload, nil
}

func (c *Client) RequestVote(ctx context.Context, peer string, args *transport.VoteRequest) (*transport.VoteReply, error) {
	_, payload, err := roundTrip(ctx, c, peer, transport.MsgVoteRequest, transport.EncodeVoteRequest(args))
	if err != nil {
		return nil, err
	}
	return transport.DecodeVoteReply(payload)
}

func (c *Client) RequestPreVote(ctx context.Context, peer string, args *transport.PreVoteRequest) (*transport.PreVoteReply, error) {
	_, payload, err := roundTrip(ctx, c, peer, transport.MsgPreVoteRequest, transport.EncodePreVoteRequest(args))
	if err != nil {
		return nil, err
	}
	return transport.DecodePreVoteReply(payload)
}

func (c *Client) AppendEntries(ctx context.Context, peer string, args *transport.AppendEntriesRequest) (*transport.AppendEntriesReply, error) {
	_, payload, err := roundTrip(ctx, c, peer, transport.MsgAppendEntriesRequest, transport.EncodeAppendEntriesRequest(args))
	if err != nil {
		return nil, err
	}
	return transport.DecodeAppendEntriesReply(payload)
}

func (c *Client) InstallSnapshot(ctx context.Context, peer string, args *transport.InstallSnapshotRequest) (*transport.InstallSnapshotReply, error) {
	_, payload, err := roundTrip(ctx, c, peer, transport.MsgInstallSnapshotRequest, transport.EncodeInstallSnapshotRequest(args))
	if err != nil {
		return nil, err
	}
	return transport.DecodeInstallSnapshotReply(payload)
}

func (c *Client) Resign(ctx context.Context, peer string, args *transport.ResignRequest) (*transport.ResignReply, error) {
	_, payload, err := roundTrip(ctx, c, peer, transport.MsgResignRequest, transport.EncodeResignRequest(args))
	if err != nil {
		return nil, err
	}
	return transport.DecodeResignReply(payload)
}

func (c *Client) Synchronize(ctx context.Context, peer string, args *transport.SynchronizeRequest) (*transport.SynchronizeReply, error) {
	_, payload, err := roundTrip(ctx, c, peer, transport.MsgSynchronizeRequest, transport.EncodeSynchronizeRequest(args))
	if err != nil {
		return nil, err
	}
	return transport.DecodeSynchronizeReply(payload)
}

func (c *Client) ProposeConfiguration(ctx context.Context, peer string, args *transport.ConfigurationProposeRequest) (*transport.ConfigurationProposeReply, error) {
	_, payload, err := roundTrip(ctx, c, peer, transport.MsgConfigurationProposeRequest, transport.EncodeConfigurationProposeRequest(args))
	if err != nil {
		return nil, err
	}
	return transport.DecodeConfigurationProposeReply(payload)
}

var _ transport.Transport = (*Client)(nil)
