package tcp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cuemby/raftcore/pkg/log"
	"github.com/cuemby/raftcore/pkg/transport"
)

// requestTimeout bounds how long a single decoded request is given to run
// against the Handler before the connection is dropped.
const requestTimeout = 5 * time.Second

// Server accepts TCP connections and dispatches decoded frames to a
// transport.Handler, normally a *raft.Node. One connection serves an
// unbounded sequence of request/reply frames until the peer disconnects.
type Server struct {
	handler  transport.Handler
	listener net.Listener

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// Listen binds addr and returns a Server ready to Serve.
func Listen(addr string, handler transport.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{handler: handler, listener: ln, conns: make(map[net.Conn]struct{})}, nil
}

// Addr returns the server's bound address, useful when addr was ":0".
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve accepts connections until Close is called. It should be run in its
// own goroutine.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// Close stops accepting new connections and closes every open one.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closing = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		typ, payload, err := transport.ReadFrame(conn)
		if err != nil {
			return
		}
		log.WithComponent("transport").Trace().Int("type", int(typ)).Int("bytes", len(payload)).Msg("received frame")
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		replyType, replyPayload, err := dispatch(ctx, s.handler, typ, payload)
		cancel()
		if err != nil {
			log.WithComponent("transport").Error().Err(err).Msg("request handling failed")
			return
		}
		if err := transport.WriteFrame(conn, replyType, replyPayload); err != nil {
			return
		}
	}
}

// dispatch decodes one request frame, calls the matching Handler method, and
// encodes the reply. It is the server-side mirror of the per-RPC methods on
// Client.
func dispatch(ctx context.Context, h transport.Handler, typ transport.MessageType, payload []byte) (transport.MessageType, []byte, error) {
	switch typ {
	case transport.MsgVoteRequest:
		req, err := transport.DecodeVoteRequest(payload)
		if err != nil {
			return 0, nil, err
		}
		reply, err := h.HandleRequestVote(ctx, req)
		if err != nil {
			return 0, nil, err
		}
		return transport.MsgVoteReply, transport.EncodeVoteReply(reply), nil

	case transport.MsgPreVoteRequest:
		req, err := transport.DecodePreVoteRequest(payload)
		if err != nil {
			return 0, nil, err
		}
		reply, err := h.HandleRequestPreVote(ctx, req)
		if err != nil {
			return 0, nil, err
		}
		return transport.MsgPreVoteReply, transport.EncodePreVoteReply(reply), nil

	case transport.MsgAppendEntriesRequest:
		req, err := transport.DecodeAppendEntriesRequest(payload)
		if err != nil {
			return 0, nil, err
		}
		reply, err := h.HandleAppendEntries(ctx, req)
		if err != nil {
			return 0, nil, err
		}
		return transport.MsgAppendEntriesReply, transport.EncodeAppendEntriesReply(reply), nil

	case transport.MsgInstallSnapshotRequest:
		req, err := transport.DecodeInstallSnapshotRequest(payload)
		if err != nil {
			return 0, nil, err
		}
		reply, err := h.HandleInstallSnapshot(ctx, req)
		if err != nil {
			return 0, nil, err
		}
		return transport.MsgInstallSnapshotReply, transport.EncodeInstallSnapshotReply(reply), nil

	case transport.MsgResignRequest:
		req, err := transport.DecodeResignRequest(payload)
		if err != nil {
			return 0, nil, err
		}
		reply, err := h.HandleResign(ctx, req)
		if err != nil {
			return 0, nil, err
		}
		return transport.MsgResignReply, transport.EncodeResignReply(reply), nil

	case transport.MsgSynchronizeRequest:
		req, err := transport.DecodeSynchronizeRequest(payload)
		if err != nil {
			return 0, nil, err
		}
		reply, err := h.HandleSynchronize(ctx, req)
		if err != nil {
			return 0, nil, err
		}
		return transport.MsgSynchronizeReply, transport.EncodeSynchronizeReply(reply), nil

	case transport.MsgConfigurationProposeRequest:
		req, err := transport.DecodeConfigurationProposeRequest(payload)
		if err != nil {
			return 0, nil, err
		}
		reply, err := h.HandleConfigurationPropose(ctx, req)
		if err != nil {
			return 0, nil, err
		}
		return transport.MsgConfigurationProposeReply, transport.EncodeConfigurationProposeReply(reply), nil

	default:
		log.WithComponent("transport").Warn().Int("type", int(typ)).Msg("unknown frame type")
		return 0, nil, errUnknownMessageType
	}
}
