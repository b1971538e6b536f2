package transport

import "context"

// Transport is the set of RPCs a Raft node issues to its peers. Every call
// is a single unicast request/reply exchange; large payloads (log entry
// batches, snapshot bytes) are still carried as ordinary Go values here —
// an implementation is free to fragment them into StreamStart/Fragment/
// StreamEnd frames on the wire, but the interface the core programs against
// never sees that framing.
type Transport interface {
	RequestVote(ctx context.Context, peer string, args *VoteRequest) (*VoteReply, error)
	RequestPreVote(ctx context.Context, peer string, args *PreVoteRequest) (*PreVoteReply, error)
	AppendEntries(ctx context.Context, peer string, args *AppendEntriesRequest) (*AppendEntriesReply, error)
	InstallSnapshot(ctx context.Context, peer string, args *InstallSnapshotRequest) (*InstallSnapshotReply, error)
	Resign(ctx context.Context, peer string, args *ResignRequest) (*ResignReply, error)
	Synchronize(ctx context.Context, peer string, args *SynchronizeRequest) (*SynchronizeReply, error)
	ProposeConfiguration(ctx context.Context, peer string, args *ConfigurationProposeRequest) (*ConfigurationProposeReply, error)
}

// Handler is the inbound side of Transport: whatever serves incoming
// connections (pkg/transport/tcp's server, or an in-process test double)
// dispatches decoded requests to a Handler, normally a *raft.Node.
type Handler interface {
	HandleRequestVote(ctx context.Context, args *VoteRequest) (*VoteReply, error)
	HandleRequestPreVote(ctx context.Context, args *PreVoteRequest) (*PreVoteReply, error)
	HandleAppendEntries(ctx context.Context, args *AppendEntriesRequest) (*AppendEntriesReply, error)
	HandleInstallSnapshot(ctx context.Context, args *InstallSnapshotRequest) (*InstallSnapshotReply, error)
	HandleResign(ctx context.Context, args *ResignRequest) (*ResignReply, error)
	HandleSynchronize(ctx context.Context, args *SynchronizeRequest) (*SynchronizeReply, error)
	HandleConfigurationPropose(ctx context.Context, args *ConfigurationProposeRequest) (*ConfigurationProposeReply, error)
}
