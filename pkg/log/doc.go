/*
Package log provides structured logging for raftcore using zerolog.

It wraps a single global zerolog.Logger with component-tagged child
loggers so the wal, raft, syncx, membership and transport packages can
all log through one configured sink without importing each other.
WithComponent tags a single field; WithNode, WithElection and WithIndex
bundle the field combinations those packages actually log with (node
identity, an election's node+term pair, a specific log index).

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.WithElection(nodeID, term).Info().Msg("became leader")

TraceLevel logs every RPC frame a transport.Server receives; it is far
too noisy to run in production but is the first thing to enable when
chasing a replication bug across nodes. Debug is the next step down.
Never log entry payload bytes or voted-for secrets at Info or above.
*/
package log
