// Package membership tracks cluster configuration: the set of voting and
// standby members a Raft node replicates against. A configuration change is
// a two-phase operation — Propose stages a candidate configuration,
// Apply promotes it to active once the owning log entry commits — with at
// most one proposal outstanding at a time. Applied changes are published to
// subscribers and to any caller blocked in WaitForApply.
package membership
