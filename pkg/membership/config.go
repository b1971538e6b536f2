// Package membership implements cluster configuration storage: the ordered
// member-id-to-address mapping Raft replicates against, with propose/apply
// two-phase reconfiguration and a fingerprint that uniquely identifies
// content.
package membership

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Member is one entry in a cluster configuration.
type Member struct {
	ID      string
	Address string
	Standby bool
}

// Configuration is an ordered mapping from member id to endpoint address.
// Order is preserved from construction (insertion order), matching the
// "ordered mapping" data-model requirement; Fingerprint is order-independent
// so two configurations with the same members always hash identically
// regardless of how they were built.
type Configuration struct {
	Members []Member
}

// NewConfiguration returns a configuration containing members, in the given
// order.
func NewConfiguration(members ...Member) Configuration {
	cp := make([]Member, len(members))
	copy(cp, members)
	return Configuration{Members: cp}
}

// Has reports whether id is present.
func (c Configuration) Has(id string) bool {
	for _, m := range c.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Get returns the member with id, if present.
func (c Configuration) Get(id string) (Member, bool) {
	for _, m := range c.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// Without returns a copy of c with id removed.
func (c Configuration) Without(id string) Configuration {
	out := make([]Member, 0, len(c.Members))
	for _, m := range c.Members {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return Configuration{Members: out}
}

// With returns a copy of c with m added (or replacing an existing member
// with the same id).
func (c Configuration) With(m Member) Configuration {
	out := c.Without(m.ID).Members
	out = append(out, m)
	return Configuration{Members: out}
}

// VotingMembers returns only the members that count toward commit-quorum
// math, excluding standbys.
func (c Configuration) VotingMembers() []Member {
	out := make([]Member, 0, len(c.Members))
	for _, m := range c.Members {
		if !m.Standby {
			out = append(out, m)
		}
	}
	return out
}

// Union returns a configuration containing the member-id union of a and b,
// used during joint-union quorum interlock while a reconfiguration entry is
// in flight.
func Union(a, b Configuration) Configuration {
	seen := make(map[string]bool, len(a.Members)+len(b.Members))
	out := make([]Member, 0, len(a.Members)+len(b.Members))
	for _, m := range a.Members {
		if !seen[m.ID] {
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	for _, m := range b.Members {
		if !seen[m.ID] {
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return Configuration{Members: out}
}

// Fingerprint returns the 64-bit content hash used to detect configuration
// changes, computed with xxHash over a canonical (id-sorted) encoding so
// member insertion order never affects it.
func (c Configuration) Fingerprint() uint64 {
	ids := make([]string, len(c.Members))
	byID := make(map[string]Member, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ID
		byID[m.ID] = m
	}
	sort.Strings(ids)

	var sb strings.Builder
	for _, id := range ids {
		m := byID[id]
		sb.WriteString(m.ID)
		sb.WriteByte('=')
		sb.WriteString(m.Address)
		sb.WriteByte('=')
		sb.WriteString(strconv.FormatBool(m.Standby))
		sb.WriteByte(';')
	}
	return xxhash.Sum64String(sb.String())
}

// Diff reports the members added and removed going from old to new.
func Diff(old, new Configuration) (added, removed []Member) {
	for _, m := range new.Members {
		if !old.Has(m.ID) {
			added = append(added, m)
		}
	}
	for _, m := range old.Members {
		if !new.Has(m.ID) {
			removed = append(removed, m)
		}
	}
	return added, removed
}
