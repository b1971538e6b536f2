package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfiguration_FingerprintIsOrderIndependent(t *testing.T) {
	a := NewConfiguration(Member{ID: "a", Address: "10.0.0.1:8001"}, Member{ID: "b", Address: "10.0.0.2:8001"})
	b := NewConfiguration(Member{ID: "b", Address: "10.0.0.2:8001"}, Member{ID: "a", Address: "10.0.0.1:8001"})
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestConfiguration_FingerprintChangesWithMembership(t *testing.T) {
	a := NewConfiguration(Member{ID: "a", Address: "10.0.0.1:8001"})
	b := a.With(Member{ID: "b", Address: "10.0.0.2:8001"})
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestConfiguration_WithoutRemovesMember(t *testing.T) {
	cfg := NewConfiguration(Member{ID: "a"}, Member{ID: "b"})
	out := cfg.Without("a")
	assert.False(t, out.Has("a"))
	assert.True(t, out.Has("b"))
}

func TestConfiguration_VotingMembersExcludesStandby(t *testing.T) {
	cfg := NewConfiguration(Member{ID: "a"}, Member{ID: "b", Standby: true})
	voters := cfg.VotingMembers()
	assert.Len(t, voters, 1)
	assert.Equal(t, "a", voters[0].ID)
}

func TestUnion_CombinesDistinctMembers(t *testing.T) {
	a := NewConfiguration(Member{ID: "a"}, Member{ID: "b"})
	b := NewConfiguration(Member{ID: "b"}, Member{ID: "c"})
	u := Union(a, b)
	assert.True(t, u.Has("a"))
	assert.True(t, u.Has("b"))
	assert.True(t, u.Has("c"))
	assert.Len(t, u.Members, 3)
}

func TestDiff_ReportsAddedAndRemoved(t *testing.T) {
	old := NewConfiguration(Member{ID: "a"}, Member{ID: "b"})
	new := NewConfiguration(Member{ID: "b"}, Member{ID: "c"})
	added, removed := Diff(old, new)
	assert.Len(t, added, 1)
	assert.Equal(t, "c", added[0].ID)
	assert.Len(t, removed, 1)
	assert.Equal(t, "a", removed[0].ID)
}
