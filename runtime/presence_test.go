package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresence_Register_And_Lookup(t *testing.T) {
	req := require.New(t)
	presence := NewPresence()

	// Given a registered connection
	sink := &recorderSink{}
	prev := presence.Register("alice", sink)

	// Then there was nothing to supersede and lookup finds it
	req.Nil(prev)
	found, ok := presence.Lookup("alice")
	req.True(ok)
	req.Same(sink, found.(*recorderSink))
	req.Equal(1, presence.Count())
}

func TestPresence_Register_Returns_Superseded_Sink(t *testing.T) {
	req := require.New(t)
	presence := NewPresence()

	// Given an existing connection
	first := &recorderSink{}
	presence.Register("alice", first)

	// When the same user registers a new one
	second := &recorderSink{}
	prev := presence.Register("alice", second)

	// Then the old sink is handed back and the new one is current
	req.Same(first, prev.(*recorderSink))
	current, _ := presence.Lookup("alice")
	req.Same(second, current.(*recorderSink))
	req.Equal(1, presence.Count())
}

func TestPresence_Register_Same_Sink_Twice_Is_Not_A_Takeover(t *testing.T) {
	req := require.New(t)
	presence := NewPresence()

	sink := &recorderSink{}
	presence.Register("alice", sink)

	// When the exact same sink registers again
	prev := presence.Register("alice", sink)

	// Then there is nothing to close
	req.Nil(prev)
}

func TestPresence_Deregister_Only_Removes_Own_Entry(t *testing.T) {
	req := require.New(t)
	presence := NewPresence()

	// Given alice reconnected, so her first sink no longer owns the entry
	first, second := &recorderSink{}, &recorderSink{}
	presence.Register("alice", first)
	presence.Register("alice", second)

	// When the stale teardown fires
	removed := presence.Deregister("alice", first)

	// Then the newer connection survives
	req.False(removed)
	req.Equal(1, presence.Count())

	// And the owning sink can still deregister
	req.True(presence.Deregister("alice", second))
	req.Equal(0, presence.Count())
}

func TestPresence_Others_Excludes_The_Subject(t *testing.T) {
	req := require.New(t)
	presence := NewPresence()

	presence.Register("alice", &recorderSink{})
	presence.Register("bob", &recorderSink{})
	presence.Register("carol", &recorderSink{})

	// When collecting broadcast targets for alice
	others := presence.Others("alice")

	// Then only the two other users are listed
	req.Len(others, 2)
	req.Equal(3, presence.Count())
}
