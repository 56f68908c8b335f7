package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpconsole-go/internal/config"
	"mcpconsole-go/internal/profile"
	"mcpconsole-go/internal/upstream/types"
)

func server(id string, status types.ConnectionStatus) types.Server {
	return types.Server{ID: id, Status: status}
}

func profileOf(ids ...string) *profile.Profile {
	p := &profile.Profile{ID: "p", Name: "Prod"}
	for _, id := range ids {
		p.Members = append(p.Members, config.ProfileMember{ServerID: id})
	}
	return p
}

func ids(servers []types.Server) []string {
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		out = append(out, s.ID)
	}
	return out
}

func TestDisplayServers(t *testing.T) {
	all := []types.Server{
		server("a", types.StatusConnected),
		server("b", types.StatusDisconnected),
		server("c", types.StatusError),
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids(DisplayServers(all, nil)))
	assert.Equal(t, []string{"c", "a"}, ids(DisplayServers(all, profileOf("c", "a"))), "profile member order")
	assert.Equal(t, []string{"b"}, ids(DisplayServers(all, profileOf("ghost", "b", "b"))))
	assert.Empty(t, DisplayServers(all, profileOf()))
}

// Under any profile the display set is a subset of the registry, no larger
// than the member list, and in member order
func TestDisplayServers_FilterLaw(t *testing.T) {
	all := []types.Server{
		server("a", types.StatusConnected),
		server("b", types.StatusConnected),
		server("c", types.StatusConnected),
		server("d", types.StatusConnected),
	}
	memberLists := [][]string{
		{},
		{"d"},
		{"d", "a"},
		{"x", "c", "y", "a"},
		{"a", "b", "c", "d"},
		{"b", "b", "z"},
	}

	for _, members := range memberLists {
		p := profileOf(members...)
		got := DisplayServers(all, p)

		assert.LessOrEqual(t, len(got), len(members))
		for _, s := range got {
			_, ok := types.FindServer(all, s.ID)
			assert.True(t, ok, "%s not in registry", s.ID)
		}

		// Order follows member order
		pos := -1
		for _, s := range got {
			idx := indexOf(members, s.ID)
			require.GreaterOrEqual(t, idx, 0)
			assert.Greater(t, idx, pos)
			pos = idx
		}
	}
}

func indexOf(list []string, id string) int {
	for i, v := range list {
		if v == id {
			return i
		}
	}
	return -1
}

func TestConnectionTier(t *testing.T) {
	tests := []struct {
		name    string
		servers []types.Server
		want    Tier
	}{
		{"empty set", nil, TierDisconnected},
		{"all connected", []types.Server{server("a", types.StatusConnected), server("b", types.StatusConnected)}, TierConnected},
		{"none connected", []types.Server{server("a", types.StatusError), server("b", types.StatusConnecting)}, TierDisconnected},
		{"two connected one error", []types.Server{
			server("a", types.StatusConnected),
			server("b", types.StatusConnected),
			server("c", types.StatusError),
		}, TierPartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConnectionTier(tt.servers))
		})
	}
}

// As servers move from connecting to connected one by one the tier never
// regresses and ends at connected
func TestConnectionTier_Monotonic(t *testing.T) {
	servers := []types.Server{
		server("a", types.StatusConnecting),
		server("b", types.StatusConnecting),
		server("c", types.StatusConnecting),
	}
	rank := map[Tier]int{TierDisconnected: 0, TierPartial: 1, TierConnected: 2}

	prev := ConnectionTier(servers)
	for i := range servers {
		servers[i].Status = types.StatusConnected
		tier := ConnectionTier(servers)
		assert.GreaterOrEqual(t, rank[tier], rank[prev])
		prev = tier
	}
	assert.Equal(t, TierConnected, prev)
}

func TestElapsedSince(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		ago  time.Duration
		want string
	}{
		{90 * time.Minute, "1h 30m ago"},
		{59*time.Minute + 59*time.Second, "59m ago"},
		{0, "0m ago"},
		{25*time.Hour + 5*time.Minute, "25h 5m ago"},
		{2 * time.Hour, "2h 0m ago"},
		{-5 * time.Minute, "0m ago"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ElapsedSince(now.Add(-tt.ago), now))
		})
	}
}

func TestSummarize(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	all := []types.Server{
		server("a", types.StatusConnected),
		server("b", types.StatusConnected),
		server("c", types.StatusError),
	}

	s := Summarize(all, nil, now)
	assert.Equal(t, TierPartial, s.GlobalTier)
	assert.Equal(t, StatusCounts{Total: 3, Connected: 2, Error: 1}, s.Counts)
	assert.Nil(t, s.ActiveProfile)

	active := &profile.ActiveState{
		Profile:     *profileOf("a", "b"),
		ActivatedAt: now.Add(-90 * time.Minute),
	}
	s = Summarize(all, active, now)
	require.NotNil(t, s.ActiveProfile)
	assert.Equal(t, TierConnected, s.ActiveProfile.Tier)
	assert.Equal(t, "1h 30m ago", s.ActiveProfile.Elapsed)
	assert.Equal(t, 2, s.ActiveProfile.Counts.Total)

	active.IsActivating = true
	s = Summarize(all, active, now)
	assert.Empty(t, s.ActiveProfile.Elapsed)
}
