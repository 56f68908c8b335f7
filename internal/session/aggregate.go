// Package session derives the summary values the console shows across
// servers and the active profile.
package session

import (
	"fmt"
	"time"

	"mcpconsole-go/internal/profile"
	"mcpconsole-go/internal/upstream/types"
)

// Tier is the overall connection status of a set of servers
type Tier string

const (
	TierConnected    Tier = "connected"
	TierPartial      Tier = "partial"
	TierDisconnected Tier = "disconnected"
)

// DisplayServers returns the servers in view. With an active profile that is
// its members present in the registry, in profile member order; otherwise
// every server in registry order.
func DisplayServers(all []types.Server, active *profile.Profile) []types.Server {
	if active == nil {
		out := make([]types.Server, len(all))
		copy(out, all)
		return out
	}

	byID := make(map[string]types.Server, len(all))
	for _, s := range all {
		byID[s.ID] = s
	}

	out := make([]types.Server, 0, len(active.Members))
	seen := make(map[string]bool, len(active.Members))
	for _, id := range active.MemberIDs() {
		s, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, s)
	}
	return out
}

// ConnectionTier is connected when the set is non-empty and fully connected,
// disconnected when nothing in it is connected, and partial otherwise
func ConnectionTier(servers []types.Server) Tier {
	connected := 0
	for _, s := range servers {
		if s.Status == types.StatusConnected {
			connected++
		}
	}
	switch {
	case connected == 0:
		return TierDisconnected
	case connected == len(servers):
		return TierConnected
	default:
		return TierPartial
	}
}

// ElapsedSince renders the time from ts to now as "{h}h {m}m ago" or "{m}m ago"
func ElapsedSince(ts, now time.Time) string {
	d := now.Sub(ts)
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	if hours >= 1 {
		return fmt.Sprintf("%dh %dm ago", hours, minutes)
	}
	return fmt.Sprintf("%dm ago", minutes)
}

// StatusCounts counts servers per connection status
type StatusCounts struct {
	Total        int `json:"total"`
	Connected    int `json:"connected"`
	Connecting   int `json:"connecting"`
	Disconnected int `json:"disconnected"`
	Error        int `json:"error"`
}

// CountStatuses tallies servers by status
func CountStatuses(servers []types.Server) StatusCounts {
	c := StatusCounts{Total: len(servers)}
	for _, s := range servers {
		switch s.Status {
		case types.StatusConnected:
			c.Connected++
		case types.StatusConnecting:
			c.Connecting++
		case types.StatusDisconnected:
			c.Disconnected++
		case types.StatusError:
			c.Error++
		}
	}
	return c
}

// ProfileSummary describes the active profile for the header
type ProfileSummary struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	IsActivating bool         `json:"is_activating"`
	Tier         Tier         `json:"tier"`
	Counts       StatusCounts `json:"counts"`
	Elapsed      string       `json:"elapsed,omitempty"` // empty while activating
}

// Summary is everything the shell header shows
type Summary struct {
	Counts        StatusCounts    `json:"counts"`
	GlobalTier    Tier            `json:"global_tier"`
	ActiveProfile *ProfileSummary `json:"active_profile,omitempty"`
}

// Summarize derives the header summary from a registry snapshot
func Summarize(all []types.Server, active *profile.ActiveState, now time.Time) Summary {
	summary := Summary{
		Counts:     CountStatuses(all),
		GlobalTier: ConnectionTier(all),
	}
	if active == nil {
		return summary
	}

	members := DisplayServers(all, &active.Profile)
	ps := &ProfileSummary{
		ID:           active.Profile.ID,
		Name:         active.Profile.Name,
		IsActivating: active.IsActivating,
		Tier:         ConnectionTier(members),
		Counts:       CountStatuses(members),
	}
	if !active.IsActivating && !active.ActivatedAt.IsZero() {
		ps.Elapsed = ElapsedSince(active.ActivatedAt, now)
	}
	summary.ActiveProfile = ps
	return summary
}
