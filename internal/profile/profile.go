// Package profile holds named server subsets and drives their activation.
package profile

import (
	"context"
	"time"

	"mcpconsole-go/internal/config"
	"mcpconsole-go/internal/storage"
	"mcpconsole-go/internal/upstream/types"
)

// Profile is a snapshot of one profile definition. Membership is
// authoritative from Members; there is no separately cached count.
type Profile struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Icon         string                 `json:"icon,omitempty"`
	Color        string                 `json:"color,omitempty"`
	AutoActivate bool                   `json:"auto_activate,omitempty"`
	Members      []config.ProfileMember `json:"members"`
}

// MemberIDs returns member server ids in profile order
func (p Profile) MemberIDs() []string {
	ids := make([]string, 0, len(p.Members))
	for _, m := range p.Members {
		ids = append(ids, m.ServerID)
	}
	return ids
}

// HasMember reports whether serverID belongs to the profile
func (p Profile) HasMember(serverID string) bool {
	for _, m := range p.Members {
		if m.ServerID == serverID {
			return true
		}
	}
	return false
}

func fromConfig(c *config.ProfileConfig) Profile {
	members := make([]config.ProfileMember, len(c.Members))
	copy(members, c.Members)
	return Profile{
		ID:           c.ID,
		Name:         c.Name,
		Description:  c.Description,
		Icon:         c.Icon,
		Color:        c.Color,
		AutoActivate: c.AutoActivate,
		Members:      members,
	}
}

// ActiveState is a snapshot of the active profile
type ActiveState struct {
	Profile      Profile   `json:"profile"`
	ActivationID string    `json:"activation_id"`
	IsActivating bool      `json:"is_activating"`
	ActivatedAt  time.Time `json:"activated_at,omitempty"` // zero until activation completes
}

// Connector is the part of the server registry an activation drives
type Connector interface {
	Get(id string) (types.Server, bool)
	ConnectWithEnv(ctx context.Context, id string, env map[string]string) error
	AwaitSettled(ctx context.Context, id string) types.ConnectionStatus
}

// ActivationStore persists activation history and the active profile.
// *storage.Manager implements it.
type ActivationStore interface {
	SaveActivation(record *storage.ActivationRecord) error
	SaveActiveProfile(state *storage.ActiveProfileState) error
	LoadActiveProfile() (*storage.ActiveProfileState, error)
	ClearActiveProfile() error
}
