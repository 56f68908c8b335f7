package storage

import (
	"encoding/json"
	"time"
)

// Bucket names for bbolt database
const (
	ActivationsBucket = "activations"
	MetaBucket        = "meta"
)

// Meta keys
const (
	SchemaVersionKey = "schema"
	ActiveProfileKey = "active_profile"
	LastViewStateKey = "last_view_state"
)

// Current schema version
const CurrentSchemaVersion = 1

// MaxActivationRecords bounds the activation history kept on disk
const MaxActivationRecords = 200

// ActivationRecord is the history entry written for every profile activation
type ActivationRecord struct {
	ID            string     `json:"id"`
	ProfileID     string     `json:"profile_id"`
	ProfileName   string     `json:"profile_name"`
	ActivatedAt   time.Time  `json:"activated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	SuccessCount  int        `json:"success_count"`
	FailureCount  int        `json:"failure_count"`
	SkippedCount  int        `json:"skipped_count"`
	Errors        []string   `json:"errors,omitempty"`
}

// IsOpen reports whether the profile is still active for this record
func (a *ActivationRecord) IsOpen() bool {
	return a.DeactivatedAt == nil
}

// ActiveProfileState is persisted so the active profile survives restarts
type ActiveProfileState struct {
	ProfileID    string    `json:"profile_id"`
	ActivationID string    `json:"activation_id"`
	ActivatedAt  time.Time `json:"activated_at"`
}

// ViewStateRecord remembers where the operator left the console
type ViewStateRecord struct {
	CurrentView      string    `json:"current_view"`
	SelectedServerID string    `json:"selected_server_id,omitempty"`
	Updated          time.Time `json:"updated"`
}

// MarshalBinary implements encoding.BinaryMarshaler
func (a *ActivationRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (a *ActivationRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}

// MarshalBinary implements encoding.BinaryMarshaler
func (s *ActiveProfileState) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (s *ActiveProfileState) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, s)
}

// MarshalBinary implements encoding.BinaryMarshaler
func (v *ViewStateRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(v)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (v *ViewStateRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, v)
}
