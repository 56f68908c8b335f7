package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Capability is a named feature a server may or may not support
type Capability string

const (
	CapabilityTools       Capability = "tools"
	CapabilityResources   Capability = "resources"
	CapabilityPrompts     Capability = "prompts"
	CapabilitySampling    Capability = "sampling"
	CapabilityElicitation Capability = "elicitation"
)

// CapabilityPriority is the fixed order used whenever a list of capabilities
// (or capability-bearing views) has to be ranked.
var CapabilityPriority = []Capability{
	CapabilityTools,
	CapabilityResources,
	CapabilityPrompts,
	CapabilitySampling,
	CapabilityElicitation,
}

func (c Capability) bit() CapabilitySet {
	switch c {
	case CapabilityTools:
		return 1 << 0
	case CapabilityResources:
		return 1 << 1
	case CapabilityPrompts:
		return 1 << 2
	case CapabilitySampling:
		return 1 << 3
	case CapabilityElicitation:
		return 1 << 4
	default:
		return 0
	}
}

// ParseCapability validates a capability name
func ParseCapability(name string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(name)))
	if c.bit() == 0 {
		return "", fmt.Errorf("unknown capability: %q", name)
	}
	return c, nil
}

// CapabilitySet is a set of capabilities stored as a bitmask
type CapabilitySet uint8

// NewCapabilitySet builds a set from the given capabilities, ignoring unknown names
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= c.bit()
	}
	return s
}

// Has reports whether the set contains c
func (s CapabilitySet) Has(c Capability) bool {
	b := c.bit()
	return b != 0 && s&b == b
}

// With returns a copy of the set with c added
func (s CapabilitySet) With(c Capability) CapabilitySet {
	return s | c.bit()
}

// IsEmpty reports whether the set has no capabilities
func (s CapabilitySet) IsEmpty() bool {
	return s == 0
}

// List returns the members of the set in priority order
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(CapabilityPriority))
	for _, c := range CapabilityPriority {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// MarshalJSON encodes the set as an ordered list of names
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// UnmarshalJSON decodes a list of names into a set
func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var out CapabilitySet
	for _, n := range names {
		c, err := ParseCapability(n)
		if err != nil {
			return err
		}
		out = out.With(c)
	}
	*s = out
	return nil
}

// CapabilityFlags is the boolean record a transport reports after the
// initialization handshake.
type CapabilityFlags struct {
	Tools       bool `json:"tools"`
	Resources   bool `json:"resources"`
	Prompts     bool `json:"prompts"`
	Sampling    bool `json:"sampling"`
	Elicitation bool `json:"elicitation"`
}

// Set converts the flag record into a CapabilitySet
func (f CapabilityFlags) Set() CapabilitySet {
	var s CapabilitySet
	if f.Tools {
		s = s.With(CapabilityTools)
	}
	if f.Resources {
		s = s.With(CapabilityResources)
	}
	if f.Prompts {
		s = s.With(CapabilityPrompts)
	}
	if f.Sampling {
		s = s.With(CapabilitySampling)
	}
	if f.Elicitation {
		s = s.With(CapabilityElicitation)
	}
	return s
}
