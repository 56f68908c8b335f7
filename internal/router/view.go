// Package router maps views to the capability they need and reconciles
// server selection against it.
package router

import (
	"encoding/json"
	"fmt"
	"strings"

	"mcpconsole-go/internal/upstream/types"
)

// View identifies one console view
type View string

const (
	ViewDashboard   View = "dashboard"
	ViewServers     View = "servers"
	ViewTools       View = "tools"
	ViewResources   View = "resources"
	ViewPrompts     View = "prompts"
	ViewSampling    View = "sampling"
	ViewElicitation View = "elicitation"
	ViewProtocol    View = "protocol"
	ViewCollections View = "collections"
	ViewSettings    View = "settings"
)

// Views lists every view in navigation order
func Views() []View {
	return []View{
		ViewDashboard,
		ViewServers,
		ViewTools,
		ViewResources,
		ViewPrompts,
		ViewSampling,
		ViewElicitation,
		ViewProtocol,
		ViewCollections,
		ViewSettings,
	}
}

// requirements is the single View → Capability table. An empty capability
// means the view works with any server.
var requirements = map[View]types.Capability{
	ViewDashboard:   "",
	ViewServers:     "",
	ViewTools:       types.CapabilityTools,
	ViewResources:   types.CapabilityResources,
	ViewPrompts:     types.CapabilityPrompts,
	ViewSampling:    types.CapabilitySampling,
	ViewElicitation: types.CapabilityElicitation,
	ViewProtocol:    "",
	ViewCollections: "",
	ViewSettings:    "",
}

// capabilityViews is the inverse of requirements for capability-bearing views
var capabilityViews = map[types.Capability]View{
	types.CapabilityTools:       ViewTools,
	types.CapabilityResources:   ViewResources,
	types.CapabilityPrompts:     ViewPrompts,
	types.CapabilitySampling:    ViewSampling,
	types.CapabilityElicitation: ViewElicitation,
}

// ParseView validates a view name
func ParseView(name string) (View, error) {
	v := View(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := requirements[v]; !ok {
		return "", fmt.Errorf("unknown view %q", name)
	}
	return v, nil
}

// IsValid reports whether v is a known view
func (v View) IsValid() bool {
	_, ok := requirements[v]
	return ok
}

// UnmarshalJSON rejects unknown views
func (v *View) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseView(name)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// RequiredCapability returns the capability v needs, if any
func RequiredCapability(v View) (types.Capability, bool) {
	c := requirements[v]
	return c, c != ""
}

// ViewFor returns the view that exercises capability c
func ViewFor(c types.Capability) (View, bool) {
	v, ok := capabilityViews[c]
	return v, ok
}

// Satisfies reports whether server s can be active in view v
func Satisfies(s types.Server, v View) bool {
	need, ok := RequiredCapability(v)
	return !ok || s.Supports(need)
}
