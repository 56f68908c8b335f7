// Package contextbar decides whether a view shows the server context bar and
// keeps the active server selection valid for it.
package contextbar

import (
	"mcpconsole-go/internal/router"
	"mcpconsole-go/internal/upstream/types"
)

// Mode is how the context bar treats the server selection
type Mode int

const (
	// ModeNone means the view has no context bar
	ModeNone Mode = iota
	// ModeSelector requires exactly one active server
	ModeSelector
	// ModeFilter treats the selection as an optional filter
	ModeFilter
)

func (m Mode) String() string {
	switch m {
	case ModeSelector:
		return "selector"
	case ModeFilter:
		return "filter"
	default:
		return "none"
	}
}

// MarshalText renders the mode name
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Collections is left out until multi-server selection exists for it
var contextBarViews = map[router.View]Mode{
	router.ViewTools:       ModeSelector,
	router.ViewResources:   ModeSelector,
	router.ViewPrompts:     ModeSelector,
	router.ViewProtocol:    ModeSelector,
	router.ViewSampling:    ModeFilter,
	router.ViewElicitation: ModeFilter,
}

// ShowContextBar reports whether v shows the context bar
func ShowContextBar(v router.View) bool {
	_, ok := contextBarViews[v]
	return ok
}

// ModeFor returns the context bar mode of v
func ModeFor(v router.View) Mode {
	return contextBarViews[v]
}

// AutoSelect returns the selection v should have given the displayed servers.
//
// In selector mode a valid selection is kept; otherwise the first connected
// server that satisfies the view is chosen, or the selection is cleared when
// none does. Filter mode never forces a selection and only drops an invalid
// one. Views without a context bar keep any selection that is still
// displayed.
func AutoSelect(v router.View, selected string, servers []types.Server) string {
	current, found := types.Server{}, false
	if selected != "" {
		current, found = types.FindServer(servers, selected)
	}

	switch ModeFor(v) {
	case ModeSelector:
		if found && router.Satisfies(current, v) {
			return selected
		}
		for _, s := range servers {
			if s.Status == types.StatusConnected && router.Satisfies(s, v) {
				return s.ID
			}
		}
		return ""

	case ModeFilter:
		if found && router.Satisfies(current, v) {
			return selected
		}
		return ""

	default:
		if found {
			return selected
		}
		return ""
	}
}
