package router

import (
	"mcpconsole-go/internal/upstream/types"
)

// State is the routed part of the console's view state
type State struct {
	View             View   `json:"current_view"`
	SelectedServerID string `json:"selected_server_id,omitempty"`
}

// Result is the outcome of a selection
type Result struct {
	State    State `json:"state"`
	Selected bool  `json:"selected"`  // false when the server id was unknown
	FellBack bool  `json:"fell_back"` // the view changed to fit the server
}

// SelectServer selects serverID among servers. A server is never rejected:
// when it lacks the capability the current view needs, the view moves to the
// first view the server does support in priority order, or to the
// dashboard when it supports none. Unknown ids leave the state unchanged.
func SelectServer(state State, serverID string, servers []types.Server) Result {
	server, ok := types.FindServer(servers, serverID)
	if !ok {
		return Result{State: state}
	}

	next := State{View: state.View, SelectedServerID: server.ID}
	if Satisfies(server, state.View) {
		return Result{State: next, Selected: true}
	}

	next.View = FallbackView(server)
	return Result{State: next, Selected: true, FellBack: true}
}

// FallbackView returns the first capability view server supports, in the
// order tools, resources, prompts, sampling, elicitation, or the dashboard
func FallbackView(server types.Server) View {
	for _, c := range server.Capabilities.List() {
		if v, ok := ViewFor(c); ok {
			return v
		}
	}
	return ViewDashboard
}

// Consistent reports whether the selection satisfies the view's requirement.
// An empty selection is always consistent.
func Consistent(state State, servers []types.Server) bool {
	if state.SelectedServerID == "" {
		return true
	}
	server, ok := types.FindServer(servers, state.SelectedServerID)
	if !ok {
		return false
	}
	return Satisfies(server, state.View)
}
