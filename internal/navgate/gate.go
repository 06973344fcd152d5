// Package navgate decides which panel screen may render for a session.
package navgate

import (
	"strings"

	"github.com/harshmpotenz/SideBar/internal/session"
)

type Screen string

const (
	ScreenLoading Screen = "loading"
	ScreenAuth    Screen = "auth"
	ScreenMain    Screen = "main"
)

const (
	RouteAuth = "/auth"
	RouteMain = "/"
)

// Decision is the outcome of gating a requested route. Route is empty while
// loading. Redirected is set when Route differs from the request.
type Decision struct {
	Screen     Screen
	Route      string
	Redirected bool
}

// Decide gates requested against the session state. Unknown routes are
// treated as protected.
func Decide(st session.State, requested string) Decision {
	if st.Resolving() {
		return Decision{Screen: ScreenLoading}
	}
	requested = Normalize(requested)
	if !st.Authenticated() {
		return Decision{Screen: ScreenAuth, Route: RouteAuth, Redirected: requested != RouteAuth}
	}
	return Decision{Screen: ScreenMain, Route: RouteMain, Redirected: requested != RouteMain}
}

// Normalize maps a route to its canonical form: "/auth" or "/".
func Normalize(route string) string {
	route = strings.TrimSpace(route)
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	route = strings.TrimRight(route, "/")
	if strings.EqualFold(route, RouteAuth) {
		return RouteAuth
	}
	return RouteMain
}
