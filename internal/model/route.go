package model

import (
	"bytes"
	"encoding/json"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// UnreachableDuration is the sort key given to shelters without a computed
// route so they order after every reachable shelter.
const UnreachableDuration = 1e10

// Route is a planned trip between a block group origin and a shelter.
type Route struct {
	Duration float64 `json:"duration"`
	Distance float64 `json:"distance,omitempty"`
}

// RouteResult is either a Route or the explicit unreachable marker, which is
// encoded as JSON false.
type RouteResult struct {
	Route     *Route
	Reachable bool
}

// Reached returns a reachable RouteResult with the given duration in seconds.
func Reached(seconds float64) RouteResult {
	return RouteResult{Route: &Route{Duration: seconds}, Reachable: true}
}

// Unreachable returns the unreachable marker.
func Unreachable() RouteResult {
	return RouteResult{}
}

// MarshalJSON implements json.Marshaler.
func (r RouteResult) MarshalJSON() ([]byte, error) {
	if !r.Reachable || r.Route == nil {
		return []byte("false"), nil
	}
	return json.Marshal(r.Route)
}

// UnmarshalJSON implements json.Unmarshaler. Both false and null decode as
// unreachable.
func (r *RouteResult) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("false")) || bytes.Equal(trimmed, []byte("null")) {
		*r = Unreachable()
		return nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return eris.Errorf("model: route result must be an object or false, got %s", trimmed)
	}
	var route Route
	if err := json.Unmarshal(trimmed, &route); err != nil {
		return eris.Wrap(err, "model: decode route")
	}
	*r = RouteResult{Route: &route, Reachable: true}
	return nil
}

// SortKey returns the duration used to order shelters for a mode.
func (r RouteResult) SortKey() float64 {
	if !r.Reachable || r.Route == nil {
		return UnreachableDuration
	}
	return r.Route.Duration
}

// Routes maps each travel mode to its route result.
type Routes map[Mode]RouteResult

// ShelterRoute is one shelter entry in a route document.
type ShelterRoute struct {
	ObjectID    int        `json:"objectid"`
	Coordinates *orb.Point `json:"coordinates,omitempty"`
	Routes      Routes     `json:"routes"`
}

// For returns the route result for mode. A document without a routes object
// or without the mode is malformed.
func (s ShelterRoute) For(mode Mode) (RouteResult, error) {
	if s.Routes == nil {
		return RouteResult{}, eris.Errorf("model: shelter %d has no routes", s.ObjectID)
	}
	r, ok := s.Routes[mode]
	if !ok {
		return RouteResult{}, eris.Errorf("model: shelter %d has no %s route", s.ObjectID, mode)
	}
	return r, nil
}

// BlockGroupRef identifies the origin of a route document.
type BlockGroupRef struct {
	GEOID    string     `json:"geoid"`
	Origin   orb.Point  `json:"origin"`
	Centroid *orb.Point `json:"centroid,omitempty"`
}

// Location returns the point used for the municipal boundary test: the
// centroid when recorded, otherwise the routing origin.
func (b BlockGroupRef) Location() orb.Point {
	if b.Centroid != nil {
		return *b.Centroid
	}
	return b.Origin
}

// RouteRecord is the routing result for one block group. Raw documents hold
// shelters in planner order; normalized documents hold them sorted by
// duration for a single mode with coordinates attached.
type RouteRecord struct {
	BlockGroup BlockGroupRef  `json:"blockgroup"`
	Shelters   []ShelterRoute `json:"shelters"`
}
