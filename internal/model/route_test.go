package model

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Walk ")
	require.NoError(t, err)
	assert.Equal(t, ModeWalk, m)

	_, err = ParseMode("bike")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown travel mode")
}

func TestParseModes_RejectsDuplicates(t *testing.T) {
	modes, err := ParseModes([]string{"walk", "transit"})
	require.NoError(t, err)
	assert.Equal(t, []Mode{ModeWalk, ModeTransit}, modes)

	_, err = ParseModes([]string{"drive", "DRIVE"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestRouteResult_UnmarshalFalse(t *testing.T) {
	var routes Routes
	require.NoError(t, json.Unmarshal([]byte(`{"walk":{"duration":120.5},"drive":false,"transit":null}`), &routes))

	assert.True(t, routes[ModeWalk].Reachable)
	assert.InDelta(t, 120.5, routes[ModeWalk].Route.Duration, 1e-9)
	assert.False(t, routes[ModeDrive].Reachable)
	assert.False(t, routes[ModeTransit].Reachable)
	assert.Equal(t, UnreachableDuration, routes[ModeDrive].SortKey())
}

func TestRouteResult_MarshalFalse(t *testing.T) {
	data, err := json.Marshal(Routes{ModeWalk: Reached(300), ModeDrive: Unreachable()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"walk":{"duration":300},"drive":false}`, string(data))
}

func TestRouteResult_RejectsScalar(t *testing.T) {
	var r RouteResult
	err := json.Unmarshal([]byte(`42`), &r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be an object or false")
}

func TestShelterRoute_For(t *testing.T) {
	s := ShelterRoute{ObjectID: 7, Routes: Routes{ModeWalk: Reached(60)}}

	r, err := s.For(ModeWalk)
	require.NoError(t, err)
	assert.True(t, r.Reachable)

	_, err = s.For(ModeTransit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transit route")

	_, err = ShelterRoute{ObjectID: 8}.For(ModeWalk)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no routes")
}

func TestRouteRecord_DecodeIgnoresStoreID(t *testing.T) {
	raw := `{"_id":{"$oid":"5a0b"},"blockgroup":{"geoid":"250250001001","origin":[-71.1,42.3]},
		"shelters":[{"objectid":3,"routes":{"walk":false,"drive":{"duration":90},"transit":false}}]}`

	var rec RouteRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, "250250001001", rec.BlockGroup.GEOID)
	assert.Equal(t, orb.Point{-71.1, 42.3}, rec.BlockGroup.Location())
	require.Len(t, rec.Shelters, 1)
	assert.Nil(t, rec.Shelters[0].Coordinates)
}

func TestBlockGroupRef_LocationPrefersCentroid(t *testing.T) {
	c := orb.Point{-71.05, 42.35}
	ref := BlockGroupRef{Origin: orb.Point{-71.0, 42.0}, Centroid: &c}
	assert.Equal(t, c, ref.Location())
}
