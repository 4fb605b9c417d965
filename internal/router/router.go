// Package router asks an OpenTripPlanner server for trip durations between
// block group origins and shelters.
package router

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/shelter-access/internal/config"
	"github.com/sells-group/shelter-access/internal/fetcher"
	"github.com/sells-group/shelter-access/internal/model"
)

// Router plans one trip.
type Router interface {
	Route(ctx context.Context, from, to orb.Point, mode model.Mode) (model.RouteResult, error)
}

// Client talks to the OTP REST plan endpoint.
type Client struct {
	fetcher fetcher.Fetcher
	plan    string
	date    string
	time    string
}

// NewClient builds a client for cfg.BaseURL and cfg.RouterID.
func NewClient(f fetcher.Fetcher, cfg config.RouterConfig) *Client {
	id := cfg.RouterID
	if id == "" {
		id = "default"
	}
	return &Client{
		fetcher: f,
		plan:    strings.TrimRight(cfg.BaseURL, "/") + "/otp/routers/" + url.PathEscape(id) + "/plan",
		date:    cfg.Date,
		time:    cfg.Time,
	}
}

// otpModes maps travel modes to OTP mode parameters.
var otpModes = map[model.Mode]string{
	model.ModeWalk:    "WALK",
	model.ModeDrive:   "CAR",
	model.ModeTransit: "TRANSIT,WALK",
}

type planResponse struct {
	Plan *struct {
		Itineraries []struct {
			Duration float64 `json:"duration"`
			Legs     []struct {
				Distance float64 `json:"distance"`
			} `json:"legs"`
		} `json:"itineraries"`
	} `json:"plan"`
	Error *struct {
		ID      int    `json:"id"`
		Msg     string `json:"msg"`
		Message string `json:"message"`
	} `json:"error"`
}

// planURL builds the plan query. OTP takes places as lat,lng.
func (c *Client) planURL(from, to orb.Point, mode string) string {
	q := url.Values{}
	q.Set("fromPlace", latLng(from))
	q.Set("toPlace", latLng(to))
	q.Set("mode", mode)
	q.Set("numItineraries", "1")
	if c.date != "" {
		q.Set("date", c.date)
	}
	if c.time != "" {
		q.Set("time", c.time)
	}
	return c.plan + "?" + q.Encode()
}

func latLng(p orb.Point) string {
	return strconv.FormatFloat(p[1], 'f', -1, 64) + "," + strconv.FormatFloat(p[0], 'f', -1, 64)
}

// Route returns the duration of the first itinerary. A plan without
// itineraries, or a planner error such as PATH_NOT_FOUND, is unreachable.
func (c *Client) Route(ctx context.Context, from, to orb.Point, mode model.Mode) (model.RouteResult, error) {
	otpMode, ok := otpModes[mode]
	if !ok {
		return model.RouteResult{}, eris.Errorf("router: unsupported mode %q", mode)
	}

	body, err := c.fetcher.Download(ctx, c.planURL(from, to, otpMode))
	if err != nil {
		return model.RouteResult{}, eris.Wrap(err, "router: plan request")
	}
	defer body.Close() //nolint:errcheck

	resp, err := fetcher.DecodeJSONObject[planResponse](body)
	if err != nil {
		return model.RouteResult{}, eris.Wrap(err, "router: decode plan")
	}
	if resp.Error != nil || resp.Plan == nil || len(resp.Plan.Itineraries) == 0 {
		return model.Unreachable(), nil
	}

	it := resp.Plan.Itineraries[0]
	result := model.Reached(it.Duration)
	for _, leg := range it.Legs {
		result.Route.Distance += leg.Distance
	}
	return result, nil
}
