// Package nextbus talks to the NextBus public JSON feed.
package nextbus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/muni-locations/poller/internal/transit"
)

const (
	DefaultBaseURL = "http://webservices.nextbus.com/service/publicJSONFeed"
	DefaultAgency  = "sf-muni"
	DefaultTimeout = 30 * time.Second
)

// Client fetches route lists and vehicle locations. It never retries;
// retry policy belongs to the caller.
type Client struct {
	baseURL string
	agency  string
	client  *http.Client
}

// NewClient creates a feed client. An empty baseURL or agency falls back to the
// defaults, a non-positive timeout to DefaultTimeout.
func NewClient(baseURL, agency string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if agency == "" {
		agency = DefaultAgency
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		agency:  agency,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchRouteList returns every route the agency publishes.
func (c *Client) FetchRouteList(ctx context.Context) ([]transit.Route, error) {
	var body routeListResponse
	if err := c.get(ctx, url.Values{"command": {"routeList"}}, &body); err != nil {
		return nil, fmt.Errorf("could not get route list: %w", err)
	}
	if body.Error != nil {
		return nil, fmt.Errorf("could not get route list: %w", body.Error.toFeedError())
	}

	routes := make([]transit.Route, 0, len(body.Route))
	for _, r := range body.Route {
		routes = append(routes, transit.Route{Tag: r.Tag, Title: r.Title})
	}
	return routes, nil
}

// FetchVehicleLocations returns vehicles on routeTag reported since sinceMs
// (epoch milliseconds) together with the feed's new watermark.
func (c *Client) FetchVehicleLocations(ctx context.Context, routeTag string, sinceMs int64) (transit.Batch, error) {
	params := url.Values{
		"command": {"vehicleLocations"},
		"r":       {routeTag},
		"t":       {strconv.FormatInt(sinceMs, 10)},
	}

	var body vehicleLocationsResponse
	if err := c.get(ctx, params, &body); err != nil {
		return transit.Batch{}, fmt.Errorf("could not get vehicle locations for %s: %w", routeTag, err)
	}
	if body.Error != nil {
		return transit.Batch{}, fmt.Errorf("could not get vehicle locations for %s: %w", routeTag, body.Error.toFeedError())
	}

	lastTime, err := parseLastTime(body.LastTime)
	if err != nil {
		return transit.Batch{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	batch := transit.Batch{
		LastTime:  lastTime,
		Locations: make([]transit.VehicleLocation, 0, len(body.Vehicle)),
	}
	for i, raw := range body.Vehicle {
		loc, err := parseVehicleLocation(raw)
		if err != nil {
			return transit.Batch{}, fmt.Errorf("%w: vehicle %d: %v", ErrMalformedResponse, i, err)
		}
		batch.Locations = append(batch.Locations, loc)
	}

	return batch, nil
}

// get issues one GET against the feed and decodes the JSON body into out
func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set("a", c.agency)
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrFeedUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ErrFeedUnavailable, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
