package nextbus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/muni-locations/poller/internal/transit"
)

// listOf decodes a JSON array, or a bare object standing in for a one-element array.
// The feed collapses single-element lists this way.
type listOf[T any] []T

func (l *listOf[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var item T
	if err := json.Unmarshal(data, &item); err != nil {
		return err
	}
	*l = []T{item}
	return nil
}

type rawRoute struct {
	Tag   string `json:"tag"`
	Title string `json:"title"`
}

type routeListResponse struct {
	Route listOf[rawRoute] `json:"route"`
	Error *rawError        `json:"Error"`
}

// rawVehicleLocation mirrors the feed's vehicle entry; every value is a string.
type rawVehicleLocation struct {
	ID              string `json:"id"`
	Lon             string `json:"lon"`
	RouteTag        string `json:"routeTag"`
	Predictable     string `json:"predictable"`
	SpeedKmHr       string `json:"speedKmHr"`
	Heading         string `json:"heading"`
	Lat             string `json:"lat"`
	SecsSinceReport string `json:"secsSinceReport"`
}

type rawLastTime struct {
	// epoch milliseconds
	Time string `json:"time"`
}

type rawError struct {
	Content string `json:"content"`
	// "true" or "false"
	ShouldRetry string `json:"shouldRetry"`
}

type vehicleLocationsResponse struct {
	Vehicle  listOf[rawVehicleLocation] `json:"vehicle"`
	LastTime *rawLastTime               `json:"lastTime"`
	Error    *rawError                  `json:"Error"`
}

// toFeedError treats a missing or unreadable shouldRetry as false; an
// unreadable one is kept in the message.
func (e *rawError) toFeedError() *FeedError {
	if e.ShouldRetry == "" {
		return &FeedError{Message: e.Content}
	}
	retry, err := strconv.ParseBool(e.ShouldRetry)
	if err != nil {
		return &FeedError{Message: fmt.Sprintf("%s (unreadable shouldRetry %q)", e.Content, e.ShouldRetry)}
	}
	return &FeedError{Message: e.Content, ShouldRetry: retry}
}

// parseVehicleLocation converts a raw entry, failing on the first malformed field.
func parseVehicleLocation(raw rawVehicleLocation) (transit.VehicleLocation, error) {
	loc := transit.VehicleLocation{
		ID:       raw.ID,
		RouteTag: raw.RouteTag,
	}
	if loc.ID == "" {
		return loc, fmt.Errorf("vehicle without id")
	}

	var err error
	if loc.Lat, err = parseFloat("lat", raw.Lat); err != nil {
		return loc, err
	}
	if loc.Lon, err = parseFloat("lon", raw.Lon); err != nil {
		return loc, err
	}
	if loc.Heading, err = parseInt("heading", raw.Heading); err != nil {
		return loc, err
	}
	if loc.SpeedKmHr, err = parseInt("speedKmHr", raw.SpeedKmHr); err != nil {
		return loc, err
	}
	if loc.SecsSinceReport, err = parseInt("secsSinceReport", raw.SecsSinceReport); err != nil {
		return loc, err
	}
	if loc.Predictable, err = strconv.ParseBool(raw.Predictable); err != nil {
		return loc, fmt.Errorf("vehicle %s: predictable %q: %w", raw.ID, raw.Predictable, err)
	}

	return loc, nil
}

func parseFloat(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", field, s, err)
	}
	return v, nil
}

func parseInt(field, s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", field, s, err)
	}
	return v, nil
}

func parseLastTime(lt *rawLastTime) (int64, error) {
	if lt == nil || lt.Time == "" {
		return 0, fmt.Errorf("missing lastTime")
	}
	v, err := strconv.ParseInt(lt.Time, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("lastTime %q: %w", lt.Time, err)
	}
	return v, nil
}
