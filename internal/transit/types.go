// Package transit holds the value types shared by the feed client, the store
// and the pollers.
package transit

// Route is one entry of the agency route list.
type Route struct {
	Tag   string
	Title string
}

// VehicleLocation is a single parsed vehicle report.
// Heading is passed through unchecked; the feed uses negative values for "unknown".
type VehicleLocation struct {
	ID              string
	RouteTag        string
	Lat             float64
	Lon             float64
	Heading         int
	SpeedKmHr       int
	Predictable     bool
	SecsSinceReport int
}

// Batch is the result of one vehicleLocations fetch for one route.
type Batch struct {
	Locations []VehicleLocation
	// LastTime is the feed-reported watermark, epoch milliseconds
	LastTime int64
}

// IDs returns the vehicle IDs in batch order.
func (b Batch) IDs() []string {
	ids := make([]string, 0, len(b.Locations))
	for _, l := range b.Locations {
		ids = append(ids, l.ID)
	}
	return ids
}
