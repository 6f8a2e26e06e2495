// Package export writes collected vehicle locations as a GTFS-Realtime
// VehiclePositions feed.
package export

import (
	"fmt"
	"os"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"

	"github.com/muni-locations/poller/internal/transit"
)

func ptr[T any](v T) *T { return &v }

// ToGTFSRealtime builds a full-dataset FeedMessage with one VehiclePosition
// entity per location. Vehicle timestamps are the fetch time minus
// SecsSinceReport; a negative heading is treated as unknown and left out.
func ToGTFSRealtime(locs []transit.VehicleLocation, fetchTime time.Time) *gtfsrt.FeedMessage {
	entities := make([]*gtfsrt.FeedEntity, 0, len(locs))
	for _, l := range locs {
		pos := &gtfsrt.Position{
			Latitude:  ptr(float32(l.Lat)),
			Longitude: ptr(float32(l.Lon)),
			Speed:     ptr(float32(l.SpeedKmHr) / 3.6),
		}
		if l.Heading >= 0 {
			pos.Bearing = ptr(float32(l.Heading))
		}

		reported := fetchTime.Add(-time.Duration(l.SecsSinceReport) * time.Second)
		entities = append(entities, &gtfsrt.FeedEntity{
			Id: ptr(l.RouteTag + ":" + l.ID),
			Vehicle: &gtfsrt.VehiclePosition{
				Trip:      &gtfsrt.TripDescriptor{RouteId: ptr(l.RouteTag)},
				Vehicle:   &gtfsrt.VehicleDescriptor{Id: ptr(l.ID)},
				Position:  pos,
				Timestamp: ptr(uint64(reported.Unix())),
			},
		})
	}

	return &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: ptr("2.0"),
			Incrementality:      gtfsrt.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           ptr(uint64(fetchTime.Unix())),
		},
		Entity: entities,
	}
}

// SaveProtoToFile marshals m and atomically replaces target with it.
func SaveProtoToFile(m proto.Message, target string, humanReadable bool) error {
	var data []byte
	var err error
	if humanReadable {
		data, err = prototext.Marshal(m)
	} else {
		data, err = proto.Marshal(m)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal to protobuf: %w", err)
	}

	tempFile := target + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o666); err != nil {
		return fmt.Errorf("failed to write to %s: %w", tempFile, err)
	}
	if err := os.Rename(tempFile, target); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", tempFile, target, err)
	}
	return nil
}
