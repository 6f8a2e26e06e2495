package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/muni-locations/poller/internal/transit"
)

var vehicleLocationColumns = []string{
	`"vehicleId"`,
	`"time"`,
	`lon`,
	`"routeTag"`,
	`predictable`,
	`"speedKmHr"`,
	`heading`,
	`lat`,
	`"secsSinceReport"`,
	`"batchId"`,
}

func (db *DB) insertVehicleLocationSQL() string {
	placeholders := make([]string, len(vehicleLocationColumns))
	for i := range placeholders {
		placeholders[i] = db.dialect.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO vehicle_locations (%s) VALUES (%s)",
		strings.Join(vehicleLocationColumns, ", "), strings.Join(placeholders, ", "))
}

// InsertVehicleLocations writes a batch in a single transaction. Either every
// row is committed or none is. All rows share the observation time taken when
// the call starts. An empty batch is a no-op.
func (db *DB) InsertVehicleLocations(ctx context.Context, locs []transit.VehicleLocation) error {
	if len(locs) == 0 {
		return nil
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	observedAt := db.now().Unix()
	batchID := uuid.New().String()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrStorageWrite, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, db.insertVehicleLocationSQL())
	if err != nil {
		return fmt.Errorf("%w: failed to prepare insert: %v", ErrStorageWrite, err)
	}
	defer stmt.Close()

	for _, l := range locs {
		_, err := stmt.ExecContext(ctx,
			l.ID, observedAt, l.Lon, l.RouteTag, l.Predictable,
			l.SpeedKmHr, l.Heading, l.Lat, l.SecsSinceReport, batchID,
		)
		if err != nil {
			return fmt.Errorf("%w: failed to insert vehicle %s: %v", ErrStorageWrite, l.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %v", ErrStorageWrite, err)
	}
	return nil
}

// StoredLocation is a persisted vehicle_locations row.
type StoredLocation struct {
	transit.VehicleLocation
	ObservedAt int64
	BatchID    string
}

// CountVehicleLocations returns the number of stored rows for routeTag, or for
// every route when routeTag is empty.
func (db *DB) CountVehicleLocations(ctx context.Context, routeTag string) (int, error) {
	query := "SELECT COUNT(*) FROM vehicle_locations"
	var args []any
	if routeTag != "" {
		query += ` WHERE "routeTag" = ` + db.dialect.placeholder(1)
		args = append(args, routeTag)
	}

	var count int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count vehicle locations: %w", err)
	}
	return count, nil
}

// RecentVehicleLocations returns up to limit rows for routeTag, newest first.
func (db *DB) RecentVehicleLocations(ctx context.Context, routeTag string, limit int) ([]StoredLocation, error) {
	query := fmt.Sprintf(`SELECT %s FROM vehicle_locations WHERE "routeTag" = %s ORDER BY "time" DESC, id DESC LIMIT %s`,
		strings.Join(vehicleLocationColumns, ", "), db.dialect.placeholder(1), db.dialect.placeholder(2))

	rows, err := db.conn.QueryContext(ctx, query, routeTag, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicle locations: %w", err)
	}
	defer rows.Close()

	var out []StoredLocation
	for rows.Next() {
		var s StoredLocation
		if err := rows.Scan(
			&s.ID, &s.ObservedAt, &s.Lon, &s.RouteTag, &s.Predictable,
			&s.SpeedKmHr, &s.Heading, &s.Lat, &s.SecsSinceReport, &s.BatchID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle location: %w", err)
		}
		out = append(out, s)
	}

	return out, rows.Err()
}
