// Package persist saves and restores contact histories between process
// runs. The contact manager hands it deep copies; nothing here touches the
// live store.
package persist

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/signalsfoundry/ais-contact-manager/model"
)

// Store saves and loads a complete set of contact histories.
type Store interface {
	Save(ctx context.Context, contacts model.Contacts) error
	Load(ctx context.Context) (model.Contacts, error)
	Close() error
}

// Drivers accepted by Open.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects the store selected by driver. DriverNone (or "") returns
// a nil Store and no error.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverNone:
		return nil, nil
	case DriverSQLite:
		s, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", driver)
	}
}

const tableName = "ais_snapshots"

var columns = []string{"mmsi", "seq", "sog_knots", "cog_rad", "heading_rad", "lat_rad", "lon_rad", "ts_ms", "label"}

// row is one stored snapshot. seq is the snapshot's position in its
// vessel's history, oldest first.
type row struct {
	mmsi      int32
	seq       int32
	sog       float64
	cog       float64
	heading   float64
	lat       float64
	lon       float64
	timestamp int64
	label     string
}

func (r row) values() []any {
	return []any{r.mmsi, r.seq, r.sog, r.cog, r.heading, r.lat, r.lon, r.timestamp, r.label}
}

func (r row) snapshot() model.Snapshot {
	return model.NewSnapshot(model.MMSI(r.mmsi), r.sog, r.cog, r.heading, r.lat, r.lon, r.timestamp, r.label)
}

// flatten lays contacts out by ascending MMSI then history order.
func flatten(contacts model.Contacts) []row {
	ids := make([]model.MMSI, 0, len(contacts))
	for id := range contacts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([]row, 0, contacts.Len())
	for _, id := range ids {
		for seq, s := range contacts[id] {
			rows = append(rows, row{
				mmsi:      int32(id),
				seq:       int32(seq),
				sog:       s.SOG(),
				cog:       s.COG(),
				heading:   s.Heading(),
				lat:       s.LatRad(),
				lon:       s.LonRad(),
				timestamp: s.TimestampMs(),
				label:     s.Label(),
			})
		}
	}
	return rows
}

// collect groups rows already ordered by (mmsi, seq) back into histories.
func collect(contacts model.Contacts, r row) {
	id := model.MMSI(r.mmsi)
	contacts[id] = append(contacts[id], r.snapshot())
}
