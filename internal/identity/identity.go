// Package identity builds the composite key that decides whether two readings
// describe the same physical sample.
package identity

import (
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/hydrosafe/coa-dashboard/internal/cells"
	"github.com/hydrosafe/coa-dashboard/internal/models"
)

// TimeLayout renders reading timestamps at second precision.
const TimeLayout = "2006-01-02T15:04:05"

// Key joins timestamp, normalized location descriptors and feed/flush ids.
func Key(ts time.Time, floor, area, location, outlet, feedTypeID, flushTypeID string) string {
	return strings.Join([]string{
		ts.UTC().Format(TimeLayout),
		cells.Norm(floor),
		cells.Norm(area),
		cells.Norm(location),
		cells.Norm(outlet),
		feedTypeID,
		flushTypeID,
	}, "|")
}

// Hash returns the xxh3 digest of a key; it is stored alongside each reading.
func Hash(key string) uint64 {
	return xxh3.HashString(key)
}

// OfReading computes the key for a reading that is about to be written.
func OfReading(r models.Reading) string {
	return Key(r.Time, r.Floor, r.Area, r.Location, r.Outlet, r.FeedTypeID, r.FlushTypeID)
}

// OfFinalized computes the key of a committed reading from its stored fields.
func OfFinalized(r models.FinalizedReading) string {
	return Key(r.Time, r.Floor, r.Area, r.Location, r.Outlet, r.FeedTypeID, r.FlushTypeID)
}

// ScopeLock derives a signed lock key for a client/site/day, used for
// Postgres advisory locks.
func ScopeLock(s models.Scope) int64 {
	return int64(xxh3.HashString(s.ClientID + "|" + s.SiteID + "|" + s.Date.Format(time.DateOnly)))
}
