// Package vdolog wraps logrus into one entry per zone, the logging
// analog of the teacher's accnt.Accnt_t: a small struct attached per
// subsystem rather than a single global logger threaded everywhere.
package vdolog

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/narwhal-systems/dedupvol/zone"
)

// Base is the process-wide logrus logger every zone entry derives
// from. Callers may reconfigure its level/formatter/output before
// constructing any Registry.
var Base = logrus.New()

// ForZone returns a *logrus.Entry tagged with this zone's type and id.
func ForZone(z *zone.Zone) *logrus.Entry {
	return Base.WithFields(logrus.Fields{
		"zone":    z.Type().String(),
		"zone_id": z.ID(),
	})
}

// Registry hands out and caches one entry per zone, keyed by identity,
// so repeated lookups for the same zone don't keep allocating new
// *logrus.Entry field sets.
type Registry struct {
	mu      sync.Mutex
	entries map[*zone.Zone]*logrus.Entry
}

// NewRegistry returns an empty zone-entry registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[*zone.Zone]*logrus.Entry)}
}

// For returns the cached entry for z, creating it on first use.
func (r *Registry) For(z *zone.Zone) *logrus.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[z]; ok {
		return e
	}
	e := ForZone(z)
	r.entries[z] = e
	return e
}

// Fatal logs an invariant violation at Error level with fatal=true. It
// returns nothing and never calls
// logrus.Fatal/os.Exit: one zone's assertion failure must drive that
// zone (or the device) read-only without killing other in-flight
// zones or the process.
func Fatal(entry *logrus.Entry, msg string, fields logrus.Fields) {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["fatal"] = true
	entry.WithFields(fields).Error(msg)
}
