// Package vehicle provides the vehicle registry and weak vehicle handles.
// Road tiles record occupancy through a Handle and never own a Vehicle.
package vehicle

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/talgya/mini-roads/internal/grid"
)

// Handle is a weak reference into a Registry: a slot index plus the
// generation the slot had when the vehicle was added. The zero Handle
// refers to no vehicle.
type Handle struct {
	Index      uint32 `json:"index"`
	Generation uint32 `json:"generation"`
}

// IsZero reports whether h refers to no vehicle.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

func (h Handle) String() string {
	if h.IsZero() {
		return "free"
	}
	return fmt.Sprintf("v%d.%d", h.Index, h.Generation)
}

// Vehicle is a road vehicle driven by the simulation.
type Vehicle struct {
	Handle Handle `json:"handle"`
	Tag    string `json:"tag"`

	// Location
	Pos     grid.Coord `json:"pos"`
	Prev    grid.Coord `json:"prev"`    // Tile occupied before Pos (Pos itself when spawned)
	Heading grid.Ribi  `json:"heading"` // Direction of the last move
	Next    grid.Coord `json:"next"`    // Tile the current reservation leads to (Pos when stopping)

	// Onward is the tile after Next, planned before the vehicle tries to
	// enter Next and kept while it waits.
	Onward     grid.Coord `json:"onward"`
	HasOnward  bool       `json:"-"`
	TripLength int        `json:"trip_length"` // Moves before the vehicle plans to stop

	Cargo      int32 `json:"cargo"`
	Overtaking bool  `json:"overtaking"`
	Waited     int   `json:"waited"` // Consecutive steps spent blocked
	Moves      int   `json:"moves"`
}

type slot struct {
	generation uint32
	vehicle    *Vehicle
}

// Registry owns vehicle lifetimes. Removing a vehicle bumps its slot's
// generation, so every Handle issued for it goes stale.
type Registry struct {
	slots []slot // index 0 is never used so the zero Handle stays free
	free  []uint32
	count int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make([]slot, 1)}
}

// Add registers v and returns its handle. v.Handle is set as well.
// A vehicle without a tag gets a fresh uuid.
func (r *Registry) Add(v *Vehicle) Handle {
	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot{})
	}

	s := &r.slots[idx]
	s.generation++
	s.vehicle = v
	r.count++

	h := Handle{Index: idx, Generation: s.generation}
	v.Handle = h
	if v.Tag == "" {
		v.Tag = uuid.NewString()
	}
	return h
}

// Get returns the vehicle for h, or false if h is stale or zero.
func (r *Registry) Get(h Handle) (*Vehicle, bool) {
	if !r.Alive(h) {
		return nil, false
	}
	return r.slots[h.Index].vehicle, true
}

// Alive reports whether h still refers to a registered vehicle.
func (r *Registry) Alive(h Handle) bool {
	if h.IsZero() || int(h.Index) >= len(r.slots) {
		return false
	}
	s := r.slots[h.Index]
	return s.vehicle != nil && s.generation == h.Generation
}

// Remove unregisters the vehicle for h. Callers must release the
// vehicle's tile reservations first; the registry does not know about them.
func (r *Registry) Remove(h Handle) bool {
	if !r.Alive(h) {
		return false
	}
	r.slots[h.Index].vehicle = nil
	r.free = append(r.free, h.Index)
	r.count--
	return true
}

// Len returns the number of live vehicles.
func (r *Registry) Len() int {
	return r.count
}

// Each calls fn for every live vehicle in slot order. The order is stable
// between calls as long as no vehicle is added or removed.
func (r *Registry) Each(fn func(*Vehicle)) {
	for i := 1; i < len(r.slots); i++ {
		if v := r.slots[i].vehicle; v != nil {
			fn(v)
		}
	}
}

// Vehicles returns the live vehicles in slot order.
func (r *Registry) Vehicles() []*Vehicle {
	out := make([]*Vehicle, 0, r.count)
	r.Each(func(v *Vehicle) { out = append(out, v) })
	return out
}
