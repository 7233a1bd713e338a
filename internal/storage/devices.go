package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/dokzlo13/lifxd/internal/lifx"
)

// KindDevice is the resource kind for known lights
const KindDevice = "lifx_device"

// Device is the persisted identity of a light
type Device struct {
	lifx.LightInfo
	LastSeen time.Time `json:"last_seen"`
}

// Devices remembers every light the daemon has talked to
type Devices struct {
	store *TypedStore[Device]
	now   func() time.Time
}

// NewDevices creates the device registry over store
func NewDevices(store *Store) *Devices {
	return &Devices{
		store: NewTypedStore[Device](store, KindDevice),
		now:   time.Now,
	}
}

// Remember upserts a light. An empty label keeps the stored one.
func (d *Devices) Remember(info lifx.LightInfo) error {
	if info.ID == "" {
		return fmt.Errorf("device without id")
	}
	return d.store.Update(info.ID, func(current Device) Device {
		label := info.Label
		if label == "" {
			label = current.Label
		}
		info.Label = label
		return Device{LightInfo: info, LastSeen: d.now().UTC()}
	})
}

// Clear forgets every known light
func (d *Devices) Clear() error {
	return d.store.Clear()
}

// Load returns every known light ordered by id
func (d *Devices) Load() ([]Device, error) {
	all, err := d.store.GetAll()
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(all))
	for _, dev := range all {
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}
