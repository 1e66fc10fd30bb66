package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when a device id is not bound to any user.
var ErrNotFound = errors.New("directory: device not found")

// Device binds a client device id to the user who owns it.
type Device struct {
	ID       string `db:"device_id"`
	UserID   string `db:"user_id"`
	Verified bool   `db:"verified"`
}

// Directory resolves users to devices and back. It is read-only.
type Directory interface {
	// DevicesForUser returns the verified devices of userID.
	DevicesForUser(ctx context.Context, userID string) ([]Device, error)
	DeviceByID(ctx context.Context, deviceID string) (Device, error)
}

// StaticDirectory serves a fixed set of bindings, for development and tests.
type StaticDirectory struct {
	mu      sync.RWMutex
	devices map[string]Device
}

func NewStatic(devices ...Device) *StaticDirectory {
	d := &StaticDirectory{devices: make(map[string]Device, len(devices))}
	for _, dev := range devices {
		d.devices[dev.ID] = dev
	}
	return d
}

// ParseStatic reads "user=device" pairs separated by commas. Every device is
// treated as verified.
func ParseStatic(bindings string) (*StaticDirectory, error) {
	var devices []Device
	for _, pair := range strings.Split(bindings, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		user, device, ok := strings.Cut(pair, "=")
		user, device = strings.TrimSpace(user), strings.TrimSpace(device)
		if !ok || user == "" || device == "" {
			return nil, fmt.Errorf("invalid device binding %q", pair)
		}
		devices = append(devices, Device{ID: device, UserID: user, Verified: true})
	}
	return NewStatic(devices...), nil
}

func (d *StaticDirectory) DevicesForUser(_ context.Context, userID string) ([]Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Device
	for _, dev := range d.devices {
		if dev.UserID == userID && dev.Verified {
			out = append(out, dev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *StaticDirectory) DeviceByID(_ context.Context, deviceID string) (Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	dev, ok := d.devices[deviceID]
	if !ok {
		return Device{}, ErrNotFound
	}
	return dev, nil
}
