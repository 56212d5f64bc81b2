package directory

import (
	"context"
	"time"
)

// Device is the logical record for one physical camera/sensor unit.
// HardwareIdentity is the stable device-intrinsic token (a MAC address in
// practice); NetworkAddress always reflects the most recent contact.
type Device struct {
	ID               int64
	Name             string
	NetworkAddress   string
	Location         string
	HardwareIdentity string
	CreatedAt        time.Time
}

// Directory resolves hardware identities to device records
type Directory interface {
	// ResolveOrRegister returns the device with the given hardware
	// identity, creating it on first contact. The device's network
	// address is rewritten to observedAddress on every call.
	ResolveOrRegister(ctx context.Context, hardwareIdentity, observedAddress string) (Device, error)

	// Get returns the device with the given id
	Get(ctx context.Context, id int64) (Device, error)

	// List returns all known devices ordered by id
	List(ctx context.Context) ([]Device, error)

	// Rename updates the display name and location of a device
	Rename(ctx context.Context, id int64, name, location string) error
}
