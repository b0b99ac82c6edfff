package session

import (
	"math"
	"sync"

	"weltverbinder/internal/domain"
)

// Device holds the settings that belong to one screen rather than to the
// class. They are never written to the shared store.
type Device struct {
	mu     sync.RWMutex
	volume float64
	closed bool
}

// NewDevice starts with the default volume.
func NewDevice() *Device {
	return &Device{volume: domain.DefaultVolume}
}

// SetVolume clamps v to 0..1 and returns the stored value. A closed device
// keeps its last value.
func (d *Device) SetVolume(v float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return d.volume
	}
	switch {
	case math.IsNaN(v):
		return d.volume
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	d.volume = v
	return v
}

func (d *Device) Volume() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.volume
}

func (d *Device) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}
