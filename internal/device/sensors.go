package device

import (
	"time"
)

// Acceleration is the force applied to the device along each axis.
type Acceleration struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Timestamp time.Time `json:"timestamp"`
}

// Accelerometer reads acceleration from its source and caches the last value.
type Accelerometer struct {
	*sensor[Acceleration]
}

func NewAccelerometer(src Source[Acceleration]) *Accelerometer {
	return &Accelerometer{newSensor(src, func(a *Acceleration, now time.Time) {
		a.Timestamp = now
	})}
}

// LastAcceleration returns the last reading, if any.
func (a *Accelerometer) LastAcceleration() (Acceleration, bool) {
	return a.Last()
}

// Position is a geolocation fix.
type Position struct {
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	Accuracy         float64   `json:"accuracy"`
	Altitude         float64   `json:"altitude"`
	AltitudeAccuracy float64   `json:"altitude_accuracy"`
	Heading          float64   `json:"heading"`
	Velocity         float64   `json:"velocity"`
	Timestamp        time.Time `json:"timestamp"`
}

// PositionError codes.
const (
	PositionUnknownError        = 0
	PositionPermissionDenied    = 1
	PositionPositionUnavailable = 2
	PositionTimeout             = 3
)

// PositionError describes a failed position request.
type PositionError struct {
	Code    int
	Message string
}

func (e *PositionError) Error() string { return e.Message }

// DefaultPositionOptions mirrors the historical defaults.
func DefaultPositionOptions() Options {
	return Options{EnableHighAccuracy: true, Timeout: 10 * time.Second}
}

// Geolocation reads the device position from its source.
type Geolocation struct {
	*sensor[Position]
}

func NewGeolocation(src Source[Position]) *Geolocation {
	return &Geolocation{newSensor(src, func(p *Position, now time.Time) {
		if p.Timestamp.IsZero() {
			p.Timestamp = now
		}
	})}
}

// LastPosition returns the last fix, if any.
func (g *Geolocation) LastPosition() (Position, bool) {
	return g.Last()
}

// OrientationReading is the screen orientation angle in degrees.
type OrientationReading struct {
	Angle     int       `json:"angle"`
	Timestamp time.Time `json:"timestamp"`
}

// OrientationFrequency is the fixed orientation watch period.
const OrientationFrequency = 10 * time.Second

// Orientation reads the device orientation. Its watch period ignores
// Options.Frequency.
type Orientation struct {
	*sensor[OrientationReading]
}

func NewOrientation(src Source[OrientationReading]) *Orientation {
	s := newSensor(src, func(o *OrientationReading, now time.Time) {
		o.Timestamp = now
	})
	s.fixedFreq = OrientationFrequency
	return &Orientation{s}
}

// LastOrientation returns the last reading, if any.
func (o *Orientation) LastOrientation() (OrientationReading, bool) {
	return o.Last()
}
