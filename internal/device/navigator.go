package device

import (
	"sync"

	"github.com/mattjoyce/gaphost/internal/bootstrap"
)

// Navigator is the device-capability namespace. Slots stay nil until their
// constructor has run.
type Navigator struct {
	mu            sync.RWMutex
	device        *Device
	accelerometer *Accelerometer
	geolocation   *Geolocation
	orientation   *Orientation
	camera        *Camera
	contacts      *ContactManager
	console       *Console
	file          *File
	maps          *Map
	notification  *Notification
	sms           *Sms
	telephony     *Telephony
}

func NewNavigator() *Navigator {
	return &Navigator{}
}

// Sources are the host-supplied sensor backends. Any may be nil.
type Sources struct {
	Acceleration Source[Acceleration]
	Position     Source[Position]
	Orientation  Source[OrientationReading]
}

// Deps is everything InstallAll needs to build the feature singletons.
type Deps struct {
	Commander Commander
	Device    Device
	Sources   Sources
}

// install sets *slot to build() only if it is still empty.
func install[T any](n *Navigator, slot **T, build func() *T) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if *slot == nil {
		*slot = build()
	}
}

// InstallAll registers one constructor per feature on sched. The console
// constructor also becomes the scheduler's debug sink.
func InstallAll(sched *bootstrap.Scheduler, n *Navigator, deps Deps) {
	cmd := deps.Commander
	info := deps.Device

	sched.Register("device", func() error {
		install(n, &n.device, func() *Device { return &info })
		return nil
	})
	sched.Register("accelerometer", func() error {
		install(n, &n.accelerometer, func() *Accelerometer { return NewAccelerometer(deps.Sources.Acceleration) })
		return nil
	})
	sched.Register("camera", func() error {
		install(n, &n.camera, func() *Camera { return NewCamera(cmd) })
		return nil
	})
	sched.Register("contacts", func() error {
		install(n, &n.contacts, func() *ContactManager { return NewContactManager(cmd) })
		return nil
	})
	sched.Register("console", func() error {
		install(n, &n.console, func() *Console { return NewConsole(cmd) })
		console := n.Console()
		sched.SetDebugSink(bootstrap.SinkFunc(func(msg string) {
			_ = console.Log(msg)
		}))
		return nil
	})
	sched.Register("file", func() error {
		install(n, &n.file, func() *File { return NewFile(cmd) })
		return nil
	})
	sched.Register("geolocation", func() error {
		install(n, &n.geolocation, func() *Geolocation { return NewGeolocation(deps.Sources.Position) })
		return nil
	})
	sched.Register("map", func() error {
		install(n, &n.maps, func() *Map { return NewMap(cmd) })
		return nil
	})
	sched.Register("notification", func() error {
		install(n, &n.notification, func() *Notification { return NewNotification(cmd) })
		return nil
	})
	sched.Register("orientation", func() error {
		install(n, &n.orientation, func() *Orientation { return NewOrientation(deps.Sources.Orientation) })
		return nil
	})
	sched.Register("sms", func() error {
		install(n, &n.sms, func() *Sms { return NewSms(cmd) })
		return nil
	})
	sched.Register("telephony", func() error {
		install(n, &n.telephony, func() *Telephony { return NewTelephony(cmd) })
		return nil
	})
}

func (n *Navigator) Device() *Device {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.device
}

func (n *Navigator) Accelerometer() *Accelerometer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.accelerometer
}

func (n *Navigator) Geolocation() *Geolocation {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.geolocation
}

func (n *Navigator) Orientation() *Orientation {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.orientation
}

func (n *Navigator) Camera() *Camera {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.camera
}

func (n *Navigator) ContactManager() *ContactManager {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.contacts
}

func (n *Navigator) Console() *Console {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.console
}

func (n *Navigator) File() *File {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.file
}

func (n *Navigator) Map() *Map {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.maps
}

func (n *Navigator) Notification() *Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.notification
}

func (n *Navigator) Sms() *Sms {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sms
}

func (n *Navigator) Telephony() *Telephony {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.telephony
}

// Installed lists the feature names whose singletons exist.
func (n *Navigator) Installed() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var out []string
	add := func(name string, ok bool) {
		if ok {
			out = append(out, name)
		}
	}
	add("accelerometer", n.accelerometer != nil)
	add("camera", n.camera != nil)
	add("console", n.console != nil)
	add("contacts", n.contacts != nil)
	add("device", n.device != nil)
	add("file", n.file != nil)
	add("geolocation", n.geolocation != nil)
	add("map", n.maps != nil)
	add("notification", n.notification != nil)
	add("orientation", n.orientation != nil)
	add("sms", n.sms != nil)
	add("telephony", n.telephony != nil)
	return out
}

// Close stops every running sensor watch.
func (n *Navigator) Close() {
	n.mu.RLock()
	accel, geo, orient := n.accelerometer, n.geolocation, n.orientation
	n.mu.RUnlock()

	if accel != nil {
		accel.Close()
	}
	if geo != nil {
		geo.Close()
	}
	if orient != nil {
		orient.Close()
	}
}
