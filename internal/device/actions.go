package device

import (
	"strconv"
	"strings"
)

func forward(c Commander, name string, args ...string) error {
	_, err := c.Enqueue(name, args...)
	return err
}

// Device describes the host handset.
type Device struct {
	Available bool   `json:"available"`
	Platform  string `json:"platform"`
	Version   string `json:"version"`
	Gap       string `json:"gap"`
	UUID      string `json:"uuid"`
}

// Camera forwards picture requests to the host.
type Camera struct{ cmd Commander }

func NewCamera(c Commander) *Camera { return &Camera{cmd: c} }

func (c *Camera) GetPicture() error {
	return forward(c.cmd, "Camera.getPicture")
}

// Contact is a single address-book entry.
type Contact struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// ContactManager forwards address-book lookups to the host.
type ContactManager struct {
	cmd      Commander
	Contacts []Contact `json:"contacts"`
}

func NewContactManager(c Commander) *ContactManager {
	return &ContactManager{cmd: c, Contacts: []Contact{}}
}

func (m *ContactManager) Get() error {
	return forward(m.cmd, "ContactManager.get")
}

// MediaError codes.
const (
	MediaErrAborted       = 1
	MediaErrNetwork       = 2
	MediaErrDecode        = 3
	MediaErrNoneSupported = 4
)

// MediaError describes a failed media operation.
type MediaError struct {
	Code    int
	Message string
}

func (e *MediaError) Error() string { return e.Message }

// Media controls playback of one source.
type Media struct {
	cmd Commander
	Src string
}

func NewMedia(c Commander, src string) *Media { return &Media{cmd: c, Src: src} }

func (m *Media) Play() error { return forward(m.cmd, "Media.play", m.Src) }
func (m *Media) Pause() error { return forward(m.cmd, "Media.pause", m.Src) }
func (m *Media) Stop() error { return forward(m.cmd, "Media.stop", m.Src) }

// Sms sends text messages.
type Sms struct{ cmd Commander }

func NewSms(c Commander) *Sms { return &Sms{cmd: c} }

func (s *Sms) Send(number, message string) error {
	return forward(s.cmd, "Sms.send", number, message)
}

// Telephony places calls.
type Telephony struct{ cmd Commander }

func NewTelephony(c Commander) *Telephony { return &Telephony{cmd: c} }

func (t *Telephony) Call(number string) error {
	return forward(t.cmd, "Telephony.call", number)
}

// Notification drives the device's LED, vibrator and beeper.
type Notification struct{ cmd Commander }

func NewNotification(c Commander) *Notification { return &Notification{cmd: c} }

func (n *Notification) Blink(count int, colour string) error {
	return forward(n.cmd, "Notification.blink", strconv.Itoa(count), colour)
}

func (n *Notification) Vibrate(millis int) error {
	return forward(n.cmd, "Notification.vibrate", strconv.Itoa(millis))
}

func (n *Notification) Beep(count, volume int) error {
	return forward(n.cmd, "Notification.beep", strconv.Itoa(count), strconv.Itoa(volume))
}

// File is a read/write handle on the device file system.
type File struct {
	cmd  Commander
	Name string
	Data string
}

func NewFile(c Commander) *File { return &File{cmd: c} }

func (f *File) Read(fileName string) error {
	return forward(f.cmd, "File.read", fileName)
}

func (f *File) Write(name, data string) error {
	return forward(f.cmd, "File.write", name, data)
}

// Map shows native maps.
type Map struct{ cmd Commander }

func NewMap(c Commander) *Map { return &Map{cmd: c} }

// Show drops a pin per position; each is sent as "lat,lng".
func (m *Map) Show(positions []Position) error {
	args := make([]string, len(positions))
	for i, p := range positions {
		args[i] = strings.Join([]string{
			strconv.FormatFloat(p.Latitude, 'f', -1, 64),
			strconv.FormatFloat(p.Longitude, 'f', -1, 64),
		}, ",")
	}
	return forward(m.cmd, "Map.show", args...)
}
