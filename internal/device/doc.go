// Package device holds the navigator.* feature classes.
//
// None of them carry device semantics of their own. Sensors (accelerometer,
// geolocation, orientation) read from a Source supplied by the host and
// support watch/clearWatch on a repeating timer. Action features (camera,
// contacts, media, SMS, telephony, notification, file, map, console)
// forward a fire-and-forget command to the native bridge through a
// Commander; no response ever comes back, so their callbacks are never run.
//
// InstallAll registers one constructor per feature on the bootstrap
// scheduler; each installs its singleton into the Navigator when the
// document becomes ready.
package device
