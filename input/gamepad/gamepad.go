// Package gamepad implements a linux gamepad as an input controller.
package gamepad

// Config describes how to open a gamepad.
type Config struct {
	// DevFile is the event device to open. Empty means scan /dev/input for
	// the first recognized gamepad.
	DevFile string `json:"dev_file,omitempty"`
	// AutoReconnect keeps the controller alive across unplugs, reporting
	// Disconnect and Connect events as the device comes and goes. Without
	// it a missing device is an error and an unplug is final.
	AutoReconnect bool `json:"auto_reconnect,omitempty"`
}
