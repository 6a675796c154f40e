package gamepad

import (
	"strings"

	"github.com/viamrobotics/evdev"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/viamrobotics/inputhistory/input"
)

// Kernel event codes the mappings refer to, from linux/input-event-codes.h.
const (
	absX     = 0x00
	absY     = 0x01
	absZ     = 0x02
	absRX    = 0x03
	absRY    = 0x04
	absRZ    = 0x05
	absHat0X = 0x10
	absHat0Y = 0x11

	btnSouth  = 0x130
	btnEast   = 0x131
	btnNorth  = 0x133
	btnWest   = 0x134
	btnTL     = 0x136
	btnTR     = 0x137
	btnSelect = 0x13a
	btnStart  = 0x13b
	btnMode   = 0x13c
	btnThumbL = 0x13d
	btnThumbR = 0x13e
)

// Mapping relates a device's evdev codes to controls.
type Mapping struct {
	Axes    map[evdev.AbsoluteType]input.Control
	Buttons map[evdev.KeyType]input.Control
}

// MappingXbox is the xpad layout: sticks on X/Y and RX/RY, analog triggers
// on Z/RZ, dpad on HAT0.
var MappingXbox = Mapping{
	Axes: map[evdev.AbsoluteType]input.Control{
		absX:     input.AbsoluteX,
		absY:     input.AbsoluteY,
		absZ:     input.AbsoluteZ,
		absRX:    input.AbsoluteRX,
		absRY:    input.AbsoluteRY,
		absRZ:    input.AbsoluteRZ,
		absHat0X: input.AbsoluteHat0X,
		absHat0Y: input.AbsoluteHat0Y,
	},
	Buttons: map[evdev.KeyType]input.Control{
		btnSouth:  input.ButtonSouth,
		btnEast:   input.ButtonEast,
		btnNorth:  input.ButtonNorth,
		btnWest:   input.ButtonWest,
		btnTL:     input.ButtonLT,
		btnTR:     input.ButtonRT,
		btnSelect: input.ButtonSelect,
		btnStart:  input.ButtonStart,
		btnMode:   input.ButtonMenu,
		btnThumbL: input.ButtonLThumb,
		btnThumbR: input.ButtonRThumb,
	},
}

// MappingDualShock covers the Sony pads, which put the right stick on Z/RZ
// and the analog triggers on RX/RY.
var MappingDualShock = Mapping{
	Axes: map[evdev.AbsoluteType]input.Control{
		absX:     input.AbsoluteX,
		absY:     input.AbsoluteY,
		absZ:     input.AbsoluteRX,
		absRZ:    input.AbsoluteRY,
		absRX:    input.AbsoluteZ,
		absRY:    input.AbsoluteRZ,
		absHat0X: input.AbsoluteHat0X,
		absHat0Y: input.AbsoluteHat0Y,
	},
	Buttons: map[evdev.KeyType]input.Control{
		btnSouth:  input.ButtonSouth,
		btnEast:   input.ButtonEast,
		btnNorth:  input.ButtonNorth,
		btnWest:   input.ButtonWest,
		btnTL:     input.ButtonLT,
		btnTR:     input.ButtonRT,
		btnSelect: input.ButtonSelect,
		btnStart:  input.ButtonStart,
		btnMode:   input.ButtonMenu,
		btnThumbL: input.ButtonLThumb,
		btnThumbR: input.ButtonRThumb,
	},
}

// MappingGeneric is the fallback for devices that look like gamepads but
// match no known model. Nearly all of them report the xpad layout.
var MappingGeneric = MappingXbox

// Mappings relates evdev device names to their layouts.
var Mappings = map[string]Mapping{
	"Microsoft X-Box 360 pad":         MappingXbox,
	"Microsoft X-Box One S pad":       MappingXbox,
	"Microsoft X-Box One Elite pad":   MappingXbox,
	"Generic X-Box pad":               MappingXbox,
	"Logitech Gamepad F310":           MappingXbox,
	"8BitDo Pro 2":                    MappingXbox,
	"Sony PLAYSTATION(R)3 Controller": MappingDualShock,
	"Wireless Controller":             MappingDualShock,
}

func isLikelyGamepad(name string) bool {
	lowered := strings.ToLower(name)
	for _, hint := range []string{"gamepad", "game pad", "joypad", "joystick", "controller", "x-box", "xbox"} {
		if strings.Contains(lowered, hint) {
			return true
		}
	}
	return false
}

// controlsFor flattens a mapping into a sorted control list.
func controlsFor(m Mapping) []input.Control {
	out := make([]input.Control, 0, len(m.Axes)+len(m.Buttons))
	out = append(out, maps.Values(m.Axes)...)
	out = append(out, maps.Values(m.Buttons)...)
	slices.Sort(out)
	return out
}
