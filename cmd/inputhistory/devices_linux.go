//go:build linux

package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/viamrobotics/evdev"
	"go.viam.com/utils"
)

// listDevices prints every readable input device with its reported name.
// Devices that cannot be opened are listed with the error instead.
func listDevices(w io.Writer) error {
	paths, err := filepath.Glob("/dev/input/event*")
	if err != nil {
		return err
	}
	sort.Strings(paths)
	for _, path := range paths {
		name, err := deviceName(path)
		if err != nil {
			fmt.Fprintf(w, "%s\t(%s)\n", path, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", path, name)
	}
	return nil
}

func deviceName(path string) (string, error) {
	dev, err := evdev.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer utils.UncheckedErrorFunc(dev.Close)
	return dev.Name(), nil
}
