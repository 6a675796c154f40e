//go:build !linux

package main

import (
	"io"

	"github.com/pkg/errors"
)

func listDevices(io.Writer) error {
	return errors.New("device listing is only supported on linux")
}
