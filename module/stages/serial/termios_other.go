//go:build !linux

package serial

import "os"

const openFlags = os.O_WRONLY

// configurePort leaves line settings to the operating system defaults.
func configurePort(*os.File, int) error {
	return errNotTerminal
}
