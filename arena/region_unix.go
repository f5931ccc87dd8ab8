//go:build linux || darwin

package arena

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// mapRegion maps anonymous memory region used as arena backing.
func mapRegion(size int64) ([]byte, func() error, error) {
	if size == 0 {
		return nil, func() error { return nil }, nil
	}

	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "mapping %d bytes", size)
	}
	return data, func() error {
		return errors.WithStack(unix.Munmap(data))
	}, nil
}
