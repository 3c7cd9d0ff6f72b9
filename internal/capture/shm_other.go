//go:build !linux || !cgo

package capture

import (
	"errors"
	"time"
)

// NewShmSource is only available on linux with cgo.
func NewShmSource(name string, fps int, gap time.Duration) (Source, error) {
	return nil, errors.New("shared memory capture requires linux and cgo")
}
