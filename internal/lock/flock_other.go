//go:build !unix

package lock

import (
	"errors"
	"os"
)

func Supported() bool { return false }

func tryFlock(string) (*os.File, bool, error) {
	return nil, false, errors.New("flock is not available on this platform")
}

func unflock(f *os.File) error { return f.Close() }
