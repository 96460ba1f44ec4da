//go:build !unix

package transport

import "os"

func flock(*os.File) error { return ErrLockUnsupported }

func funlock(*os.File) error { return nil }
