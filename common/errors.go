package common

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Error is the closed set of failure kinds surfaced by the filesystem. The
// messages are the usual C library strings for the matching errno.
type Error int

const (
	ENOENT  Error = iota + 1 // path or entry absent
	ENODEV                   // no such registered device
	ENOSPC                   // table or volume full
	ENOMEM                   // mount table full
	ENOTSUP                  // structural violation
	EINVAL                   // bad argument
	EPERM                    // operation not allowed by the open mode
	EIO                      // device transfer or on-disk corruption
)

var errorText = map[Error]string{
	ENOENT:  "No such file or directory",
	ENODEV:  "No such device",
	ENOSPC:  "No space left on device",
	ENOMEM:  "Not enough space",
	ENOTSUP: "Operation not supported",
	EINVAL:  "Invalid argument",
	EPERM:   "Operation not permitted",
	EIO:     "I/O error",
}

var errnos = map[Error]unix.Errno{
	ENOENT:  unix.ENOENT,
	ENODEV:  unix.ENODEV,
	ENOSPC:  unix.ENOSPC,
	ENOMEM:  unix.ENOMEM,
	ENOTSUP: unix.ENOTSUP,
	EINVAL:  unix.EINVAL,
	EPERM:   unix.EPERM,
	EIO:     unix.EIO,
}

func (e Error) Error() string {
	if s, ok := errorText[e]; ok {
		return s
	}
	return "Unknown error"
}

// Errno returns the POSIX error number for this kind.
func (e Error) Errno() unix.Errno {
	if n, ok := errnos[e]; ok {
		return n
	}
	return unix.EIO
}

// Code converts an error into the numeric code reported at the external
// boundary: 0 for nil, the errno of a (possibly wrapped) Error, and EIO for
// anything else, e.g. a raw driver failure.
func Code(err error) int {
	if err == nil {
		return 0
	}
	var e Error
	if errors.As(err, &e) {
		return int(e.Errno())
	}
	return int(unix.EIO)
}
