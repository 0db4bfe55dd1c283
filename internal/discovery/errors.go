package discovery

import (
	"errors"
	"net"
	"os"
)

var errDeadlinePassed = os.ErrDeadlineExceeded

func errDeadline(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
