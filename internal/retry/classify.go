package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Class buckets an error by how the caller should react to it.
type Class int

const (
	// Fatal covers everything not explicitly recognised.
	Fatal Class = iota
	// Forbidden is a server access-denied response.
	Forbidden
	// RateLimited is a server throttling response.
	RateLimited
	// Transient is a connection reset, refusal, or timeout.
	Transient
)

func (c Class) String() string {
	switch c {
	case Forbidden:
		return "forbidden"
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	default:
		return "fatal"
	}
}

// StatusCoder is implemented by errors carrying an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Classify inspects err and its chain. A *Error reports the class it was built with.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Class
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case http.StatusForbidden:
			return Forbidden
		case http.StatusTooManyRequests:
			return RateLimited
		}
		return Fatal
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Transient
	}
	return Fatal
}
