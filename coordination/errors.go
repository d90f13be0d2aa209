package coordination

import "errors"

var (
	ErrInvalidPort         = errors.New("invalid port")
	ErrInvalidProcsPerHost = errors.New("processes per host must be positive")
	ErrUnroutableAddress   = errors.New("primary address is not routable")
)
