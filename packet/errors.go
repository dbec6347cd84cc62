package packet

import "errors"

var (
	ErrTruncated       = errors.New("packet truncated")
	ErrUnknownKind     = errors.New("unknown packet kind")
	ErrPayloadTooLarge = errors.New("fragment payload too large")
	ErrHeaderTooLong   = errors.New("routing header too long")
)
