package message

import "errors"

var (
	ErrUnknownContent    = errors.New("unknown message content")
	ErrEmptyMessage      = errors.New("message has no content")
	ErrIncomplete        = errors.New("fragment set incomplete")
	ErrInconsistentTotal = errors.New("fragment total inconsistent")
	ErrReassemblyTimeout = errors.New("reassembly timed out")
)
