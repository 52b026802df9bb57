// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors, wrapped with %w by callers and matched with errors.Is.
var (
	// Interface resolution errors
	ErrInterfaceNotFound = errors.New("l2sw: interface not found")
	ErrInterfaceReleased = errors.New("l2sw: interface released")

	// Frame buffer errors
	ErrFrameTooShort     = errors.New("l2sw: frame too short")
	ErrFrameTooLarge     = errors.New("l2sw: frame larger than buffer")
	ErrHeaderOutOfBounds = errors.New("l2sw: header boundary out of bounds")
	ErrBufferConsumed    = errors.New("l2sw: buffer already consumed")
	ErrNoBuffer          = errors.New("l2sw: no free frame buffer")
	ErrNoTarget          = errors.New("l2sw: frame has no egress target")

	// Port errors
	ErrPollTimeout = errors.New("l2sw: port poll timeout")
	ErrPortClosed  = errors.New("l2sw: port closed")

	// Lifecycle errors
	ErrHookRegistered = errors.New("l2sw: frame hook already registered")
	ErrEventBusClosed = errors.New("l2sw: event bus closed")
	ErrEventQueueFull = errors.New("l2sw: event queue full")

	// Configuration errors
	ErrConfigInvalid = errors.New("l2sw: invalid configuration")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("l2sw: daemon not running")
)
