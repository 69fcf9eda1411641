// Package linkerr enumerates the error kinds surfaced inside m2mlink.
//
// None of these ever terminates the link: the orchestrator logs them, maps
// them onto link state (dropped frame, shrunk keepalive interval,
// disconnected transition), and keeps going. ResetPairing reports only a
// bool; SendMessage and the record Reader's Retrieve methods do return one
// of these errors to the caller alongside their result.
package linkerr

import "errors"

var (
	ErrRadioInitFailed   = errors.New("m2mlink: radio initialisation failed")
	ErrChannelSetFailed  = errors.New("m2mlink: channel set failed")
	ErrPeerRegisterFailed = errors.New("m2mlink: peer registration failed")
	ErrBadCRC            = errors.New("m2mlink: bad frame crc")
	ErrShortFrame        = errors.New("m2mlink: frame shorter than minimum")
	ErrUnknownType       = errors.New("m2mlink: unknown frame type")
	ErrUnexpectedState   = errors.New("m2mlink: unexpected fsm state")
	ErrTypeMismatch      = errors.New("m2mlink: record type mismatch")
	ErrBufferFull        = errors.New("m2mlink: record buffer full")
	ErrPersistenceFailed = errors.New("m2mlink: persistence operation failed")
	ErrTxTimeout         = errors.New("m2mlink: tx confirmation timed out")
)
