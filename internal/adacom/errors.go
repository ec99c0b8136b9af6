package adacom

import "errors"

// Sentinel errors returned by engine operations or passed to callbacks.
// Precondition failures are returned synchronously; failures discovered
// while waiting on the device only ever reach a callback.
var (
	ErrNotConnected       = errors.New("adacom: not connected")
	ErrDeviceNotFound     = errors.New("adacom: device not found")
	ErrDeviceNotSupported = errors.New("adacom: device not supported")
	ErrDeviceNotAvailable = errors.New("adacom: device not available")
	ErrDeviceBusy         = errors.New("adacom: device busy")
	ErrInvalidChannel     = errors.New("adacom: invalid channel")
	ErrInvalidAttenuation = errors.New("adacom: invalid attenuation")
	ErrChannelCount       = errors.New("adacom: channel count mismatch")
	ErrCommandTimeout     = errors.New("adacom: command timed out")
	ErrCommandRejected    = errors.New("adacom: command rejected by device")
	ErrUnknown            = errors.New("adacom: unknown protocol error")
)
