package adb

import "fmt"

// FailError is returned when the daemon replies FAIL with a textual reason.
type FailError struct {
	Message string
}

func (e *FailError) Error() string {
	return fmt.Sprintf("adb: failure: %q", e.Message)
}

// PrematureEOFError is returned when the stream closes before a read that
// requires an exact number of bytes is satisfied.
type PrematureEOFError struct {
	Missing int
}

func (e *PrematureEOFError) Error() string {
	return fmt.Sprintf("adb: premature end of stream, needed %d more bytes", e.Missing)
}

// UnexpectedDataError is returned when a reply doesn't match any tag the
// caller was prepared to handle.
type UnexpectedDataError struct {
	Got, Want string
}

func (e *UnexpectedDataError) Error() string {
	return fmt.Sprintf("adb: unexpected %q, was expecting %s", e.Got, e.Want)
}

// DeviceNotFoundError is returned when a transport attach targets an
// unrecognised serial.
type DeviceNotFoundError struct {
	Serial string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("adb: device not found: %s", e.Serial)
}

// ConfigError is returned for malformed configuration such as an
// unsupported legacy framebuffer version or a framebuffer bit depth the RGB
// transform cannot handle. pkg/adb/auth does not use it: malformed public
// keys and unsupported RSA exponents are reported there as plain errors.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("adb: config error: %s", e.Reason)
}

// InstallError wraps a pm install failure, carrying the device-reported
// error code (e.g. "INSTALL_FAILED_ALREADY_EXISTS").
type InstallError struct {
	Code string
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("adb: install failed [%s]", e.Code)
}

// ErrParserConsumed is returned by any Parser method called after Raw has
// transferred ownership of the underlying reader to the caller.
var ErrParserConsumed = fmt.Errorf("adb: parser consumed by Raw")
