package meter_modbus

import "errors"

var (
	// ErrConfig marks a malformed or inconsistent register map.
	ErrConfig = errors.New("register map config error")
	// ErrDiscovery marks a scan where no port/address answered as expected.
	ErrDiscovery = errors.New("device discovery failed")
	// ErrConnection marks a line that could not be opened or verified.
	ErrConnection = errors.New("connection error")
	// ErrRead marks a single failed register request.
	ErrRead = errors.New("register read failed")
	// ErrDecode marks register words that could not be decoded.
	ErrDecode = errors.New("register decode failed")
	// ErrNotConnected is the absence reason of readings taken without a device.
	ErrNotConnected = errors.New("not connected")
)
