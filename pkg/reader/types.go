package reader

import (
	"errors"
	"fmt"
)

// Reader errors.
var (
	ErrInvalidPolicy          = errors.New("invalid connection policy")
	ErrInvalidDeviceType      = errors.New("invalid device type")
	ErrInvalidDiscoveryMethod = errors.New("invalid discovery method")
	ErrNotConnected           = errors.New("no reader connected")
	ErrReaderNotFound         = errors.New("reader not found")
	ErrConnectFailed          = errors.New("reader connect failed")
)

// AnyReader is the desired-reader sentinel meaning "connect to whichever
// reader is strongest, no specific preference".
const AnyReader = "*"

// Policy governs automatic-connection and persistence decisions.
// It is fixed for the lifetime of a connection manager.
type Policy uint8

const (
	// PolicyAuto connects to the strongest discovered reader and retries
	// automatically, without persisting the choice.
	PolicyAuto Policy = iota + 1

	// PolicyPersist behaves like PolicyAuto and additionally remembers the
	// connected reader's serial across restarts.
	PolicyPersist

	// PolicyManual never connects automatically; the caller drives every
	// connect attempt.
	PolicyManual

	// PolicyPersistManual remembers the reader like PolicyPersist but only
	// reconnects at startup when a persisted serial exists.
	PolicyPersistManual
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyAuto:
		return "AUTO"
	case PolicyPersist:
		return "PERSIST"
	case PolicyManual:
		return "MANUAL"
	case PolicyPersistManual:
		return "PERSIST_MANUAL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether p is one of the four enumerated policies.
func (p Policy) Valid() bool {
	switch p {
	case PolicyAuto, PolicyPersist, PolicyManual, PolicyPersistManual:
		return true
	default:
		return false
	}
}

// Persists reports whether the policy writes the connected reader's serial
// to durable storage.
func (p Policy) Persists() bool {
	return p == PolicyPersist || p == PolicyPersistManual
}

// AutoRetries reports whether a failed connect attempt restarts the connect
// sequence automatically.
func (p Policy) AutoRetries() bool {
	return p != PolicyManual
}

// ParsePolicy parses a policy name as used in configuration files and CLI
// flags. Matching is exact on the lowercase names "auto", "persist",
// "manual" and "persist-manual".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "auto":
		return PolicyAuto, nil
	case "persist":
		return PolicyPersist, nil
	case "manual":
		return PolicyManual, nil
	case "persist-manual":
		return PolicyPersistManual, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// DeviceType is the category of reader hardware a discovery scan targets.
type DeviceType uint8

const (
	// DeviceTypeStandard is the baseline reader category.
	DeviceTypeStandard DeviceType = iota + 1

	// DeviceTypeHandheld is a battery-powered mobile reader.
	DeviceTypeHandheld

	// DeviceTypeCountertop is a mains-powered stationary reader.
	DeviceTypeCountertop
)

// String returns the device type name.
func (t DeviceType) String() string {
	switch t {
	case DeviceTypeStandard:
		return "STANDARD"
	case DeviceTypeHandheld:
		return "HANDHELD"
	case DeviceTypeCountertop:
		return "COUNTERTOP"
	default:
		return "UNKNOWN"
	}
}

// ParseDeviceType parses a device type name ("standard", "handheld",
// "countertop").
func ParseDeviceType(s string) (DeviceType, error) {
	switch s {
	case "standard":
		return DeviceTypeStandard, nil
	case "handheld":
		return DeviceTypeHandheld, nil
	case "countertop":
		return DeviceTypeCountertop, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDeviceType, s)
	}
}

// DiscoveryMethod selects how a hardware adapter searches for readers.
type DiscoveryMethod uint8

const (
	// MethodProximity is the baseline proximity-based discovery method:
	// nearby readers ordered by signal strength.
	MethodProximity DiscoveryMethod = iota + 1

	// MethodBluetoothScan is a full bluetooth scan.
	MethodBluetoothScan

	// MethodNetwork discovers readers advertised on the local network.
	MethodNetwork
)

// String returns the discovery method name.
func (m DiscoveryMethod) String() string {
	switch m {
	case MethodProximity:
		return "PROXIMITY"
	case MethodBluetoothScan:
		return "BLUETOOTH_SCAN"
	case MethodNetwork:
		return "NETWORK"
	default:
		return "UNKNOWN"
	}
}

// ParseDiscoveryMethod parses a discovery method name ("proximity",
// "bluetooth-scan", "network").
func ParseDiscoveryMethod(s string) (DiscoveryMethod, error) {
	switch s {
	case "proximity":
		return MethodProximity, nil
	case "bluetooth-scan":
		return MethodBluetoothScan, nil
	case "network":
		return MethodNetwork, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDiscoveryMethod, s)
	}
}

// DiscoveredReader is a transient record produced by a discovery scan.
// Batches are ordered strongest-signal first; the record is not retained
// beyond the discovery callback that delivered it.
type DiscoveredReader struct {
	// Serial is the reader's serial number, the identity used for all
	// connect decisions.
	Serial string

	// Label is an optional human-readable name.
	Label string

	// Model is an optional hardware model name.
	Model string

	// SignalStrength is an optional adapter-specific signal indication
	// (e.g. RSSI in dBm). Zero when the adapter does not report one;
	// batch order remains the authoritative ranking.
	SignalStrength int
}

// ConnectedReader describes the currently connected reader.
type ConnectedReader struct {
	// Serial is the reader's serial number.
	Serial string

	// Label is an optional human-readable name.
	Label string

	// Model is an optional hardware model name.
	Model string
}

// Serials returns the serial numbers of a discovered batch in batch order.
func Serials(batch []DiscoveredReader) []string {
	out := make([]string, len(batch))
	for i, r := range batch {
		out[i] = r.Serial
	}
	return out
}
