// Package discovery advertises HAP accessories over DNS-SD (mDNS) and
// resolves them.
//
// An accessory publishes one _hap._tcp service whose TXT record carries its
// identity and state. When the state changes (pairing status, configuration,
// Wi-Fi configuration mode, state number) the record is republished in place.
package discovery

import "strings"

// DNS-SD service strings.
const (
	// ServiceHAP is the DNS-SD service type of HAP accessories on IP.
	ServiceHAP = "_hap._tcp"

	// DefaultDomain is the default mDNS domain.
	DefaultDomain = "local."
)

// ProtocolVersion is the advertised protocol version ("pv").
const ProtocolVersion = "1.1"

// StatusFlags is the "sf" bitmap.
type StatusFlags uint8

const (
	// StatusNotPaired is set while the accessory has no pairing.
	StatusNotPaired StatusFlags = 0x01
	// StatusNotConfiguredForWiFi is set while the accessory waits for Wi-Fi
	// configuration.
	StatusNotConfiguredForWiFi StatusFlags = 0x02
	// StatusProblemDetected reports a fault.
	StatusProblemDetected StatusFlags = 0x04
)

// String returns a human-readable list of the set flags.
func (f StatusFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	if f&StatusNotPaired != 0 {
		parts = append(parts, "not-paired")
	}
	if f&StatusNotConfiguredForWiFi != 0 {
		parts = append(parts, "not-configured-for-wifi")
	}
	if f&StatusProblemDetected != 0 {
		parts = append(parts, "problem-detected")
	}
	return strings.Join(parts, "|")
}

// FeatureFlags is the "ff" bitmap.
type FeatureFlags uint8

const (
	// FeatureHardwareAuthentication marks an authentication coprocessor.
	FeatureHardwareAuthentication FeatureFlags = 0x01
	// FeatureSoftwareAuthentication marks software token authentication.
	FeatureSoftwareAuthentication FeatureFlags = 0x02
)

// Category is the accessory category ("ci").
type Category uint16

// Accessory categories.
const (
	CategoryOther              Category = 1
	CategoryBridge             Category = 2
	CategoryFan                Category = 3
	CategoryGarageDoorOpener   Category = 4
	CategoryLightbulb          Category = 5
	CategoryDoorLock           Category = 6
	CategoryOutlet             Category = 7
	CategorySwitch             Category = 8
	CategoryThermostat         Category = 9
	CategorySensor             Category = 10
	CategorySecuritySystem     Category = 11
	CategoryDoor               Category = 12
	CategoryWindow             Category = 13
	CategoryWindowCovering     Category = 14
	CategoryProgrammableSwitch Category = 15
	CategoryIPCamera           Category = 17
	CategoryVideoDoorbell      Category = 18
	CategoryAirPurifier        Category = 19
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryBridge:
		return "Bridge"
	case CategoryFan:
		return "Fan"
	case CategoryGarageDoorOpener:
		return "GarageDoorOpener"
	case CategoryLightbulb:
		return "Lightbulb"
	case CategoryDoorLock:
		return "DoorLock"
	case CategoryOutlet:
		return "Outlet"
	case CategorySwitch:
		return "Switch"
	case CategoryThermostat:
		return "Thermostat"
	case CategorySensor:
		return "Sensor"
	case CategorySecuritySystem:
		return "SecuritySystem"
	case CategoryDoor:
		return "Door"
	case CategoryWindow:
		return "Window"
	case CategoryWindowCovering:
		return "WindowCovering"
	case CategoryProgrammableSwitch:
		return "ProgrammableSwitch"
	case CategoryIPCamera:
		return "IPCamera"
	case CategoryVideoDoorbell:
		return "VideoDoorbell"
	case CategoryAirPurifier:
		return "AirPurifier"
	default:
		return "Other"
	}
}
