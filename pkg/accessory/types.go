package accessory

// Well-known service types.
var (
	ServiceTypeAccessoryInformation        = HAPType(0x3E)
	ServiceTypeProtocolInformation         = HAPType(0xA2)
	ServiceTypeLightbulb                   = HAPType(0x43)
	ServiceTypeStatelessProgrammableSwitch = HAPType(0x89)
)

// Well-known characteristic types.
var (
	CharacteristicTypeIdentify                = HAPType(0x14)
	CharacteristicTypeManufacturer            = HAPType(0x20)
	CharacteristicTypeModel                   = HAPType(0x21)
	CharacteristicTypeName                    = HAPType(0x23)
	CharacteristicTypeOn                      = HAPType(0x25)
	CharacteristicTypeSerialNumber            = HAPType(0x30)
	CharacteristicTypeVersion                 = HAPType(0x37)
	CharacteristicTypeBrightness              = HAPType(0x08)
	CharacteristicTypeHue                     = HAPType(0x13)
	CharacteristicTypeFirmwareRevision        = HAPType(0x52)
	CharacteristicTypeProgrammableSwitchEvent = HAPType(0x73)
	CharacteristicTypeServiceSignature        = HAPType(0xA5)
	CharacteristicTypeButtonEvent             = HAPType(0x126)
)

// IsMomentaryEvent reports whether the type carries a momentary event. Reads
// of these characteristics over HTTP return null without calling the read
// handler, and their event notifications are never delayed.
func IsMomentaryEvent(t UUID) bool {
	return t == CharacteristicTypeProgrammableSwitchEvent || t == CharacteristicTypeButtonEvent
}
