package domain

type DeviceType string

const (
	DeviceTypeLight  DeviceType = "light"
	DeviceTypePlug   DeviceType = "plug"
	DeviceTypeSwitch DeviceType = "switch"
	DeviceTypeSensor DeviceType = "sensor"
	DeviceTypeOther  DeviceType = "other"
)

// Device is a controllable endpoint discovered from a device backend.
// Rooms are matched against Name.
type Device struct {
	ID       string
	Name     string
	Type     DeviceType
	Category string
	Online   bool
}
