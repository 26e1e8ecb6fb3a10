package hapjson

import "github.com/goccy/go-json"

// Characteristic is a characteristic object of the accessory database.
type Characteristic struct {
	Type  string          `json:"type"`
	IID   uint64          `json:"iid"`
	Perms []string        `json:"perms"`
	Value json.RawMessage `json:"value,omitempty"`
	Event *bool           `json:"ev,omitempty"`

	Metadata
}

// Service is a service object of the accessory database.
type Service struct {
	IID             uint64           `json:"iid"`
	Type            string           `json:"type"`
	Primary         bool             `json:"primary,omitempty"`
	Hidden          bool             `json:"hidden,omitempty"`
	Linked          []uint64         `json:"linked,omitempty"`
	Characteristics []Characteristic `json:"characteristics"`
}

// Accessory is an accessory object of the accessory database.
type Accessory struct {
	AID      uint64    `json:"aid"`
	Services []Service `json:"services"`
}

// Envelope pieces of the GET /accessories body. An encoder emits
// AccessoriesPrefix, the accessories separated by AccessoriesSeparator, then
// AccessoriesSuffix, so the body can be produced one accessory at a time.
const (
	AccessoriesPrefix    = `{"accessories":[`
	AccessoriesSeparator = `,`
	AccessoriesSuffix    = `]}`
)

// AppendAccessory appends one accessory object to dst.
func AppendAccessory(dst []byte, a *Accessory) ([]byte, error) {
	if a.Services == nil {
		a.Services = []Service{}
	}
	for i := range a.Services {
		if a.Services[i].Characteristics == nil {
			a.Services[i].Characteristics = []Characteristic{}
		}
	}
	b, err := json.Marshal(a)
	if err != nil {
		return dst, err
	}
	return append(dst, b...), nil
}
