package accessory

import "fmt"

// Service groups the characteristics of one function of an accessory.
type Service struct {
	IID             uint64
	Type            UUID
	Name            string
	Primary         bool
	Hidden          bool
	Linked          []uint64
	Characteristics []*Characteristic
}

// Accessory is a physical or bridged accessory.
type Accessory struct {
	AID      uint64
	Name     string
	Services []*Service
}

// Location identifies a characteristic within the database.
type Location struct {
	Accessory      *Accessory
	Service        *Service
	Characteristic *Characteristic
}

type key struct {
	aid, iid uint64
}

// Database is the immutable attribute database served by an accessory server.
type Database struct {
	accessories []*Accessory
	index       map[key]Location

	// Dense enumeration of characteristics supporting event notification.
	events     []key
	eventIndex map[key]int
}

// NewDatabase validates the accessories and builds lookup indexes. The first
// accessory must have aid 1.
func NewDatabase(accessories ...*Accessory) (*Database, error) {
	db := &Database{
		accessories: accessories,
		index:       make(map[key]Location),
		eventIndex:  make(map[key]int),
	}
	aids := make(map[uint64]bool)
	for _, a := range accessories {
		if a.AID == 0 {
			return nil, ErrInvalidID
		}
		if aids[a.AID] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateAID, a.AID)
		}
		aids[a.AID] = true

		iids := make(map[uint64]bool)
		for _, s := range a.Services {
			if s.IID == 0 {
				return nil, ErrInvalidID
			}
			if iids[s.IID] {
				return nil, fmt.Errorf("%w: %d.%d", ErrDuplicateIID, a.AID, s.IID)
			}
			iids[s.IID] = true
			for _, c := range s.Characteristics {
				if err := validateCharacteristic(a.AID, c, iids); err != nil {
					return nil, err
				}
				k := key{a.AID, c.IID}
				db.index[k] = Location{Accessory: a, Service: s, Characteristic: c}
				if c.Properties.SupportsEventNotification {
					db.eventIndex[k] = len(db.events)
					db.events = append(db.events, k)
				}
			}
		}
	}
	return db, nil
}

func validateCharacteristic(aid uint64, c *Characteristic, iids map[uint64]bool) error {
	if c.IID == 0 {
		return ErrInvalidID
	}
	if iids[c.IID] {
		return fmt.Errorf("%w: %d.%d", ErrDuplicateIID, aid, c.IID)
	}
	iids[c.IID] = true
	if !c.Format.IsValid() {
		return fmt.Errorf("%w: %d.%d", ErrInvalidFormat, aid, c.IID)
	}
	// Event notifications always read through the handler.
	needsRead := (c.Properties.Readable && !c.ReadsAsNull() && !c.ReadsAsEmpty()) ||
		c.Properties.SupportsEventNotification
	if needsRead && c.Read == nil {
		return fmt.Errorf("%w: read %d.%d", ErrMissingHandler, aid, c.IID)
	}
	if c.Properties.Writable && c.Write == nil {
		return fmt.Errorf("%w: write %d.%d", ErrMissingHandler, aid, c.IID)
	}
	return nil
}

// Accessories returns all accessories in registration order.
func (db *Database) Accessories() []*Accessory {
	return db.accessories
}

// Find returns the characteristic with the given aid and iid.
func (db *Database) Find(aid, iid uint64) (Location, bool) {
	loc, ok := db.index[key{aid, iid}]
	return loc, ok
}

// NumEventCharacteristics returns the number of characteristics supporting
// event notification.
func (db *Database) NumEventCharacteristics() int {
	return len(db.events)
}

// EventIndex returns the dense index of an event-capable characteristic.
func (db *Database) EventIndex(aid, iid uint64) (int, bool) {
	i, ok := db.eventIndex[key{aid, iid}]
	return i, ok
}

// EventAt returns the aid and iid of the event-capable characteristic at
// dense index i.
func (db *Database) EventAt(i int) (aid, iid uint64) {
	k := db.events[i]
	return k.aid, k.iid
}
