package hapjson

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ID addresses one characteristic.
type ID struct {
	AID uint64
	IID uint64
}

// String returns the "aid.iid" form.
func (id ID) String() string {
	return strconv.FormatUint(id.AID, 10) + "." + strconv.FormatUint(id.IID, 10)
}

// ParseID parses "aid.iid".
func ParseID(s string) (ID, error) {
	a, i, ok := strings.Cut(s, ".")
	if !ok {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	aid, err := strconv.ParseUint(a, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	iid, err := strconv.ParseUint(i, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID{AID: aid, IID: iid}, nil
}

// ReadQuery is the query of GET /characteristics.
type ReadQuery struct {
	IDs   []ID
	Meta  bool
	Perms bool
	Type  bool
	Event bool
}

// ParseReadQuery parses "id=1.10,1.11&meta=1&perms=1&type=1&ev=1". The id
// member is required.
func ParseReadQuery(rawQuery string) (*ReadQuery, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ids := values.Get("id")
	if ids == "" {
		return nil, fmt.Errorf("%w: id", ErrMissingField)
	}

	q := &ReadQuery{}
	for _, part := range strings.Split(ids, ",") {
		id, err := ParseID(part)
		if err != nil {
			return nil, err
		}
		q.IDs = append(q.IDs, id)
	}

	flags := []struct {
		key string
		dst *bool
	}{
		{"meta", &q.Meta},
		{"perms", &q.Perms},
		{"type", &q.Type},
		{"ev", &q.Event},
	}
	for _, f := range flags {
		switch values.Get(f.key) {
		case "", "0", "false":
		case "1", "true":
			*f.dst = true
		default:
			return nil, fmt.Errorf("%w: %s=%q", ErrMalformed, f.key, values.Get(f.key))
		}
	}
	return q, nil
}
