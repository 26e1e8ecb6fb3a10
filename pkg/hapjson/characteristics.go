// Package hapjson encodes and decodes the application/hap+json bodies of the
// accessory server: characteristic reads, writes and events, timed write
// preparation, the accessory database and resource requests.
//
// Encoders append to a caller-owned slice so responses can be built in place
// in a session's scratch buffer.
package hapjson

import (
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"
)

// Value is one characteristic in a read response, a write response or an
// event. Member order on the wire is aid, iid, value, status, then metadata.
type Value struct {
	AID    uint64          `json:"aid"`
	IID    uint64          `json:"iid"`
	Value  json.RawMessage `json:"value,omitempty"`
	Status *int            `json:"status,omitempty"`

	Type  string   `json:"type,omitempty"`
	Perms []string `json:"perms,omitempty"`
	Event *bool    `json:"ev,omitempty"`

	*Metadata
}

// Metadata is the optional characteristic metadata of read responses and
// the accessory database.
type Metadata struct {
	Format           string   `json:"format,omitempty"`
	Description      string   `json:"description,omitempty"`
	Unit             string   `json:"unit,omitempty"`
	MinValue         *float64 `json:"minValue,omitempty"`
	MaxValue         *float64 `json:"maxValue,omitempty"`
	MinStep          *float64 `json:"minStep,omitempty"`
	MaxLen           int      `json:"maxLen,omitempty"`
	MaxDataLen       int      `json:"maxDataLen,omitempty"`
	ValidValues      []int    `json:"valid-values,omitempty"`
	ValidValuesRange []int    `json:"valid-values-range,omitempty"`
}

// SetStatus sets the status member.
func (v *Value) SetStatus(status int) {
	v.Status = &status
}

// StatusOrSuccess returns the status, treating an absent one as success.
func (v *Value) StatusOrSuccess() int {
	if v.Status == nil {
		return 0
	}
	return *v.Status
}

type valuesBody struct {
	Characteristics []Value `json:"characteristics"`
}

// AppendValues appends {"characteristics":[...]} to dst.
func AppendValues(dst []byte, values []Value) ([]byte, error) {
	if values == nil {
		values = []Value{}
	}
	b, err := json.Marshal(valuesBody{Characteristics: values})
	if err != nil {
		return dst, err
	}
	return append(dst, b...), nil
}

// AppendStatus appends {"status":s} to dst.
func AppendStatus(dst []byte, status int) []byte {
	dst = append(dst, `{"status":`...)
	dst = fmt.Append(dst, status)
	return append(dst, '}')
}

// WriteItem is one characteristic of a PUT /characteristics request.
type WriteItem struct {
	AID      uint64          `json:"aid"`
	IID      uint64          `json:"iid"`
	Value    json.RawMessage `json:"value,omitempty"`
	Event    *bool           `json:"ev,omitempty"`
	AuthData string          `json:"authData,omitempty"`
	Remote   bool            `json:"remote,omitempty"`
	Response bool            `json:"r,omitempty"`
}

// HasValue reports whether the item carries a value to write.
func (w *WriteItem) HasValue() bool { return len(w.Value) > 0 }

// DecodeAuthData returns the Base64 decoded authorization data, or nil.
func (w *WriteItem) DecodeAuthData() ([]byte, error) {
	if w.AuthData == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(w.AuthData)
	if err != nil {
		return nil, fmt.Errorf("%w: authData: %v", ErrMalformed, err)
	}
	return b, nil
}

// WriteRequest is the body of PUT /characteristics.
type WriteRequest struct {
	Characteristics []WriteItem `json:"characteristics"`

	// PID references a prepared timed write.
	PID *uint64 `json:"pid,omitempty"`
}

// DecodeWriteRequest parses a PUT /characteristics body.
func DecodeWriteRequest(body []byte) (*WriteRequest, error) {
	var req struct {
		Characteristics *[]WriteItem `json:"characteristics"`
		PID             *uint64      `json:"pid"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.Characteristics == nil {
		return nil, fmt.Errorf("%w: characteristics", ErrMissingField)
	}
	return &WriteRequest{Characteristics: *req.Characteristics, PID: req.PID}, nil
}

// PrepareRequest is the body of PUT /prepare.
type PrepareRequest struct {
	// TTL is the transaction lifetime in milliseconds.
	TTL uint64
	PID uint64
}

// DecodePrepareRequest parses a PUT /prepare body. Both members are required.
func DecodePrepareRequest(body []byte) (*PrepareRequest, error) {
	var req struct {
		TTL *uint64 `json:"ttl"`
		PID *uint64 `json:"pid"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.TTL == nil {
		return nil, fmt.Errorf("%w: ttl", ErrMissingField)
	}
	if req.PID == nil {
		return nil, fmt.Errorf("%w: pid", ErrMissingField)
	}
	return &PrepareRequest{TTL: *req.TTL, PID: *req.PID}, nil
}

// ResourceRequest is the body of POST /resource.
type ResourceRequest struct {
	ResourceType string  `json:"resource-type"`
	ImageWidth   int     `json:"image-width,omitempty"`
	ImageHeight  int     `json:"image-height,omitempty"`
	AID          *uint64 `json:"aid,omitempty"`
}

// DecodeResourceRequest parses a POST /resource body.
func DecodeResourceRequest(body []byte) (*ResourceRequest, error) {
	var req ResourceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.ResourceType == "" {
		return nil, fmt.Errorf("%w: resource-type", ErrMissingField)
	}
	return &req, nil
}
