package ipserver

import (
	"context"
	"net/http"

	"github.com/backkem/hap/pkg/accessory"
	"github.com/backkem/hap/pkg/hapjson"
	"github.com/goccy/go-json"
)

// readValue reads one characteristic for a controller and returns its
// encoded JSON value.
func (srv *Server) readValue(ctx context.Context, s *Session, loc accessory.Location) (json.RawMessage, accessory.Status) {
	c := loc.Characteristic
	if !c.Properties.Readable {
		return nil, accessory.StatusWriteOnlyCharacteristic
	}
	if c.Properties.ReadRequiresAdmin && !s.IsAdmin() {
		return nil, accessory.StatusInsufficientPrivileges
	}
	switch {
	case c.ReadsAsNull():
		return json.RawMessage("null"), accessory.StatusSuccess
	case c.ReadsAsEmpty():
		return json.RawMessage(`""`), accessory.StatusSuccess
	}
	return srv.callRead(ctx, s, loc)
}

// callRead invokes the read handler and encodes its value.
func (srv *Server) callRead(ctx context.Context, s *Session, loc accessory.Location) (json.RawMessage, accessory.Status) {
	c := loc.Characteristic
	v, err := c.Read(ctx, accessory.ReadRequest{
		Transport:      accessory.TransportIP,
		Session:        s,
		Characteristic: c,
		Service:        loc.Service,
		Accessory:      loc.Accessory,
	})
	if err != nil {
		s.logf("read %d.%d: %v", loc.Accessory.AID, c.IID, err)
		return nil, accessory.StatusFromError(err)
	}
	if err := c.Check(v); err != nil {
		s.warnf("read %d.%d returned invalid value: %v", loc.Accessory.AID, c.IID, err)
		return nil, accessory.StatusUnableToPerformOperation
	}
	raw, err := c.Encode(nil, v)
	if err != nil {
		s.warnf("encode %d.%d: %v", loc.Accessory.AID, c.IID, err)
		return nil, accessory.StatusUnableToPerformOperation
	}
	return raw, accessory.StatusSuccess
}

// metadata describes a characteristic's format and constraints.
func metadata(c *accessory.Characteristic) hapjson.Metadata {
	m := hapjson.Metadata{
		Format:      c.Format.String(),
		Description: c.Description,
		Unit:        string(c.Unit),
	}
	k := c.Constraints
	if r := k.Range; r != nil && c.Format.IsNumeric() {
		minV, maxV := r.Min, r.Max
		m.MinValue, m.MaxValue = &minV, &maxV
		if r.Step > 0 {
			step := r.Step
			m.MinStep = &step
		}
	}
	switch c.Format {
	case accessory.FormatString:
		if k.MaxLength > 0 {
			m.MaxLen = k.MaxLength
		}
	case accessory.FormatData:
		if k.MaxDataLength > 0 {
			m.MaxDataLen = k.MaxDataLength
		}
	}
	for _, v := range k.ValidValues {
		m.ValidValues = append(m.ValidValues, int(v))
	}
	for _, vr := range k.ValidValuesRanges {
		m.ValidValuesRange = append(m.ValidValuesRange, int(vr.Start), int(vr.End))
	}
	return m
}

// handleReadCharacteristics serves GET /characteristics?id=....
func handleReadCharacteristics(srv *Server, s *Session, r *request) {
	q, err := hapjson.ParseReadQuery(r.query)
	if err != nil {
		s.warnf("read query: %v", err)
		s.writeStatusBody(http.StatusBadRequest, accessory.StatusInvalidValueInRequest)
		return
	}
	if len(q.IDs) > srv.cfg.MaxReadWriteContexts {
		s.writeStatusBody(http.StatusInternalServerError, accessory.StatusOutOfResources)
		return
	}

	values := srv.values[:0]
	failed := false
	for _, id := range q.IDs {
		v := hapjson.Value{AID: id.AID, IID: id.IID}
		loc, ok := srv.cfg.Database.Find(id.AID, id.IID)
		if !ok {
			v.SetStatus(int(accessory.StatusResourceDoesNotExist))
			failed = true
			values = append(values, v)
			continue
		}
		c := loc.Characteristic
		raw, status := srv.readValue(srv.ctx, s, loc)
		if status != accessory.StatusSuccess {
			v.SetStatus(int(status))
			failed = true
		} else {
			v.Value = raw
		}
		if q.Type {
			v.Type = c.Type.String()
		}
		if q.Perms {
			v.Perms = c.Permissions()
		}
		if q.Event && c.Properties.SupportsEventNotification {
			ev := s.events.isSubscribed(id.AID, id.IID)
			v.Event = &ev
		}
		if q.Meta {
			m := metadata(c)
			v.Metadata = &m
		}
		values = append(values, v)
	}

	code := http.StatusOK
	if failed {
		code = http.StatusMultiStatus
		for i := range values {
			if values[i].Status == nil {
				values[i].SetStatus(int(accessory.StatusSuccess))
			}
		}
	}
	srv.writeValues(s, code, values)
	clear(values)
	srv.values = values[:0]
}

// writeValues encodes {"characteristics":[...]} into the scratch buffer and
// sends it.
func (srv *Server) writeValues(s *Session, code int, values []hapjson.Value) {
	body, err := hapjson.AppendValues(srv.scratchBytes(), values)
	if err == nil {
		err = srv.keepScratch(body)
	}
	if err != nil {
		s.warnf("encode response: %v", err)
		s.writeStatusBody(http.StatusInternalServerError, accessory.StatusOutOfResources)
		return
	}
	s.writeResponse(code, contentTypeHAPJSON, body)
}

// handleWriteCharacteristics serves PUT /characteristics.
func handleWriteCharacteristics(srv *Server, s *Session, r *request) {
	req, err := hapjson.DecodeWriteRequest(r.body)
	if err != nil {
		s.warnf("write request: %v", err)
		s.writeStatusBody(http.StatusBadRequest, accessory.StatusInvalidValueInRequest)
		return
	}
	if len(req.Characteristics) > srv.cfg.MaxReadWriteContexts {
		s.writeStatusBody(http.StatusInternalServerError, accessory.StatusOutOfResources)
		return
	}

	timed := false
	if req.PID != nil {
		tw := s.timedWrite
		s.timedWrite = timedWrite{}
		if !tw.active || tw.pid != *req.PID || srv.loop.Now().After(tw.expires) {
			s.warnf("stale timed write pid=%d", *req.PID)
			s.close(closeReasonTimedWrite)
			return
		}
		timed = true
	}

	values := srv.values[:0]
	failed, responded := false, false
	for i := range req.Characteristics {
		item := &req.Characteristics[i]
		v := hapjson.Value{AID: item.AID, IID: item.IID}
		raw, status := srv.writeItem(s, item, timed)
		if status != accessory.StatusSuccess {
			v.SetStatus(int(status))
			failed = true
		} else if raw != nil {
			v.Value = raw
			responded = true
		}
		values = append(values, v)
	}

	if !failed && !responded {
		s.writeEmpty(http.StatusNoContent)
	} else {
		for i := range values {
			if values[i].Status == nil {
				values[i].SetStatus(int(accessory.StatusSuccess))
			}
		}
		srv.writeValues(s, http.StatusMultiStatus, values)
	}
	clear(values)
	srv.values = values[:0]
}

// writeItem applies one write context: a value write, a subscription
// change, or both. It returns the write response value if one was
// requested.
func (srv *Server) writeItem(s *Session, item *hapjson.WriteItem, timed bool) (json.RawMessage, accessory.Status) {
	loc, ok := srv.cfg.Database.Find(item.AID, item.IID)
	if !ok {
		return nil, accessory.StatusResourceDoesNotExist
	}
	if !item.HasValue() && item.Event == nil {
		return nil, accessory.StatusInvalidValueInRequest
	}

	var response json.RawMessage
	if item.HasValue() {
		raw, status := srv.writeValue(s, loc, item, timed)
		if status != accessory.StatusSuccess {
			return nil, status
		}
		response = raw
	}
	if item.Event != nil {
		c := loc.Characteristic
		switch {
		case !c.Properties.SupportsEventNotification:
			return nil, accessory.StatusNotificationNotSupported
		case c.Properties.ReadRequiresAdmin && !s.IsAdmin():
			return nil, accessory.StatusInsufficientPrivileges
		}
		if status := srv.setSubscription(s, loc, *item.Event); status != accessory.StatusSuccess {
			return nil, status
		}
	}
	return response, accessory.StatusSuccess
}

func (srv *Server) writeValue(s *Session, loc accessory.Location, item *hapjson.WriteItem, timed bool) (json.RawMessage, accessory.Status) {
	c := loc.Characteristic
	p := c.Properties
	switch {
	case !p.Writable:
		return nil, accessory.StatusReadOnlyCharacteristic
	case p.WriteRequiresAdmin && !s.IsAdmin():
		return nil, accessory.StatusInsufficientPrivileges
	case p.RequiresTimedWrite && !timed:
		return nil, accessory.StatusInvalidValueInRequest
	case item.Response && !p.SupportsWriteResponse:
		return nil, accessory.StatusInvalidValueInRequest
	case item.Response && !p.Readable:
		return nil, accessory.StatusWriteOnlyCharacteristic
	}
	authData, err := item.DecodeAuthData()
	if err != nil {
		return nil, accessory.StatusInvalidValueInRequest
	}
	value, err := c.Decode(item.Value)
	if err != nil {
		s.logf("write %d.%d: %v", item.AID, item.IID, err)
		return nil, accessory.StatusInvalidValueInRequest
	}

	srv.setEchoOrigin(s, item.AID, item.IID)
	err = c.Write(srv.ctx, accessory.WriteRequest{
		Transport:         accessory.TransportIP,
		Session:           s,
		Characteristic:    c,
		Service:           loc.Service,
		Accessory:         loc.Accessory,
		Remote:            item.Remote,
		AuthorizationData: authData,
	}, value)
	srv.clearEchoOrigin()
	if err != nil {
		s.logf("write %d.%d: %v", item.AID, item.IID, err)
		return nil, accessory.StatusFromError(err)
	}

	// Characteristics with write response support are read back; the value
	// is only returned when the controller asked for it.
	if !p.SupportsWriteResponse {
		return nil, accessory.StatusSuccess
	}
	raw, status := srv.callRead(srv.ctx, s, loc)
	if !item.Response {
		return nil, accessory.StatusSuccess
	}
	return raw, status
}

// setSubscription changes one session's subscription. The characteristic's
// subscription handlers run when the first session subscribes and when the
// last one unsubscribes.
func (srv *Server) setSubscription(s *Session, loc accessory.Location, on bool) accessory.Status {
	aid, iid := loc.Accessory.AID, loc.Characteristic.IID
	if s.events.isSubscribed(aid, iid) == on {
		return accessory.StatusSuccess
	}
	others := srv.subscribers(aid, iid, s)
	if on {
		if !s.events.subscribe(aid, iid) {
			return accessory.StatusOutOfResources
		}
	} else {
		s.events.unsubscribe(aid, iid)
	}
	if others > 0 {
		return accessory.StatusSuccess
	}
	c := loc.Characteristic
	h := c.Unsubscribe
	if on {
		h = c.Subscribe
	}
	if h != nil {
		h(srv.ctx, accessory.SubscriptionRequest{
			Transport:      accessory.TransportIP,
			Session:        s,
			Characteristic: c,
			Service:        loc.Service,
			Accessory:      loc.Accessory,
		})
	}
	return accessory.StatusSuccess
}

// subscribers counts open sessions other than except subscribed to a
// characteristic.
func (srv *Server) subscribers(aid, iid uint64, except *Session) int {
	n := 0
	srv.pool.each(func(s *Session) {
		if s != except && s.events.isSubscribed(aid, iid) {
			n++
		}
	})
	return n
}
