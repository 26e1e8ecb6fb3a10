package ipserver

import (
	"net/http"
	"strconv"

	"github.com/backkem/hap/pkg/accessory"
	"github.com/backkem/hap/pkg/hapjson"
)

// accessoriesWriter streams GET /accessories one accessory per chunk. The
// next chunk is produced whenever the outbound buffer has drained.
type accessoriesWriter struct {
	next int
}

func handleAccessories(srv *Server, s *Session, _ *request) {
	s.finishRequest()
	s.lastCode = http.StatusOK
	head := []byte("HTTP/1.1 200 OK\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"Content-Type: " + contentTypeHAPJSON + "\r\n\r\n")
	if err := s.queue(head); err != nil {
		s.handleQueueError(err)
		return
	}
	s.accessories = &accessoriesWriter{}
	s.state = sessionWriting
}

// writeAccessoriesChunk queues the next accessory as one chunk. The last
// chunk also carries the closing bracket and the terminating empty chunk.
func (srv *Server) writeAccessoriesChunk(s *Session) {
	w := s.accessories
	all := srv.cfg.Database.Accessories()

	body := srv.scratchBytes()
	if w.next == 0 {
		body = append(body, hapjson.AccessoriesPrefix...)
	} else {
		body = append(body, hapjson.AccessoriesSeparator...)
	}
	var err error
	if w.next < len(all) {
		body, err = hapjson.AppendAccessory(body, srv.describeAccessory(s, all[w.next]))
		if err == nil {
			err = srv.keepScratch(body)
		}
		if err != nil {
			s.warnf("encode accessory %d: %v", all[w.next].AID, err)
			s.close(closeReasonError)
			return
		}
	}
	w.next++
	last := w.next >= len(all)
	if last {
		body = append(body, hapjson.AccessoriesSuffix...)
	}

	size := strconv.AppendInt(srv.headBuf[:0], int64(len(body)), 16)
	size = append(size, "\r\n"...)
	srv.headBuf = size[:0]
	trailer := "\r\n"
	if last {
		trailer = "\r\n0\r\n\r\n"
		s.accessories = nil
	}
	if err := s.queue(size, body, []byte(trailer)); err != nil {
		if !srv.cfg.Allocator.IsDynamic() {
			panic(ErrFatal)
		}
		// Headers are already out; nothing else can be sent.
		s.warnf("accessory chunk dropped: %v", err)
		s.close(closeReasonOversized)
	}
}

// describeAccessory builds the attribute description of one accessory.
func (srv *Server) describeAccessory(s *Session, a *accessory.Accessory) *hapjson.Accessory {
	out := &hapjson.Accessory{AID: a.AID, Services: make([]hapjson.Service, 0, len(a.Services))}
	for _, svc := range a.Services {
		hs := hapjson.Service{
			IID:             svc.IID,
			Type:            svc.Type.String(),
			Primary:         svc.Primary,
			Hidden:          svc.Hidden,
			Linked:          svc.Linked,
			Characteristics: make([]hapjson.Characteristic, 0, len(svc.Characteristics)),
		}
		for _, c := range svc.Characteristics {
			hc := hapjson.Characteristic{
				Type:     c.Type.String(),
				IID:      c.IID,
				Perms:    c.Permissions(),
				Metadata: metadata(c),
			}
			if c.Properties.Readable {
				loc := accessory.Location{Accessory: a, Service: svc, Characteristic: c}
				if raw, status := srv.readValue(srv.ctx, s, loc); status == accessory.StatusSuccess {
					hc.Value = raw
				}
			}
			if c.Properties.SupportsEventNotification {
				ev := s.events.isSubscribed(a.AID, c.IID)
				hc.Event = &ev
			}
			hs.Characteristics = append(hs.Characteristics, hc)
		}
		out.Services = append(out.Services, hs)
	}
	return out
}
