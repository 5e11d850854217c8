package notify

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quillpub/quill-server/delivery"
)

// sseSink writes delivery events as server-sent events.
type sseSink struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s sseSink) Send(evt delivery.Event) error {
	if _, err := s.w.Write([]byte("event: " + evt.Name + "\ndata: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(evt.Data); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// Comment writes an sse comment line, clients ignore it.
func (s sseSink) Comment(text string) error {
	if _, err := s.w.Write([]byte(": " + text + "\n\n")); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// stream pumps channel events to the sink until the client goes away or the
// channel is closed by the registry.
func stream(r *http.Request, ch *delivery.Channel, sink sseSink, keepAlive time.Duration) {
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	if err := sink.Comment("connected"); err != nil {
		ch.Fail()
		return
	}
	for {
		select {
		case <-r.Context().Done():
			ch.Close()
			return
		case <-ch.Done():
			log.Debug("stream closed", zap.String("subscriberId", ch.SubscriberId()), zap.Stringer("reason", ch.Reason()))
			return
		case evt := <-ch.Events():
			if err := sink.Send(evt); err != nil {
				log.Debug("sse write failed", zap.String("subscriberId", ch.SubscriberId()), zap.Error(err))
				ch.Fail()
				return
			}
		case <-ticker.C:
			if err := sink.Comment("keepalive"); err != nil {
				ch.Fail()
				return
			}
		}
	}
}
