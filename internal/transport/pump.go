package transport

import (
	"context"
	"log/slog"

	"github.com/zsiec/sonar/internal/mixer"
)

// pump writes the session's outbound packets with send until ctx is
// cancelled or the session is removed. Send failures are logged and the
// packet is dropped; audio is never retransmitted.
func pump(ctx context.Context, sess *mixer.Session, send func([]byte) error, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case pkt := <-sess.Outbound():
			if err := send(pkt); err != nil {
				log.Debug("send failed", "session", sess.ID, "error", err)
			}
		}
	}
}

// ingest hands one packet to the session, logging rejected packets at
// debug level.
func ingest(sess *mixer.Session, b []byte, log *slog.Logger) {
	if err := sess.Ingest(b); err != nil {
		log.Debug("dropping packet", "session", sess.ID, "len", len(b), "error", err)
	}
}
