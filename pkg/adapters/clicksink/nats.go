// Package clicksink publishes click events to a message broker so analytics
// consumers can aggregate them away from the redirect path.
package clicksink

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/logging"
)

// NATS publishes each ClickEvent as JSON on "<subject>.<link id>".
// Publishing is core NATS: fire and forget, matching the recorder's
// at-most-once contract.
type NATS struct {
	conn    *nats.Conn
	subject string
}

func NewNATS(url, subject string) (*NATS, error) {
	log := logging.Component("click_sink")
	conn, err := nats.Connect(url,
		nats.Name("link-resolver-clicks"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return NewNATSFromConn(conn, subject), nil
}

func NewNATSFromConn(conn *nats.Conn, subject string) *NATS {
	if subject == "" {
		subject = "clicks"
	}
	return &NATS{conn: conn, subject: subject}
}

func (n *NATS) Append(ctx context.Context, ev *domain.ClickEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.conn.Publish(n.Subject(ev.LinkID), data)
}

// Subject returns the subject events of linkID are published on.
func (n *NATS) Subject(linkID string) string {
	return n.subject + "." + linkID
}

func (n *NATS) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
