package clicksink

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
)

func runServer(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func TestNATS_AppendPublishesPerLink(t *testing.T) {
	url := runServer(t)

	sink, err := NewNATS(url, "test.clicks")
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	msgs := make(chan *nats.Msg, 4)
	s, err := sub.ChanSubscribe("test.clicks.*", msgs)
	require.NoError(t, err)
	require.NoError(t, s.AutoUnsubscribe(2))
	require.NoError(t, sub.Flush())

	at := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, sink.Append(context.Background(), &domain.ClickEvent{
		ID: "e1", LinkID: "l1", VariantID: "a", Country: "FR", DeviceType: domain.DeviceMobile, Timestamp: at,
	}))
	require.NoError(t, sink.Append(context.Background(), &domain.ClickEvent{ID: "e2", LinkID: "l2", Timestamp: at}))

	got := map[string]domain.ClickEvent{}
	for i := 0; i < 2; i++ {
		select {
		case m := <-msgs:
			var ev domain.ClickEvent
			require.NoError(t, json.Unmarshal(m.Data, &ev))
			assert.Equal(t, sink.Subject(ev.LinkID), m.Subject)
			got[ev.ID] = ev
		case <-time.After(3 * time.Second):
			t.Fatal("click event not delivered")
		}
	}

	assert.Equal(t, "a", got["e1"].VariantID)
	assert.Equal(t, "FR", got["e1"].Country)
	assert.Equal(t, domain.DeviceMobile, got["e1"].DeviceType)
	assert.True(t, at.Equal(got["e1"].Timestamp))
	assert.Equal(t, "l2", got["e2"].LinkID)
}

func TestNATS_DefaultSubject(t *testing.T) {
	url := runServer(t)
	conn, err := nats.Connect(url)
	require.NoError(t, err)

	sink := NewNATSFromConn(conn, "")
	t.Cleanup(func() { sink.Close() })
	assert.Equal(t, "clicks.l1", sink.Subject("l1"))
}

func TestNATS_AppendHonoursCancelledContext(t *testing.T) {
	url := runServer(t)
	sink, err := NewNATS(url, "")
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Append(ctx, &domain.ClickEvent{LinkID: "l1"}), context.Canceled)
}

func TestNewNATS_Unreachable(t *testing.T) {
	_, err := NewNATS("nats://127.0.0.1:1", "")
	assert.Error(t, err)
}
