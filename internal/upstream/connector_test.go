package upstream

import (
	"context"
	"testing"

	"marketfeed/internal/errs"
	"marketfeed/pkg/upstoxfeed"
)

type recordingSink struct {
	opened       []int
	messages     [][]upstoxfeed.Event
	errs         []error
	closed       []int
	reconnecting []int
	stopped      []int
}

func (r *recordingSink) OnOpen(index int) { r.opened = append(r.opened, index) }
func (r *recordingSink) OnMessage(index int, events []upstoxfeed.Event) {
	r.messages = append(r.messages, events)
}
func (r *recordingSink) OnError(index int, err error)       { r.errs = append(r.errs, err) }
func (r *recordingSink) OnClose(index int, code int, text string) { r.closed = append(r.closed, index) }
func (r *recordingSink) OnReconnecting(index int, attempt int)    { r.reconnecting = append(r.reconnecting, index) }
func (r *recordingSink) OnAutoReconnectStopped(index int)         { r.stopped = append(r.stopped, index) }

func TestConnector_ConnectToInvalidURLReturnsNetworkError(t *testing.T) {
	sink := &recordingSink{}
	c := New(0, "ws://127.0.0.1:0/feed", "token", sink)
	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect to an unreachable address to fail")
	}
	if !errs.Is(err, errs.KindUpstreamNetwork) {
		t.Fatalf("expected UpstreamNetworkError, got %v", err)
	}
}

func TestConnector_DisconnectBeforeConnectIsSafe(t *testing.T) {
	sink := &recordingSink{}
	c := New(1, "ws://127.0.0.1:0/feed", "token", sink)
	c.Disconnect()
	st := c.State()
	if st.Connected {
		t.Fatal("expected disconnected state")
	}
}

func TestConnector_SendControlWithoutConnectionFails(t *testing.T) {
	sink := &recordingSink{}
	c := New(2, "ws://127.0.0.1:0/feed", "token", sink)
	if err := c.Subscribe([]string{"A"}, "full"); err == nil {
		t.Fatal("expected Subscribe without a live connection to fail")
	}
}
