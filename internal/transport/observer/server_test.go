package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"splogs.io/internal/observerproto"
	"splogs.io/internal/telemetry/scanner"
)

type fixedStats scanner.Stats

func (f fixedStats) Stats() scanner.Stats { return scanner.Stats(f) }

const (
	itemLine   = `{"type":"item","world":"enoch","id":"p:1:0:0:1"}`
	removeLine = `{"type":"item_remove","world":"enoch","id":"p:2:0:0:1"}`
)

func TestHub_BacklogAndDrops(t *testing.T) {
	h := NewHub(2, 1)
	h.Publish([]byte(itemLine))
	h.Publish([]byte(removeLine))
	h.Publish([]byte(itemLine))

	sub, backlog := h.Subscribe(5)
	defer sub.Close()
	var seqs []uint64
	var kinds []string
	for _, e := range backlog {
		seqs = append(seqs, e.Seq)
		kinds = append(kinds, e.Kind)
	}
	if diff := cmp.Diff([]uint64{2, 3}, seqs); diff != "" {
		t.Fatalf("backlog seqs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"item_remove", "item"}, kinds); diff != "" {
		t.Fatalf("backlog kinds (-want +got):\n%s", diff)
	}

	h.Publish([]byte(itemLine))
	h.Publish([]byte(itemLine))
	if got := sub.TakeDropped(); got != 1 {
		t.Fatalf("dropped=%d want=1", got)
	}
	if got := sub.TakeDropped(); got != 0 {
		t.Fatalf("dropped not reset: %d", got)
	}
	if e := <-sub.C(); e.Seq != 4 {
		t.Fatalf("first live seq=%d want=4", e.Seq)
	}

	sub.Close()
	sub.Close()
	if h.Subscribers() != 0 {
		t.Fatalf("subscription not removed")
	}
	if st := h.Stats(); st.PublishedTotal != 5 || st.DroppedTotal != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(msg, v); err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
}

func TestWSHandler_BacklogFilterAndLive(t *testing.T) {
	hub := NewHub(16, 16)
	hub.Publish([]byte(itemLine))
	hub.Publish([]byte(removeLine))

	s := NewServer(hub, fixedStats{World: "enoch", Period: "2024-05-01_10", FrameCount: 7}, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/feed", s.WSHandler())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dialFeed(t, srv)
	defer conn.Close()
	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Kinds:           []string{"item_remove"},
		Backlog:         10,
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	var hello observerproto.HelloMsg
	readJSON(t, conn, &hello)
	if hello.Type != observerproto.TypeHello || hello.World != "enoch" || hello.FrameCount != 7 || hello.SessionID == "" {
		t.Fatalf("unexpected hello %+v", hello)
	}

	var rec observerproto.RecordMsg
	readJSON(t, conn, &rec)
	if rec.Seq != 2 || rec.Kind != "item_remove" || string(rec.Line) != removeLine {
		t.Fatalf("unexpected backlog record %+v", rec)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish([]byte(itemLine))
	hub.Publish([]byte(removeLine))

	readJSON(t, conn, &rec)
	if rec.Seq != 4 || rec.Kind != "item_remove" {
		t.Fatalf("unexpected live record %+v", rec)
	}
}

func TestWSHandler_RejectsBadHandshake(t *testing.T) {
	s := NewServer(NewHub(4, 4), nil, nil)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(map[string]string{"type": "HELLO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestBootstrapHandler(t *testing.T) {
	hub := NewHub(4, 4)
	hub.Publish([]byte(itemLine))
	s := NewServer(hub, fixedStats{World: "enoch", WorldSize: 12800, Running: true}, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/feed/bootstrap", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	s.BootstrapHandler()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var got observerproto.BootstrapResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := observerproto.BootstrapResponse{ProtocolVersion: observerproto.Version, World: "enoch", WorldSize: 12800, Running: true, LastSeq: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("bootstrap (-want +got):\n%s", diff)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/feed/bootstrap", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	s.BootstrapHandler()(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("remote status=%d want=403", rr.Code)
	}
}
