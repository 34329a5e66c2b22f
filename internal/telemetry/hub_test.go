package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/duplexradar/internal/sdr"
	"github.com/rjboer/duplexradar/internal/stream"
)

func progress(dir sdr.Direction, completions int) stream.Progress {
	return stream.Progress{
		Direction:   dir,
		State:       stream.Streaming,
		Completions: completions,
		Samples:     int64(completions) * 2048,
		Remaining:   int64(10-completions) * 2048,
		Budget:      10 * 2048,
	}
}

func TestHubKeepsLatestAndHistory(t *testing.T) {
	h := NewHub(3, nil)
	h.BeginSession("abc")
	for i := 1; i <= 4; i++ {
		h.Progress(progress(sdr.TX, i))
	}
	h.Progress(progress(sdr.RX, 1))

	st := h.Snapshot()
	if st.Session != "abc" || st.Phase != "setup" {
		t.Fatalf("snapshot = %+v", st)
	}
	if tx := st.Progress["TX"]; tx == nil || tx.Completions != 4 {
		t.Fatalf("TX progress = %+v", st.Progress["TX"])
	}
	if rx := st.Progress["RX"]; rx == nil || rx.State != "streaming" {
		t.Fatalf("RX progress = %+v", st.Progress["RX"])
	}
	hist := h.History()
	if len(hist) != 3 {
		t.Fatalf("history len = %d, want 3", len(hist))
	}
	if hist[0].Completions != 3 || hist[2].Direction != "RX" {
		t.Fatalf("history = %+v", hist)
	}
}

func TestHubSubscribeDropsWhenFull(t *testing.T) {
	h := NewHub(10, nil)
	ch, cancel := h.Subscribe()
	for i := 0; i < 200; i++ {
		h.Progress(progress(sdr.RX, i%10))
	}
	if got := len(ch); got != cap(ch) {
		t.Fatalf("buffered events = %d, want %d", got, cap(ch))
	}
	cancel()
	cancel()
	for range ch {
	}
	// Publishing after unsubscribe must not panic on the closed channel.
	h.Progress(progress(sdr.RX, 1))
}

func TestStatusAndHistoryEndpoints(t *testing.T) {
	h := NewHub(10, nil)
	h.BeginSession("s1")
	h.Progress(progress(sdr.TX, 2))
	h.Progress(progress(sdr.RX, 5))
	srv := NewWebServer("127.0.0.1:0", h, nil).Handler()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Session != "s1" || st.Progress["RX"].Completions != 5 {
		t.Fatalf("status = %+v", st)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?limit=1", nil))
	var events []Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(events) != 1 || events[0].Direction != "RX" {
		t.Fatalf("history = %+v", events)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?limit=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST code = %d", rec.Code)
	}
}

func TestWebsocketStreamsEvents(t *testing.T) {
	h := NewHub(10, nil)
	h.BeginSession("live")
	ts := httptest.NewServer(NewWebServer("", h, nil).Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var st Status
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if st.Session != "live" {
		t.Fatalf("initial status = %+v", st)
	}

	// The subscription exists once the snapshot has been written.
	h.Progress(progress(sdr.TX, 7))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Direction != "TX" || ev.Completions != 7 || ev.Session != "live" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	h := NewHub(1, nil)
	w := NewWebServer("127.0.0.1:0", h, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("server did not stop")
	}
}
