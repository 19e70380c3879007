package stream_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/caffeinestack/caffeinestack/server/internal/api"
	"github.com/caffeinestack/caffeinestack/server/internal/auth"
	"github.com/caffeinestack/caffeinestack/server/internal/store"
	"github.com/caffeinestack/caffeinestack/server/internal/stream"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

// fakeSource serves a fixed current level per user.
type fakeSource struct {
	mu     sync.Mutex
	levels map[uint]float64
}

func newSource(levels map[uint]float64) *fakeSource {
	return &fakeSource{levels: levels}
}

func (f *fakeSource) Detail(_ context.Context, userID uint, now time.Time) (*api.LevelDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mg, ok := f.levels[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &api.LevelDetail{
		UserID:      userID,
		CurrentMg:   mg,
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}, nil
}

func (f *fakeSource) set(userID uint, mg float64) {
	f.mu.Lock()
	f.levels[userID] = mg
	f.mu.Unlock()
}

func startHub(t *testing.T, src stream.Source) (baseURL string, hub *stream.Hub, cancel func()) {
	t.Helper()

	hub = stream.New(src, testInterval)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(hub)
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})
	return srv.URL, hub, cancelFn
}

func dial(t *testing.T, baseURL string, userID uint) *websocket.Conn {
	t.Helper()
	u := fmt.Sprintf("ws%s/ws/level?user_id=%d", strings.TrimPrefix(baseURL, "http"), userID)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) stream.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m stream.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesImmediateLevel(t *testing.T) {
	baseURL, _, _ := startHub(t, newSource(map[uint]float64{1: 120}))

	m := readMessage(t, dial(t, baseURL, 1))
	if m.Event != "level" {
		t.Errorf("event: got %q, want level", m.Event)
	}
	if m.UserID != 1 {
		t.Errorf("user_id: got %d, want 1", m.UserID)
	}
	if m.Data == nil || m.Data.CurrentMg != 120 {
		t.Errorf("data: got %+v", m.Data)
	}
}

func TestHub_ReceivesUpdateOnTick(t *testing.T) {
	src := newSource(map[uint]float64{1: 120})
	baseURL, _, _ := startHub(t, src)

	conn := dial(t, baseURL, 1)
	readMessage(t, conn)

	src.set(1, 80)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m := readMessage(t, conn); m.Data.CurrentMg == 80 {
			return
		}
	}
	t.Fatal("no tick update with the new level")
}

func TestHub_ClientsOnlySeeTheirUser(t *testing.T) {
	baseURL, _, _ := startHub(t, newSource(map[uint]float64{1: 10, 2: 20}))

	c1 := dial(t, baseURL, 1)
	c2 := dial(t, baseURL, 2)
	for i := 0; i < 3; i++ {
		if m := readMessage(t, c1); m.UserID != 1 {
			t.Errorf("client 1 got user %d", m.UserID)
		}
		if m := readMessage(t, c2); m.UserID != 2 {
			t.Errorf("client 2 got user %d", m.UserID)
		}
	}
}

func TestHub_CountsClients(t *testing.T) {
	baseURL, hub, _ := startHub(t, newSource(map[uint]float64{1: 10}))

	for i := 0; i < 3; i++ {
		readMessage(t, dial(t, baseURL, 1))
	}
	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 3 {
		t.Errorf("Count: got %d, want 3", n)
	}
}

func TestHub_CountDecreasesOnDisconnect(t *testing.T) {
	baseURL, hub, _ := startHub(t, newSource(map[uint]float64{1: 10}))

	conn := dial(t, baseURL, 1)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 1 {
		t.Errorf("Count before disconnect: got %d, want 1", n)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after disconnect: got %d, want 0", n)
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	baseURL, hub, cancel := startHub(t, newSource(map[uint]float64{1: 10}))

	conn := dial(t, baseURL, 1)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after cancel: got %d, want 0", n)
	}
}

func TestHub_RejectsBeforeUpgrade(t *testing.T) {
	hub := stream.New(newSource(map[uint]float64{1: 10}), testInterval)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing user_id", "", http.StatusBadRequest},
		{"bad user_id", "?user_id=abc", http.StatusBadRequest},
		{"unknown user", "?user_id=9", http.StatusConflict},
		{"not a websocket", "?user_id=1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/ws/level" + tt.query)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHub_ForbidsOtherJWTUser(t *testing.T) {
	hub := stream.New(newSource(map[uint]float64{1: 10, 2: 20}), testInterval)
	req := httptest.NewRequest(http.MethodGet, "/ws/level?user_id=2", nil)
	req = req.WithContext(auth.ContextWithUserID(req.Context(), 1))
	rr := httptest.NewRecorder()
	hub.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("status: got %d, want 403", rr.Code)
	}
}
