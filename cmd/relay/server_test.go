package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avaropoint/deskrelay/internal/protocol"
	"github.com/avaropoint/deskrelay/internal/relay"
	"github.com/avaropoint/deskrelay/internal/security"
	"github.com/avaropoint/deskrelay/internal/store"
)

func newTestServer(t *testing.T, adminKey string) (*httptest.Server, store.RoomStore) {
	t.Helper()
	rooms, err := store.NewJSONStore(filepath.Join(t.TempDir(), "room_config.json"))
	if err != nil {
		t.Fatal(err)
	}
	reg := relay.NewRegistry(relay.NewAccessController(rooms), relay.DefaultConfig())
	srv := httptest.NewServer(NewServer(reg, rooms, security.NewAdminGuard(adminKey)).Routes())
	t.Cleanup(func() {
		srv.Close()
		reg.Close()
	})
	return srv, rooms
}

func postRoom(t *testing.T, url, body string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url+"/api/create_room", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out) //nolint:errcheck
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !out["ok"] {
		t.Fatalf("health = %v, %v", out, err)
	}
}

func TestCreateRoom(t *testing.T) {
	srv, rooms := newTestServer(t, "k3y")
	hash := security.HashPassword("secret")

	if code, _ := postRoom(t, srv.URL, `{"room":"demo"}`); code != http.StatusBadRequest {
		t.Fatalf("missing hash: %d", code)
	}
	if code, out := postRoom(t, srv.URL, `{"room":"demo","password_hash":"`+hash+`","admin_key":"nope"}`); code != http.StatusForbidden || out["error"] != "Invalid admin key" {
		t.Fatalf("bad key: %d %v", code, out)
	}
	if code, _ := postRoom(t, srv.URL, `{"room":"demo","password_hash":"xyz","admin_key":"k3y"}`); code != http.StatusBadRequest {
		t.Fatalf("bad hash: %d", code)
	}
	code, out := postRoom(t, srv.URL, `{"room":"demo","password_hash":"`+hash+`","admin_key":"k3y"}`)
	if code != http.StatusOK || out["ok"] != true {
		t.Fatalf("create: %d %v", code, out)
	}

	rec, err := rooms.GetRoom(context.Background(), "demo")
	if err != nil || rec == nil || rec.PasswordHash != hash {
		t.Fatalf("stored %+v, %v", rec, err)
	}
}

func TestListRoomsRequiresKey(t *testing.T) {
	srv, _ := newTestServer(t, "k3y")
	resp, err := http.Get(srv.URL + "/api/rooms")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/rooms", nil)
	req.Header.Set("X-Admin-Key", "k3y")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestJoinAfterCreateRoom(t *testing.T) {
	srv, _ := newTestServer(t, "")
	hash := security.HashPassword("secret")
	if code, _ := postRoom(t, srv.URL, `{"room":"demo","password_hash":"`+hash+`"}`); code != http.StatusOK {
		t.Fatalf("create: %d", code)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	dial := func(role protocol.Role, password string) *websocket.Conn {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ws, err := protocol.Dial(ctx, url)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { ws.Close() })
		protocol.WriteCommand(ws, &protocol.Join{Room: "demo", Password: password, Role: role}) //nolint:errcheck
		return ws
	}
	next := func(ws *websocket.Conn) protocol.Command {
		ws.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		cmd, err := protocol.Decode(data)
		if err != nil {
			t.Fatal(err)
		}
		return cmd
	}

	intruder := dial(protocol.RoleViewer, "guess")
	if e, ok := next(intruder).(*protocol.Error); !ok || !strings.Contains(e.Message, "Access denied") {
		t.Fatalf("intruder got %#v", e)
	}

	host := dial(protocol.RoleHost, "secret")
	viewer := dial(protocol.RoleViewer, "secret")
	if _, ok := next(host).(*protocol.Ready); !ok {
		t.Fatal("host not ready")
	}
	if _, ok := next(viewer).(*protocol.Ready); !ok {
		t.Fatal("viewer not ready")
	}
}
