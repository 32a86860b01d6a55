package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alimasry/go-oplog/store"
)

func setupTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	hub := startHub(t, store.NewMemoryStore())
	server := httptest.NewServer(NewHandler(hub, ""))
	t.Cleanup(server.Close)
	return server, hub
}

func wsConnect(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWsMsg(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func writeRaw(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatal(err)
	}
}

func TestHandler_WebSocketJoin(t *testing.T) {
	server, _ := setupTestServer(t)
	conn := wsConnect(t, server)

	writeRaw(t, conn, `{"type":"join","docId":"test-doc"}`)

	resp := readWsMsg(t, conn)
	if resp.Type != MsgDoc {
		t.Errorf("expected doc, got %q", resp.Type)
	}
}

func TestHandler_TwoClientsEdit(t *testing.T) {
	server, _ := setupTestServer(t)
	conn1 := wsConnect(t, server)
	conn2 := wsConnect(t, server)

	writeRaw(t, conn1, `{"type":"join","docId":"collab"}`)
	if msg := readWsMsg(t, conn1); msg.Type != MsgDoc {
		t.Fatalf("c1 expected doc, got %q", msg.Type)
	}
	writeRaw(t, conn2, `{"type":"join","docId":"collab"}`)
	if msg := readWsMsg(t, conn2); msg.Type != MsgDoc {
		t.Fatalf("c2 expected doc, got %q", msg.Type)
	}
	if msg := readWsMsg(t, conn1); msg.Type != MsgJoin {
		t.Fatalf("c1 expected join notification, got %q", msg.Type)
	}

	writeRaw(t, conn1, `{"type":"op","docId":"collab","ops":[{"op":"insert","chars":"hello"},{"op":"teleport","count":9}]}`)

	ack := readWsMsg(t, conn1)
	if ack.Type != MsgAck {
		t.Fatalf("expected ack, got %q", ack.Type)
	}
	if ack.Content != "hello" || ack.Revision != 2 {
		t.Errorf("ack = %q rev %d, want %q rev 2", ack.Content, ack.Revision, "hello")
	}

	broadcast := readWsMsg(t, conn2)
	if broadcast.Type != MsgOp {
		t.Fatalf("expected op broadcast, got %q", broadcast.Type)
	}
	if len(broadcast.Ops) != 2 {
		t.Errorf("broadcast has %d ops, want 2", len(broadcast.Ops))
	}
}

func TestHandler_MalformedOps(t *testing.T) {
	server, hub := setupTestServer(t)
	conn := wsConnect(t, server)

	writeRaw(t, conn, `{"type":"join","docId":"doc"}`)
	readWsMsg(t, conn)

	writeRaw(t, conn, `{"type":"op","docId":"doc","ops":{"op":"insert"}}`)
	msg := readWsMsg(t, conn)
	if msg.Type != MsgError {
		t.Fatalf("expected error, got %q", msg.Type)
	}

	info, err := hub.Store().Get(ctx(), "doc")
	if err != nil {
		t.Fatal(err)
	}
	if info.Version != 0 {
		t.Errorf("version = %d after rejected payload, want 0", info.Version)
	}
}

func TestHandler_OpWithoutJoin(t *testing.T) {
	server, _ := setupTestServer(t)
	conn := wsConnect(t, server)

	writeRaw(t, conn, `{"type":"op","ops":[]}`)
	if msg := readWsMsg(t, conn); msg.Type != MsgError {
		t.Fatalf("expected error, got %q", msg.Type)
	}
}

func TestHandler_Verify(t *testing.T) {
	server, _ := setupTestServer(t)
	conn := wsConnect(t, server)

	writeRaw(t, conn, `{"type":"verify",`+
		`"stale":"Repl.it uses operational transformations to keep everyone in a multiplayer repl in sync.",`+
		`"latest":"Repl.it uses operational transformations.",`+
		`"ops":[{"op":"skip","count":40},{"op":"delete","count":47}]}`)

	msg := readWsMsg(t, conn)
	if msg.Type != MsgVerified {
		t.Fatalf("expected verified, got %q", msg.Type)
	}
	if !msg.OK {
		t.Errorf("ok = false, replayed %q", msg.Content)
	}

	writeRaw(t, conn, `{"type":"verify","stale":"abc","latest":"abd","ops":[]}`)
	msg = readWsMsg(t, conn)
	if msg.Type != MsgVerified || msg.OK {
		t.Errorf("got %q ok=%v, want verified ok=false", msg.Type, msg.OK)
	}
}

func TestHandler_UnknownMessageType(t *testing.T) {
	server, _ := setupTestServer(t)
	conn := wsConnect(t, server)

	writeRaw(t, conn, `{"type":"dance"}`)
	if msg := readWsMsg(t, conn); msg.Type != MsgError {
		t.Fatalf("expected error, got %q", msg.Type)
	}
}

func TestHandler_GetDocument(t *testing.T) {
	server, _ := setupTestServer(t)
	conn := wsConnect(t, server)

	writeRaw(t, conn, `{"type":"join","docId":"doc"}`)
	readWsMsg(t, conn)
	writeRaw(t, conn, `{"type":"op","ops":[{"op":"insert","chars":"abc"},{"op":"delete","count":-1}]}`)
	readWsMsg(t, conn) // ack

	resp, err := http.Get(server.URL + "/documents/doc")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body documentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Content != "ab" || body.Version != 2 || !body.Converged {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestHandler_GetDocumentNotFound(t *testing.T) {
	server, _ := setupTestServer(t)

	resp, err := http.Get(server.URL + "/documents/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
