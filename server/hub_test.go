package server

import (
	"testing"
	"time"

	"github.com/alimasry/go-oplog/ot"
	"github.com/alimasry/go-oplog/store"
)

func startHub(t *testing.T, st store.DocumentStore) *Hub {
	t.Helper()
	hub := NewHub(st)
	go hub.Run()
	t.Cleanup(hub.Close)
	return hub
}

func TestHub_CreateSessionOnJoin(t *testing.T) {
	st := store.NewMemoryStore()
	hub := startHub(t, st)

	c := mockClient("c1")
	c.hub = hub
	hub.joinDoc <- joinRequest{client: c, docID: "new-doc"}

	msg := recvMsg(t, c)
	if msg.Type != MsgDoc {
		t.Errorf("expected doc, got %q", msg.Type)
	}
	if msg.DocID != "new-doc" {
		t.Errorf("docId = %q, want %q", msg.DocID, "new-doc")
	}

	if hub.GetSession("new-doc") == nil {
		t.Error("session not created")
	}
	if _, err := st.Get(ctx(), "new-doc"); err != nil {
		t.Errorf("document not created in store: %v", err)
	}
}

func TestHub_JoinExistingDoc(t *testing.T) {
	st := store.NewMemoryStore()
	st.Create(ctx(), "existing", "hello world")
	hub := startHub(t, st)

	c := mockClient("c1")
	c.hub = hub
	hub.joinDoc <- joinRequest{client: c, docID: "existing"}

	msg := recvMsg(t, c)
	if msg.Content != "hello world" {
		t.Errorf("content = %q, want %q", msg.Content, "hello world")
	}
}

func TestHub_JoinReplaysStoredLog(t *testing.T) {
	st := store.NewMemoryStore()
	st.Create(ctx(), "doc1", "We need to talk")
	log := []ot.Operation{ot.NewSkip(15), ot.NewSkip(-4), ot.NewInsert("really ")}
	for i, op := range log {
		if err := st.AppendOperation(ctx(), "doc1", op, i+1); err != nil {
			t.Fatal(err)
		}
	}
	hub := startHub(t, st)

	c := mockClient("c1")
	c.hub = hub
	hub.joinDoc <- joinRequest{client: c, docID: "doc1"}

	msg := recvMsg(t, c)
	if msg.Content != "We need to really talk" || msg.Pos != 18 || msg.Revision != 3 {
		t.Errorf("doc = %q pos %d rev %d", msg.Content, msg.Pos, msg.Revision)
	}
}

func TestHub_SecondJoinReusesSession(t *testing.T) {
	hub := startHub(t, store.NewMemoryStore())

	c1 := mockClient("c1")
	c1.hub = hub
	hub.joinDoc <- joinRequest{client: c1, docID: "doc"}
	recvMsg(t, c1)
	first := hub.GetSession("doc")

	c2 := mockClient("c2")
	c2.hub = hub
	hub.joinDoc <- joinRequest{client: c2, docID: "doc"}
	recvMsg(t, c2)

	if hub.GetSession("doc") != first {
		t.Error("second join created a new session")
	}
}

// assertNoMsg fails if c receives anything within a short window.
func assertNoMsg(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_JoinOtherDocLeavesPrevious(t *testing.T) {
	hub := startHub(t, store.NewMemoryStore())

	c := mockClient("c")
	c.hub = hub
	d := mockClient("d")
	d.hub = hub

	hub.joinDoc <- joinRequest{client: c, docID: "a"}
	recvMsg(t, c) // doc a
	hub.joinDoc <- joinRequest{client: d, docID: "a"}
	recvMsg(t, d) // doc a
	recvMsg(t, c) // d joined a

	hub.joinDoc <- joinRequest{client: c, docID: "b"}
	if msg := recvMsg(t, c); msg.Type != MsgDoc || msg.DocID != "b" {
		t.Fatalf("got %q for %q, want doc for b", msg.Type, msg.DocID)
	}
	if msg := recvMsg(t, d); msg.Type != MsgLeave || msg.ClientID != "c" {
		t.Fatalf("got %q from %q, want leave from c", msg.Type, msg.ClientID)
	}

	// Disconnect c the way ReadPump does.
	c.close()
	c.currentSession().leave <- c

	// Editing a must neither reach c nor fail on its departed connection.
	a := hub.GetSession("a")
	a.incoming <- opMessage{client: d, ops: []ot.Operation{ot.NewInsert("x")}}
	if ack := recvMsg(t, d); ack.Type != MsgAck || ack.Content != "x" {
		t.Fatalf("ack = %q %q", ack.Type, ack.Content)
	}
	assertNoMsg(t, c)
}

func TestHub_RejoinSameDocKeepsSession(t *testing.T) {
	hub := startHub(t, store.NewMemoryStore())

	c := mockClient("c")
	c.hub = hub
	d := mockClient("d")
	d.hub = hub
	hub.joinDoc <- joinRequest{client: c, docID: "a"}
	recvMsg(t, c)
	hub.joinDoc <- joinRequest{client: d, docID: "a"}
	recvMsg(t, d)
	recvMsg(t, c) // d joined

	hub.joinDoc <- joinRequest{client: c, docID: "a"}
	if msg := recvMsg(t, c); msg.Type != MsgDoc {
		t.Fatalf("got %q, want doc", msg.Type)
	}
	if c.currentSession() != hub.GetSession("a") {
		t.Error("client lost its session on rejoin")
	}
	assertNoMsg(t, d)
}
