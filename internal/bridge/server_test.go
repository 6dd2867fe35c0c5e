package bridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/changeware/flowgate/internal/engine"
	"github.com/changeware/flowgate/internal/manifest"
	"github.com/changeware/flowgate/internal/protocol"
	"github.com/changeware/flowgate/internal/provider"
	"github.com/changeware/flowgate/internal/tools"
)

func newTestBridge(t *testing.T) (*Server, *websocket.Conn) {
	t.Helper()

	factory := func(obs engine.Observer) (*engine.Runner, error) {
		return engine.NewRunner(manifest.ChangePipeline(), provider.NewMockProvider(), tools.NewSimToolset(tools.SimConfig{}), obs)
	}
	server := NewServer(0, factory)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewServer(server.handleWebSocket(ctx))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return server, conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, id interface{}, payload interface{}) {
	t.Helper()
	msg := protocol.RPCMessage{ID: id, Type: msgType}
	if payload != nil {
		msg.Payload = protocol.EncodeRPC(payload)
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s failed: %v", msgType, err)
	}
}

// readUntil drains broadcasts until accept returns true, failing the test if
// nothing matches within the deadline.
func readUntil(t *testing.T, conn *websocket.Conn, accept func(protocol.RPCMessage) bool) protocol.RPCMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg protocol.RPCMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if accept(msg) {
			return msg
		}
	}
}

func waitForStatus(t *testing.T, conn *websocket.Conn, status string) protocol.RunSnapshot {
	t.Helper()
	var snap protocol.RunSnapshot
	readUntil(t, conn, func(msg protocol.RPCMessage) bool {
		if msg.Type != "state_change" {
			return false
		}
		if err := json.Unmarshal(msg.Payload, &snap); err != nil {
			t.Fatalf("bad snapshot payload: %v", err)
		}
		return snap.Status == status
	})
	return snap
}

func TestBridgeRunApproveFlow(t *testing.T) {
	_, conn := newTestBridge(t)

	send(t, conn, "run", 1, map[string]string{"message": "Fix the typo in the banner"})
	readUntil(t, conn, func(msg protocol.RPCMessage) bool { return msg.Type == "run_started" })

	snap := waitForStatus(t, conn, string(engine.StatusWaiting))
	if snap.Approval == nil || snap.Approval.Status != protocol.ApprovalPending {
		t.Fatalf("expected a pending approval in the waiting snapshot, got %+v", snap.Approval)
	}

	send(t, conn, "approve", 2, map[string]string{"approver": "ui"})
	readUntil(t, conn, func(msg protocol.RPCMessage) bool {
		return msg.Type == "response" && msg.ID == float64(2)
	})

	final := waitForStatus(t, conn, string(engine.StatusSuccess))
	if final.Approval == nil || final.Approval.Approver != "ui" {
		t.Errorf("approval = %+v, want resolved by ui", final.Approval)
	}

	send(t, conn, "get_state", 3, nil)
	resp := readUntil(t, conn, func(msg protocol.RPCMessage) bool { return msg.Type == "state" })
	var got protocol.RunSnapshot
	if err := json.Unmarshal(resp.Payload, &got); err != nil {
		t.Fatalf("bad state payload: %v", err)
	}
	if got.Status != string(engine.StatusSuccess) {
		t.Errorf("get_state status = %s, want success", got.Status)
	}
}

func TestBridgeRejectFlow(t *testing.T) {
	_, conn := newTestBridge(t)

	send(t, conn, "run", 1, map[string]string{"message": "Reword the welcome text"})
	waitForStatus(t, conn, string(engine.StatusWaiting))

	send(t, conn, "reject", 2, map[string]string{"approver": "ui", "reason": "not now"})
	snap := waitForStatus(t, conn, string(engine.StatusError))
	if snap.Approval == nil || snap.Approval.Status != protocol.ApprovalRejected {
		t.Errorf("approval = %+v, want rejected", snap.Approval)
	}
	if snap.Approval != nil && snap.Approval.Reason != "not now" {
		t.Errorf("reason = %q, want %q", snap.Approval.Reason, "not now")
	}
}

func TestBridgeDecisionWithoutRun(t *testing.T) {
	_, conn := newTestBridge(t)

	send(t, conn, "approve", 1, map[string]string{"approver": "ui"})
	resp := readUntil(t, conn, func(msg protocol.RPCMessage) bool { return msg.ID != nil })
	if !strings.Contains(resp.Error, "no active run") {
		t.Errorf("error = %q, want no active run", resp.Error)
	}
}

func TestBridgeUnknownCommand(t *testing.T) {
	_, conn := newTestBridge(t)

	send(t, conn, "restart", 1, nil)
	resp := readUntil(t, conn, func(msg protocol.RPCMessage) bool { return msg.ID != nil })
	if !strings.Contains(resp.Error, "unknown command") {
		t.Errorf("error = %q, want unknown command", resp.Error)
	}
}

func TestBridgeDeciderWithoutRun(t *testing.T) {
	server, _ := newTestBridge(t)

	if err := server.Approve(context.Background(), "tg:alice"); err == nil {
		t.Error("Approve with no run should fail")
	}
	if err := server.Reject(context.Background(), "tg:alice", "no"); err == nil {
		t.Error("Reject with no run should fail")
	}
}
