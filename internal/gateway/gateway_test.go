package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nodeway/gatewayd/internal/config"
	"github.com/nodeway/gatewayd/internal/protocol"
	"github.com/nodeway/gatewayd/internal/transport"
)

func newTestGateway(t *testing.T) (*Gateway, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.Mode = "legacy"
	cfg.Auth.SharedSecret = "s3cret"
	cfg.HealthCheckIntervalMs = 3_600_000 // effectively disabled for these tests

	g := New(cfg, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	addr, start := transport.StartTestServer(g.transport, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)
	return g, addr
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	// Legacy mode checks the bearer token at the handshake.
	header := http.Header{"Authorization": []string{"Bearer s3cret"}}
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, into interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
}

func send(t *testing.T, conn *websocket.Conn, frame interface{}) {
	t.Helper()
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestHandleFrame_RegisterAcceptsValidToken(t *testing.T) {
	g, addr := newTestGateway(t)
	conn := dial(t, addr)

	send(t, conn, protocol.NodeRegister{
		Kind:         protocol.KindNodeRegister,
		NodeID:       "n1",
		Capabilities: protocol.Capabilities{AgentTypes: []string{"research"}},
		Token:        "s3cret",
	})

	var ack protocol.NodeRegisterAck
	readFrame(t, conn, &ack)
	if ack.Kind != protocol.KindNodeRegisterAck || ack.NodeID != "n1" {
		t.Fatalf("ack = %+v", ack)
	}

	if _, ok := g.Registry.Get("n1"); !ok {
		t.Error("expected the node to be registered")
	}
}

func TestHandleFrame_RegisterRejectsBadToken(t *testing.T) {
	_, addr := newTestGateway(t)
	conn := dial(t, addr)

	send(t, conn, protocol.NodeRegister{
		Kind:   protocol.KindNodeRegister,
		NodeID: "n1",
		Token:  "wrong",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok || closeErr.Code != 4401 {
		t.Fatalf("expected a 4401 close, got %v", err)
	}
}

func TestHandleFrame_DuplicateRegisterRejectedWithForbidden(t *testing.T) {
	g, addr := newTestGateway(t)
	conn1 := dial(t, addr)

	send(t, conn1, protocol.NodeRegister{Kind: protocol.KindNodeRegister, NodeID: "n1", Token: "s3cret"})
	var ack protocol.NodeRegisterAck
	readFrame(t, conn1, &ack)

	conn2 := dial(t, addr)
	send(t, conn2, protocol.NodeRegister{Kind: protocol.KindNodeRegister, NodeID: "n1", Token: "s3cret"})

	conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn2.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok || closeErr.Code != 4403 {
		t.Fatalf("expected a 4403 close for a re-registration of a live node, got %v", err)
	}
	_ = g
}

func TestHandleFrame_LaneMessageRoutesToBoundChannel(t *testing.T) {
	g, addr := newTestGateway(t)
	g.Router.SetChannelBinding("slack", "n1")

	conn := dial(t, addr)
	send(t, conn, protocol.NodeRegister{Kind: protocol.KindNodeRegister, NodeID: "n1", Token: "s3cret"})
	var ack protocol.NodeRegisterAck
	readFrame(t, conn, &ack)

	send(t, conn, protocol.LaneMessageFrame{
		Kind: protocol.KindLaneMessage,
		Lane: "collect",
		Message: protocol.LaneMessage{
			ID:        "m1",
			Lane:      "collect",
			ChannelID: "slack",
			Payload:   "hello",
		},
	})

	var delivered protocol.LaneMessageFrame
	readFrame(t, conn, &delivered)
	if delivered.Message.ID != "m1" {
		t.Fatalf("delivered = %+v, want message id m1", delivered)
	}
}

func TestHandleFrame_UnregisteredConnectionRejected(t *testing.T) {
	_, addr := newTestGateway(t)
	conn := dial(t, addr)

	send(t, conn, protocol.LaneMessageAck{Kind: protocol.KindLaneMessageAck, MessageID: "m1"})

	// An unregistered lane.message send should draw an error frame, not a
	// crash or silent drop.
	send(t, conn, protocol.LaneMessageFrame{
		Kind: protocol.KindLaneMessage,
		Lane: "collect",
		Message: protocol.LaneMessage{ID: "m1", Lane: "collect", ChannelID: "slack"},
	})

	var errFrame protocol.ErrorFrame
	readFrame(t, conn, &errFrame)
	if errFrame.Kind != protocol.KindError {
		t.Fatalf("expected an error frame, got %+v", errFrame)
	}
}

func TestStop_DrainsConnectionsAndClearsState(t *testing.T) {
	g, addr := newTestGateway(t)
	conn := dial(t, addr)

	send(t, conn, protocol.NodeRegister{Kind: protocol.KindNodeRegister, NodeID: "n1", Token: "s3cret"})
	var ack protocol.NodeRegisterAck
	readFrame(t, conn, &ack)

	if _, ok := g.Registry.Get("n1"); !ok {
		t.Fatal("expected n1 to be registered before Stop")
	}

	g.Stop(context.Background())

	if _, ok := g.Registry.Get("n1"); ok {
		t.Error("expected Stop to clear the registry")
	}
	if g.Sessions.Count() != 0 {
		t.Error("expected Stop to clear sessions")
	}
	if g.Conversations.Len() != 0 {
		t.Error("expected Stop to clear the conversation store")
	}
}

func TestHandleFrame_TenConsecutiveMalformedKnownKindFramesAutoCloses(t *testing.T) {
	_, addr := newTestGateway(t)
	conn := dial(t, addr)

	// A recognized kind whose body fails to decode (nodeId must be a string)
	// must still count toward the consecutive-schema-error threshold.
	malformed := []byte(`{"kind":"node.register","nodeId":123}`)
	for i := 0; i < 9; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, malformed); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		var errFrame protocol.ErrorFrame
		readFrame(t, conn, &errFrame)
	}

	if err := conn.WriteMessage(websocket.TextMessage, malformed); err != nil {
		t.Fatalf("write 10th: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if closeErr, ok := err.(*websocket.CloseError); ok {
			if closeErr.Code != 4400 {
				t.Fatalf("expected a 4400 close, got code %d", closeErr.Code)
			}
			return
		}
		if err != nil {
			t.Fatalf("expected a 4400 close, got %v", err)
		}
	}
}

func TestHandleFrame_LaneMessagePairingUsesBoundNodeID(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Mode = "legacy"
	cfg.Auth.SharedSecret = "s3cret"
	cfg.HealthCheckIntervalMs = 3_600_000
	cfg.Pairing.Channels = []string{"whatsapp"}
	cfg.Pairing.MaxAttempts = 5

	g := New(cfg, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, start := transport.StartTestServer(g.transport, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	g.Router.SetChannelBinding("whatsapp", "n1")

	conn := dial(t, addr)
	send(t, conn, protocol.NodeRegister{Kind: protocol.KindNodeRegister, NodeID: "n1", Token: "s3cret"})
	var ack protocol.NodeRegisterAck
	readFrame(t, conn, &ack)

	// A code generated for the real node id must be honored even though the
	// wire-level connection id differs from it.
	generated, err := g.Pairing.GenerateCode("n1", "whatsapp")
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	send(t, conn, protocol.LaneMessageFrame{
		Kind: protocol.KindLaneMessage,
		Lane: "collect",
		Message: protocol.LaneMessage{
			ID:             "m1",
			Lane:           "collect",
			ChannelID:      "whatsapp",
			Payload:        generated.Formatted,
			RoutingContext: &protocol.RoutingContext{PeerID: "peer1", MessageType: "dm"},
		},
	})

	var delivered protocol.LaneMessageFrame
	readFrame(t, conn, &delivered)
	if delivered.Message.ID != "m1" {
		t.Fatalf("delivered = %+v, want message id m1 once pairing succeeds", delivered)
	}
}

func TestHandleFrame_DeregisterTearsDownNode(t *testing.T) {
	g, addr := newTestGateway(t)
	conn := dial(t, addr)

	send(t, conn, protocol.NodeRegister{Kind: protocol.KindNodeRegister, NodeID: "n1", Token: "s3cret"})
	var ack protocol.NodeRegisterAck
	readFrame(t, conn, &ack)

	send(t, conn, protocol.NodeDeregister{Kind: protocol.KindNodeDeregister, NodeID: "n1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, _ = conn.ReadMessage() // close frame

	time.Sleep(50 * time.Millisecond)
	if _, ok := g.Registry.Get("n1"); ok {
		t.Error("expected the node to be deregistered")
	}
}
