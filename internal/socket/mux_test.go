package socket

import (
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/resume-studio/collabsync/internal/protocol"
)

func userJoinedFrame(t *testing.T, userID string) protocol.Frame {
	t.Helper()
	frame, err := protocol.NewFrame(protocol.JSON, protocol.EventUserJoined, protocol.UserJoined{UserID: userID})
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	return frame
}

func TestMuxDispatchOrder(t *testing.T) {
	mux := NewMux(nil, nil)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		mux.On(protocol.EventUserJoined, func(protocol.Frame) {
			order = append(order, i)
		})
	}
	mux.On(protocol.EventUserLeft, func(protocol.Frame) {
		t.Error("listener of another kind should not be called")
	})

	mux.Dispatch(userJoinedFrame(t, "u2"))

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("expected listeners in registration order, got %v", order)
	}
}

func TestMuxDecodesPayload(t *testing.T) {
	mux := NewMux(nil, nil)

	var got protocol.UserJoined
	mux.On(protocol.EventUserJoined, func(frame protocol.Frame) {
		if err := frame.Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	})
	mux.Dispatch(userJoinedFrame(t, "u2"))

	if got.UserID != "u2" {
		t.Errorf("expected userId u2, got %q", got.UserID)
	}
}

func TestMuxUnsubscribeRemovesOnlyThatListener(t *testing.T) {
	mux := NewMux(nil, nil)

	var a, b int
	listener := func(n *int) Listener {
		return func(protocol.Frame) { *n++ }
	}

	// The same function registered twice yields two independent registrations.
	fn := listener(&a)
	unsubFirst := mux.On(protocol.EventUserJoined, fn)
	mux.On(protocol.EventUserJoined, fn)
	mux.On(protocol.EventUserJoined, listener(&b))

	unsubFirst()
	unsubFirst()

	if mux.ListenerCount(protocol.EventUserJoined) != 2 {
		t.Fatalf("expected 2 listeners, got %d", mux.ListenerCount(protocol.EventUserJoined))
	}

	mux.Dispatch(userJoinedFrame(t, "u2"))
	if a != 1 || b != 1 {
		t.Errorf("expected a=1 b=1, got a=%d b=%d", a, b)
	}
}

func TestMuxUnsubscribeDuringDispatch(t *testing.T) {
	mux := NewMux(nil, nil)

	var calls []string
	var unsubSelf, unsubLater func()
	unsubSelf = mux.On(protocol.EventUserJoined, func(protocol.Frame) {
		calls = append(calls, "self")
		unsubSelf()
		unsubLater()
	})
	unsubLater = mux.On(protocol.EventUserJoined, func(protocol.Frame) {
		calls = append(calls, "later")
	})
	mux.On(protocol.EventUserJoined, func(protocol.Frame) {
		calls = append(calls, "last")
		mux.On(protocol.EventUserJoined, func(protocol.Frame) {
			calls = append(calls, "added")
		})
	})

	mux.Dispatch(userJoinedFrame(t, "u2"))

	if len(calls) != 2 || calls[0] != "self" || calls[1] != "last" {
		t.Fatalf("unexpected calls during first dispatch: %v", calls)
	}

	calls = nil
	mux.Dispatch(userJoinedFrame(t, "u3"))
	if len(calls) != 2 || calls[0] != "last" || calls[1] != "added" {
		t.Errorf("unexpected calls during second dispatch: %v", calls)
	}
}

func TestMuxListenerPanicDoesNotAbortDispatch(t *testing.T) {
	capture, logger := newCapturedLogger()
	mux := NewMux(nil, logger)

	called := false
	mux.On(protocol.EventUserJoined, func(protocol.Frame) {
		panic("boom")
	})
	mux.On(protocol.EventUserJoined, func(protocol.Frame) {
		called = true
	})

	mux.Dispatch(userJoinedFrame(t, "u2"))

	if !called {
		t.Error("expected second listener to run after a panic")
	}
	if !capture.has(t, "error", "listener panicked") {
		t.Error("expected listener panic to be logged")
	}
}

func TestMuxEmitWhileDisconnectedIsDropped(t *testing.T) {
	capture, logger := newCapturedLogger()
	mux := NewMux(nil, logger)
	link := &fakeLink{state: StateDisconnected}
	mux.bind(link)

	mux.Emit(protocol.EventJoinRoom, protocol.RoomMembership{RoomID: "r1", UserID: "u1"})

	if mux.Dropped() != 1 {
		t.Errorf("expected 1 dropped emit, got %d", mux.Dropped())
	}
	if len(link.sent) != 0 {
		t.Errorf("expected nothing sent, got %d frames", len(link.sent))
	}
	if !capture.has(t, "warn", "emit dropped while disconnected") {
		t.Error("expected a warning for the dropped emit")
	}

	// Nothing is queued: becoming connected does not flush anything.
	link.state = StateConnected
	mux.Emit(protocol.EventLeaveRoom, protocol.RoomMembership{RoomID: "r1", UserID: "u1"})
	if len(link.sent) != 1 {
		t.Fatalf("expected 1 sent frame, got %d", len(link.sent))
	}
	frame, err := protocol.JSON.Unmarshal(link.sent[0].data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Kind != protocol.EventLeaveRoom {
		t.Errorf("expected leave frame, got %s", frame.Kind)
	}
}

func TestMuxEmitUsesCodecMessageType(t *testing.T) {
	mux := NewMux(protocol.Msgpack, nil)
	link := &fakeLink{state: StateConnected}
	mux.bind(link)

	mux.Emit(protocol.EventResumeCursor, protocol.Cursor{RoomID: "r1", UserID: "u1"})

	if len(link.sent) != 1 {
		t.Fatalf("expected 1 sent frame, got %d", len(link.sent))
	}
	if link.sent[0].messageType != websocket.BinaryMessage {
		t.Errorf("msgpack frames should be binary, got %d", link.sent[0].messageType)
	}
	frame, err := protocol.Msgpack.Unmarshal(link.sent[0].data)
	if err != nil || frame.Kind != protocol.EventResumeCursor {
		t.Errorf("unexpected frame %v: %v", frame.Kind, err)
	}
}

func TestMuxEmitRejectsInboundOnlyKinds(t *testing.T) {
	mux := NewMux(nil, nil)
	link := &fakeLink{state: StateConnected}
	mux.bind(link)

	mux.Emit(protocol.EventUserJoined, protocol.UserJoined{UserID: "u1"})

	if len(link.sent) != 0 {
		t.Errorf("inbound-only kinds must not be sent")
	}
}

func TestMuxEmitInboundKindIsNotCountedAsDropped(t *testing.T) {
	capture, logger := newCapturedLogger()
	mux := NewMux(nil, logger)
	mux.bind(&fakeLink{state: StateDisconnected})

	mux.Emit(protocol.EventUserJoined, protocol.UserJoined{UserID: "u2"})

	if mux.Dropped() != 0 {
		t.Errorf("inbound kinds must not count as dropped, got %d", mux.Dropped())
	}
	if !capture.has(t, "warn", "emit of non-outbound kind ignored") {
		t.Error("expected a warning for the non-outbound emit")
	}
	if capture.has(t, "warn", "emit dropped while disconnected") {
		t.Error("non-outbound emit must not be logged as a disconnect drop")
	}
}

func TestMuxEmitSendFailureCountsAsDropped(t *testing.T) {
	mux := NewMux(nil, nil)
	link := &fakeLink{state: StateConnected, sendFn: func() error { return errors.New("broken pipe") }}
	mux.bind(link)

	mux.Emit(protocol.EventJoinRoom, protocol.RoomMembership{RoomID: "r1", UserID: "u1"})

	if mux.Dropped() != 1 {
		t.Errorf("expected 1 dropped emit, got %d", mux.Dropped())
	}
}

type frameRecorder struct {
	in, out []protocol.EventKind
}

func (r *frameRecorder) RecordInbound(f protocol.Frame)  { r.in = append(r.in, f.Kind) }
func (r *frameRecorder) RecordOutbound(f protocol.Frame) { r.out = append(r.out, f.Kind) }

func TestMuxRecorderSeesWireFramesOnly(t *testing.T) {
	mux := NewMux(nil, nil)
	mux.bind(&fakeLink{state: StateConnected})
	rec := &frameRecorder{}
	mux.SetRecorder(rec)

	mux.Emit(protocol.EventJoinRoom, protocol.RoomMembership{RoomID: "r1", UserID: "u1"})
	mux.deliver(userJoinedFrame(t, "u2"))
	mux.Publish(protocol.EventConnect, protocol.ConnectionEvent{State: string(StateConnected)})

	if len(rec.out) != 1 || rec.out[0] != protocol.EventJoinRoom {
		t.Errorf("unexpected outbound record: %v", rec.out)
	}
	if len(rec.in) != 1 || rec.in[0] != protocol.EventUserJoined {
		t.Errorf("unexpected inbound record: %v", rec.in)
	}
}

// muxOp is one step of a random registration sequence.
type muxOp struct {
	Subscribe bool
	Index     int
}

// **Feature: collabsync, Property 2: unsubscribe removes exactly one registration**
func TestMuxRegistrationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	opGen := gopter.CombineGens(gen.Bool(), gen.IntRange(0, 16)).Map(func(v []interface{}) muxOp {
		return muxOp{Subscribe: v[0].(bool), Index: v[1].(int)}
	})

	properties.Property("dispatch reaches exactly the live registrations in order", prop.ForAll(
		func(ops []muxOp) bool {
			mux := NewMux(nil, nil)

			type reg struct {
				id    int
				unsub func()
				live  bool
			}
			var regs []*reg
			var got []int

			for _, op := range ops {
				if op.Subscribe || len(regs) == 0 {
					r := &reg{id: len(regs), live: true}
					r.unsub = mux.On(protocol.EventUserTyping, func(protocol.Frame) {
						got = append(got, r.id)
					})
					regs = append(regs, r)
					continue
				}
				r := regs[op.Index%len(regs)]
				r.unsub()
				r.live = false
			}

			frame, _ := protocol.NewFrame(protocol.JSON, protocol.EventUserTyping, protocol.Typing{UserID: "u"})
			mux.Dispatch(frame)

			var want []int
			for _, r := range regs {
				if r.live {
					want = append(want, r.id)
				}
			}
			if len(got) != len(want) || mux.ListenerCount(protocol.EventUserTyping) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(opGen),
	))

	properties.TestingRun(t)
}
