package presence

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeClientFrameJoin(t *testing.T) {
	event, err := DecodeClientFrame([]byte(`{"type":"join","data":{"workspace_id":"w1","avatar_url":"https://cdn/a.png"}}`))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	join, ok := event.(JoinEvent)
	if !ok {
		t.Fatalf("expected JoinEvent, got %T", event)
	}
	if join.WorkspaceID != "w1" || join.AvatarURL != "https://cdn/a.png" {
		t.Fatalf("unexpected join payload: %+v", join)
	}
}

func TestDecodeClientFrameRejectsUnknownType(t *testing.T) {
	_, err := DecodeClientFrame([]byte(`{"type":"selfDestruct","data":{}}`))
	if !errors.Is(err, ErrUnknownFrameType) {
		t.Fatalf("expected ErrUnknownFrameType, got %v", err)
	}
}

func TestDecodeClientFrameRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeClientFrame([]byte(`{"type":"join","data":`))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeClientFrameRejectsEmptyWorkspace(t *testing.T) {
	_, err := DecodeClientFrame([]byte(`{"type":"join","data":{"workspace_id":"  "}}`))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeClientFrameRejectsOutOfRangeStatus(t *testing.T) {
	_, err := DecodeClientFrame([]byte(`{"type":"statusUpdate","data":{"status":"asleep"}}`))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeClientFrameRejectsUnknownChangeKind(t *testing.T) {
	_, err := DecodeClientFrame([]byte(`{"type":"contentChange","data":{"item_id":"spark-1","payload":{},"change_kind":"color"}}`))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestClientFrameRoundTrip(t *testing.T) {
	frames := []ClientEvent{
		JoinEvent{WorkspaceID: "w1"},
		LeaveEvent{WorkspaceID: "w1"},
		StatusUpdateEvent{Status: StatusIdle},
		CursorUpdateEvent{X: 10, Y: 20},
		BeginEditEvent{ItemID: "spark-1"},
		EndEditEvent{ItemID: "spark-1"},
		ContentChangeEvent{ItemID: "spark-1", Payload: []byte(`{"title":"x"}`), ChangeKind: "title"},
	}
	for _, original := range frames {
		raw, err := EncodeClientEvent(original)
		if err != nil {
			t.Fatalf("encode %T: %v", original, err)
		}
		decoded, err := DecodeClientFrame(raw)
		if err != nil {
			t.Fatalf("decode %T: %v", original, err)
		}
		switch original.(type) {
		case JoinEvent:
			if _, ok := decoded.(JoinEvent); !ok {
				t.Fatalf("join round trip yielded %T", decoded)
			}
		case StatusUpdateEvent:
			if status, ok := decoded.(StatusUpdateEvent); !ok || status.Status != StatusIdle {
				t.Fatalf("statusUpdate round trip yielded %#v", decoded)
			}
		case ContentChangeEvent:
			change, ok := decoded.(ContentChangeEvent)
			if !ok || change.ItemID != "spark-1" || change.ChangeKind != "title" {
				t.Fatalf("contentChange round trip yielded %#v", decoded)
			}
		}
	}
}

func TestEncodeEventUsesKindAsFrameType(t *testing.T) {
	raw, err := EncodeEvent(EditBeganEvent{ItemID: "spark-1", UserID: "alice", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	want := `"type":"editBegan"`
	if !strings.Contains(string(raw), want) {
		t.Fatalf("frame missing %s: %s", want, raw)
	}
}
