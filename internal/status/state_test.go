package status

import (
	"testing"
	"time"

	"github.com/mfigueiredo/wamcp/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, QrPending},
		{Connecting, Connected},
		{Connecting, Failed},
		{QrPending, Connected},
		{QrPending, Failed},
		{Connected, ReconnectWait},
		{Connected, Failed},
		{Connected, Disconnected},
		{ReconnectWait, Connecting},
		{ReconnectWait, Failed},
		{Failed, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := &Machine{current: tt.from}
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connected},
		{Disconnected, QrPending},
		{Connected, QrPending},
		{Failed, Connected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := &Machine{current: tt.from}
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state moved to %s on failed transition", m.Current())
			}
		})
	}
}

func TestSameStateIsNoOp(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Disconnected); err != nil {
		t.Errorf("Transition to current state should be a no-op, got %v", err)
	}
}

func TestPublishBroadcastsSnapshot(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	m.Publish(Snapshot{Connected: true, PhoneNumber: "5511999999999"})

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindSessionStatus {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindSessionStatus)
		}
		snap, ok := evt.Payload.(Snapshot)
		if !ok {
			t.Fatalf("payload type = %T, want Snapshot", evt.Payload)
		}
		if !snap.Connected || snap.PhoneNumber != "5511999999999" {
			t.Errorf("snapshot = %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}

func TestLatestSnapshotWins(t *testing.T) {
	m := NewMachine(nil)
	m.Publish(Snapshot{QRCode: "old-code"})
	m.Publish(Snapshot{Connected: true})

	snap := m.Snapshot()
	if !snap.Connected {
		t.Error("latest snapshot not retained")
	}
	if snap.QRCode != "" {
		t.Errorf("stale QR code survived: %q", snap.QRCode)
	}
}
