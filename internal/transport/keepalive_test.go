package transport

import (
	"testing"

	"backuppeer/internal/crypto"
)

func testKeyPair(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.LoadOrCreateKeys(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("LoadOrCreateKeys: %v", err)
	}
	return kp
}

func TestKeepalive_DisconnectsAfterMissedAcks(t *testing.T) {
	kp := testKeyPair(t)
	ch := &Channel{}
	disconnected := 0
	k := NewKeepalive(ch, kp, nil, func() { disconnected++ })

	k.tick() // missed=1
	if disconnected != 0 {
		t.Fatalf("should not disconnect after 1 missed ack")
	}
	k.tick() // missed=2
	if disconnected != 0 {
		t.Fatalf("should not disconnect after 2 missed acks (limit is exceeded, not met)")
	}
	k.tick() // missed=3 > limit(2)
	if disconnected != 1 {
		t.Fatalf("expected disconnect after exceeding missed-ack limit, got %d calls", disconnected)
	}
}

func TestKeepalive_HandlePongResetsCounter(t *testing.T) {
	kp := testKeyPair(t)
	ch := &Channel{}
	disconnected := 0
	k := NewKeepalive(ch, kp, nil, func() { disconnected++ })

	k.tick()
	k.tick()
	k.HandlePong()
	k.tick() // missed=1 again after reset
	if disconnected != 0 {
		t.Fatalf("expected no disconnect after pong reset, got %d calls", disconnected)
	}
}
