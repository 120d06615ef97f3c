package transport

import (
	"testing"
	"time"
)

// TestChannel_OfferAnswerHandshakeAndMessageExchange exercises a full local
// WebRTC negotiation between a host and an answering channel, mirroring how
// internal/peer wires two sides together once the signaling broker has
// introduced them.
func TestChannel_OfferAnswerHandshakeAndMessageExchange(t *testing.T) {
	host, err := NewHostChannel(nil)
	if err != nil {
		t.Fatalf("NewHostChannel: %v", err)
	}
	defer host.Close()

	answerer, err := NewAnsweringChannel(nil)
	if err != nil {
		t.Fatalf("NewAnsweringChannel: %v", err)
	}
	defer answerer.Close()

	offerSDP, err := host.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	answerSDP, err := answerer.SetRemoteOffer(offerSDP)
	if err != nil {
		t.Fatalf("SetRemoteOffer: %v", err)
	}

	if err := host.SetRemoteAnswer(answerSDP); err != nil {
		t.Fatalf("SetRemoteAnswer: %v", err)
	}

	select {
	case <-host.Opened():
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for host data channel to open")
	}
	select {
	case <-answerer.Opened():
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for answerer data channel to open")
	}

	received := make(chan []byte, 1)
	answerer.OnMessage(func(data []byte) { received <- data })

	if err := host.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "hello" {
			t.Fatalf("unexpected payload: %s", data)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}
