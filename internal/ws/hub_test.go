package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/savegress/careledger/internal/consent"
)

const (
	patientAddr = "0x1111111111111111111111111111111111111111"
	doctorAddr  = "0x2222222222222222222222222222222222222222"
)

func newTestClient(hub *Hub, address string) *Client {
	return &Client{
		Address:       address,
		hub:           hub,
		send:          make(chan []byte, 8),
		subscriptions: make(map[string]bool),
	}
}

func receive(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshaling message: %v", err)
		}
		return &msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func expectSilence(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifyConsent_ReachesBothParties(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	patient := newTestClient(hub, patientAddr)
	doctor := newTestClient(hub, doctorAddr)
	hub.Subscribe(patient, AddressChannel(patientAddr))
	hub.Subscribe(doctor, AddressChannel(doctorAddr))

	hub.NotifyConsent(consent.Event{
		Type:    consent.EventGranted,
		Patient: patientAddr,
		Doctor:  doctorAddr,
		At:      time.Now().UTC(),
	})

	for _, c := range []*Client{patient, doctor} {
		msg := receive(t, c)
		if msg.Type != TypeConsent {
			t.Errorf("expected %s message, got %s", TypeConsent, msg.Type)
		}

		var event consent.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Fatalf("unmarshaling event: %v", err)
		}
		if event.Type != consent.EventGranted || event.Doctor != doctorAddr {
			t.Errorf("unexpected event %+v", event)
		}
	}
}

func TestNotifyConsent_UninvolvedClientHearsNothing(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	other := newTestClient(hub, "0x3333333333333333333333333333333333333333")
	hub.Subscribe(other, AddressChannel(other.Address))

	hub.NotifyConsent(consent.Event{
		Type:    consent.EventRequested,
		Patient: patientAddr,
		Doctor:  doctorAddr,
	})

	expectSilence(t, other)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	patient := newTestClient(hub, patientAddr)
	hub.Subscribe(patient, AddressChannel(patientAddr))
	hub.Unsubscribe(patient, AddressChannel(patientAddr))

	hub.NotifyConsent(consent.Event{
		Type:    consent.EventRevoked,
		Patient: patientAddr,
		Doctor:  doctorAddr,
	})

	expectSilence(t, patient)
}

func TestAddressChannel_CaseInsensitive(t *testing.T) {
	upper := AddressChannel("0xABCDEF")
	lower := AddressChannel("0xabcdef")
	if upper != lower {
		t.Errorf("channel names must normalize case: %s != %s", upper, lower)
	}
}

func TestStats(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	patient := newTestClient(hub, patientAddr)
	hub.Subscribe(patient, AddressChannel(patientAddr))

	stats := hub.Stats()
	if stats["total_channels"].(int) != 1 {
		t.Errorf("expected 1 channel, got %v", stats["total_channels"])
	}
}
