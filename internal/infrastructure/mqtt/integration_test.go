//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/pcd-core/internal/infrastructure/config"
)

// Integration tests need a broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	cfg.TopicPrefix = "pcd-int"
	return cfg
}

func TestIntegration_ConnectAndClose(t *testing.T) {
	client, err := Connect(integrationConfig("pcdcore-int-connect"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client, err := Connect(integrationConfig("pcdcore-int-sub-track"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := client.Topics()
	handler := func(string, []byte) error { return nil }

	for _, topic := range []string{topics.AllAnnouncements(), topics.DeviceEvent("+")} {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if len(client.subscriptions) != 2 {
		t.Errorf("tracked subscriptions = %d, want 2", len(client.subscriptions))
	}

	if err := client.Unsubscribe(topics.AllAnnouncements()); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if _, ok := client.subscriptions[topics.AllAnnouncements()]; ok {
		t.Error("announcements still tracked after Unsubscribe()")
	}
}

func TestIntegration_AnnouncementRoundtrip(t *testing.T) {
	pub, err := Connect(integrationConfig("pcdcore-int-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	sub, err := Connect(integrationConfig("pcdcore-int-sub"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	expected := `{"name":"pcdev-A1x","size":512,"perm":"0x11","serial_number":"PCDEVINT"}`
	received := make(chan string, 1)
	var once sync.Once

	err = sub.Subscribe(sub.Topics().AllAnnouncements(), 1, func(topic string, p []byte) error {
		if topic == sub.Topics().AnnounceAttach() {
			once.Do(func() { received <- string(p) })
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish(pub.Topics().AnnounceAttach(), []byte(expected), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != expected {
			t.Errorf("received = %q, want %q", msg, expected)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for announcement")
	}
}
