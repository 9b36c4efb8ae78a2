package transport

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
)

func TestMQTTBusConfig(t *testing.T) {
	_, err := NewMQTTBus(MQTTConfig{}, zaptest.NewLogger(t).Sugar())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "broker")
}

// TestMQTTBusRoundTrip needs a broker, e.g. ROSAI_TEST_MQTT_BROKER=tcp://127.0.0.1:1883.
func TestMQTTBusRoundTrip(t *testing.T) {
	broker := os.Getenv("ROSAI_TEST_MQTT_BROKER")
	if broker == "" {
		t.Skip("ROSAI_TEST_MQTT_BROKER not set")
	}
	logger := zaptest.NewLogger(t).Sugar()
	bus, err := NewMQTTBus(MQTTConfig{Broker: broker, QoS: 1}, logger)
	test.That(t, err, test.ShouldBeNil)

	topic := "detector-node-test/" + time.Now().Format("150405.000000")
	got := make(chan string, 1)
	test.That(t, bus.Subscribe(topic, 1, func(_ context.Context, payload []byte) error {
		got <- string(payload)
		return nil
	}), test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	done := spinAsync(ctx, bus)

	pub, err := bus.Advertise(topic, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pub.Publish([]byte("hello")), test.ShouldBeNil)

	select {
	case payload := <-got:
		test.That(t, payload, test.ShouldEqual, "hello")
	case <-time.After(10 * time.Second):
		t.Fatal("no message from broker")
	}

	cancel()
	test.That(t, waitErr(t, done), test.ShouldBeNil)
	test.That(t, bus.Close(), test.ShouldBeNil)
	test.That(t, bus.Close(), test.ShouldBeNil)
}
