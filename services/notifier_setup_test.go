package services

import (
	"context"
	"testing"

	"donation-workflow-api/config"
	"donation-workflow-api/repository"
)

func TestBuildNotifierDefaultsToInApp(t *testing.T) {
	t.Setenv("SMTP_HOST", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("MQTT_BROKER", "")

	notifier, closeSinks := BuildNotifier(context.Background(), config.Load(), repository.NewMemoryStore(), nil, nil)
	defer closeSinks()

	sinks := notifier.Sinks()
	if len(sinks) != 1 || sinks[0] != "in_app" {
		t.Fatalf("unexpected sinks %v", sinks)
	}
}

func TestBuildNotifierAddsKafkaWithoutDialing(t *testing.T) {
	t.Setenv("SMTP_HOST", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("MQTT_BROKER", "")
	t.Setenv("KAFKA_BROKERS", "127.0.0.1:1")

	notifier, closeSinks := BuildNotifier(context.Background(), config.Load(), repository.NewMemoryStore(), nil, nil)
	defer closeSinks()

	if sinks := notifier.Sinks(); len(sinks) != 2 || sinks[1] != "kafka" {
		t.Fatalf("unexpected sinks %v", sinks)
	}
}
