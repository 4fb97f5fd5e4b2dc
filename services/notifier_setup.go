package services

import (
	"context"
	"time"

	"donation-workflow-api/config"
	"donation-workflow-api/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// BuildNotifier wires every sink that is configured. The in-app sink is
// always on. The returned closer shuts the external clients down.
func BuildNotifier(ctx context.Context, cfg *config.Config, store repository.NotificationStore, metrics *Metrics, logger *zap.Logger) (*FanoutNotifier, func()) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		sinks   = []Notifier{NewInAppNotifier(store)}
		closers []func()
	)

	if mailer := config.NewMailer(cfg); mailer != nil {
		sinks = append(sinks, NewMailNotifier(mailer))
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unreachable, publishing will be retried per event", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		sinks = append(sinks, NewRedisNotifier(client, cfg.Redis.Channel))
		closers = append(closers, func() { _ = client.Close() })
	}

	if len(cfg.Kafka.Brokers) > 0 {
		writer := NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sinks = append(sinks, NewKafkaNotifier(writer))
		closers = append(closers, func() { _ = writer.Close() })
	}

	if cfg.MQTT.Broker != "" {
		client, err := NewMQTTClient(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Username, cfg.MQTT.Password)
		if err != nil {
			logger.Warn("mqtt sink disabled", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		} else {
			sinks = append(sinks, NewMQTTNotifier(client, cfg.MQTT.TopicPrefix))
			closers = append(closers, func() { client.Disconnect(250) })
		}
	}

	fanout := NewFanoutNotifier(logger, metrics, sinks...)
	logger.Info("notification sinks ready", zap.Strings("sinks", fanout.Sinks()))
	return fanout, func() {
		for _, c := range closers {
			c()
		}
	}
}
