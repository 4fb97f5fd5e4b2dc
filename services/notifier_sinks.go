package services

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"donation-workflow-api/models"
	"donation-workflow-api/repository"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// MailSender is satisfied by *config.Mailer.
type MailSender interface {
	SendMail(to []string, subject, html string) error
}

// MailNotifier emails the case contact address.
type MailNotifier struct {
	sender MailSender
}

func NewMailNotifier(sender MailSender) *MailNotifier {
	return &MailNotifier{sender: sender}
}

func (n *MailNotifier) Name() string { return "mail" }

func (n *MailNotifier) Notify(_ context.Context, event StatusChangedEvent) error {
	to := strings.TrimSpace(event.ContactEmail)
	if to == "" {
		return nil
	}
	subject := fmt.Sprintf("Your %s application is now %s", event.SubjectRole, humanStatus(string(event.To)))
	var b strings.Builder
	fmt.Fprintf(&b, "<p>The status of application <strong>%s</strong> changed from <em>%s</em> to <em>%s</em>.</p>",
		html.EscapeString(event.CaseID), html.EscapeString(humanStatus(string(event.From))), html.EscapeString(humanStatus(string(event.To))))
	if event.Comment != "" {
		fmt.Fprintf(&b, "<p>Reviewer comment: %s</p>", html.EscapeString(event.Comment))
	}
	return n.sender.SendMail([]string{to}, subject, b.String())
}

func humanStatus(s string) string {
	if s == "" {
		return "new"
	}
	return strings.ReplaceAll(s, "_", " ")
}

// RedisPublisher is the subset of *redis.Client used for notifications.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes events as JSON on a pub/sub channel.
type RedisNotifier struct {
	client  RedisPublisher
	channel string
}

func NewRedisNotifier(client RedisPublisher, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Name() string { return "redis" }

func (n *RedisNotifier) Notify(ctx context.Context, event StatusChangedEvent) error {
	body, err := event.payload()
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, body).Err()
}

// KafkaWriter is the subset of *kafka.Writer used for notifications.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier writes events keyed by case id so one case stays ordered
// within a partition.
type KafkaNotifier struct {
	writer KafkaWriter
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewKafkaNotifier(writer KafkaWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

func (n *KafkaNotifier) Name() string { return "kafka" }

func (n *KafkaNotifier) Notify(ctx context.Context, event StatusChangedEvent) error {
	body, err := event.payload()
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.CaseID),
		Value: body,
		Time:  event.At,
	})
}

// MQTTNotifier publishes to <prefix>/<caseID>.
type MQTTNotifier struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
}

func NewMQTTClient(broker, clientID, username, password string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	if username != "" {
		opts.SetUsername(username)
	}
	if password != "" {
		opts.SetPassword(password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

func NewMQTTNotifier(client mqtt.Client, prefix string) *MQTTNotifier {
	return &MQTTNotifier{client: client, prefix: strings.TrimSuffix(prefix, "/"), timeout: 5 * time.Second}
}

func (n *MQTTNotifier) Name() string { return "mqtt" }

func (n *MQTTNotifier) Notify(_ context.Context, event StatusChangedEvent) error {
	body, err := event.payload()
	if err != nil {
		return err
	}
	topic := n.prefix + "/" + event.CaseID
	token := n.client.Publish(topic, 1, false, body)
	if !token.WaitTimeout(n.timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// InAppNotifier stores a notification row for the case owner.
type InAppNotifier struct {
	store repository.NotificationStore
}

func NewInAppNotifier(store repository.NotificationStore) *InAppNotifier {
	return &InAppNotifier{store: store}
}

func (n *InAppNotifier) Name() string { return "in_app" }

func (n *InAppNotifier) Notify(ctx context.Context, event StatusChangedEvent) error {
	if event.SubjectUserID == "" {
		return nil
	}
	kind := "info"
	switch {
	case strings.HasSuffix(string(event.To), "rejected"):
		kind = "error"
	case strings.HasSuffix(string(event.To), "approved"):
		kind = "success"
	case event.Override:
		kind = "warning"
	}
	caseID := event.CaseID
	return n.store.CreateNotification(ctx, &models.Notification{
		NotificationID: uuid.NewString(),
		UserID:         event.SubjectUserID,
		Title:          "Application status updated",
		Message:        fmt.Sprintf("Your application is now %s.", humanStatus(string(event.To))),
		Type:           kind,
		RelatedCaseID:  &caseID,
		CreateAt:       event.At,
	})
}
