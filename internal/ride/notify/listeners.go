package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/example/ridedispatch/internal/ride/domain"
)

var (
	notificationsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driver_notifications_delivered_total",
		Help: "Driver-assignment notifications accepted by a listener.",
	})
	notificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driver_notifications_failed_total",
		Help: "Driver-assignment notifications a listener failed to handle.",
	})
)

// ConsoleListener prints one line per notification.
type ConsoleListener struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleListener writes notifications to w.
func NewConsoleListener(w io.Writer) *ConsoleListener {
	return &ConsoleListener{w: w}
}

// DriverAssigned writes "[NOTIFY] Driver <name>: <message>".
func (c *ConsoleListener) DriverAssigned(_ context.Context, driver domain.Driver, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "[NOTIFY] Driver %s: %s\n", driver.Name, message)
	return err
}

// LogListener records notifications in the structured log.
type LogListener struct {
	logger *zap.Logger
}

// NewLogListener constructs a LogListener.
func NewLogListener(logger *zap.Logger) *LogListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogListener{logger: logger}
}

func (l *LogListener) DriverAssigned(_ context.Context, driver domain.Driver, message string) error {
	l.logger.Info("driver assigned",
		zap.String("driver", driver.Name),
		zap.Float64("lat", driver.Location.Lat),
		zap.Float64("lng", driver.Location.Lng),
		zap.String("message", message),
	)
	return nil
}

type natsPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSListener forwards notifications to a NATS subject, one message per
// assignment, so that driver apps can subscribe by driver name.
type NATSListener struct {
	conn    natsPublisher
	subject string
	now     func() time.Time
}

// NewNATSListener constructs a listener publishing on subject.<driver name>.
func NewNATSListener(conn natsPublisher, subject string) *NATSListener {
	return &NATSListener{conn: conn, subject: subject, now: func() time.Time { return time.Now().UTC() }}
}

type driverAssignedMessage struct {
	Driver  string    `json:"driver"`
	Lat     float64   `json:"lat"`
	Lng     float64   `json:"lng"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

func (n *NATSListener) DriverAssigned(_ context.Context, driver domain.Driver, message string) error {
	payload, err := json.Marshal(driverAssignedMessage{
		Driver:  driver.Name,
		Lat:     driver.Location.Lat,
		Lng:     driver.Location.Lng,
		Message: message,
		SentAt:  n.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := nats.NewMsg(n.subject + "." + driver.Name)
	msg.Data = payload
	msg.Header.Set("x-event-type", "DriverAssigned")
	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
