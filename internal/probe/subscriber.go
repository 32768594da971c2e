package probe

import (
	"fmt"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/model"

	"github.com/nats-io/nats.go"
	"k8s.io/klog/v2"
)

// RecordHandler is a function that processes a received flow record.
type RecordHandler func(rec model.FlowRecord)

// Subscriber is responsible for subscribing to a NATS subject and processing messages.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.ProbeConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	klog.Infof("Connected to NATS server at %s", cfg.NATSURL)
	return &Subscriber{nc: nc, subject: cfg.Subject}, nil
}

// Start subscribes to the configured subject and passes every decoded record to handler.
func (s *Subscriber) Start(handler RecordHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		HandleMessage(msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to '%s': %w", s.subject, err)
	}
	s.sub = sub
	klog.Infof("Subscribed to '%s'. Waiting for messages...", s.subject)
	return nil
}

// HandleMessage decodes a FlowBatch message and calls handler for each record.
// Malformed messages are logged and dropped.
func HandleMessage(data []byte, handler RecordHandler) int {
	records, err := UnmarshalBatch(data)
	if err != nil {
		klog.Warningf("Dropping message: %v", err)
		return 0
	}
	for _, rec := range records {
		handler(rec)
	}
	return len(records)
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			klog.Warningf("Failed to unsubscribe from '%s': %v", s.subject, err)
		}
	}
	if s.nc != nil {
		s.nc.Close()
		klog.Info("NATS connection closed.")
	}
}
