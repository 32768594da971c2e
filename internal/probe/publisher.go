package probe

import (
	"fmt"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/model"

	"github.com/nats-io/nats.go"
	"k8s.io/klog/v2"
)

// Publisher is responsible for publishing flow records to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.ProbeConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	klog.Infof("Connected to NATS server at %s", cfg.NATSURL)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// Publish sends records as one FlowBatch message.
func (p *Publisher) Publish(records ...model.FlowRecord) error {
	if len(records) == 0 {
		return nil
	}
	return p.nc.Publish(p.subject, MarshalBatch(records))
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			klog.Warningf("Failed to drain NATS connection: %v", err)
		}
		klog.Info("NATS connection drained and closed.")
	}
}
