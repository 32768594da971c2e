// Package inventory supplies the owner list the registry is rebuilt from.
package inventory

import (
	"context"
	"fmt"
	"os"
	"time"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/model"
	"Go2NetLog/internal/probe"

	"github.com/nats-io/nats.go"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// FileInventory reads a yaml list of owners on every call.
type FileInventory struct {
	path string
}

// NewFileInventory returns an inventory backed by the yaml file at path.
func NewFileInventory(path string) *FileInventory {
	return &FileInventory{path: path}
}

// Owners implements model.Inventory.
func (f *FileInventory) Owners(ctx context.Context) ([]model.OwnerDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadFile(f.path)
}

// LoadFile parses a yaml owner list.
func LoadFile(path string) ([]model.OwnerDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file %s: %w", path, err)
	}
	owners := []model.OwnerDescriptor{}
	if err := yaml.Unmarshal(data, &owners); err != nil {
		return nil, fmt.Errorf("failed to parse inventory file %s: %w", path, err)
	}
	return owners, nil
}

// NATSInventory asks a responder for the owner list over NATS request/reply.
type NATSInventory struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
}

// NewNATSInventory connects to url. Every Owners call waits at most timeout for a reply.
func NewNATSInventory(url, subject string, timeout time.Duration) (*NATSInventory, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSInventory{nc: nc, subject: subject, timeout: timeout}, nil
}

// Owners implements model.Inventory.
func (n *NATSInventory) Owners(ctx context.Context) ([]model.OwnerDescriptor, error) {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	msg, err := n.nc.RequestWithContext(ctx, n.subject, nil)
	if err != nil {
		return nil, fmt.Errorf("inventory request on %s failed: %w", n.subject, err)
	}
	return probe.UnmarshalOwners(msg.Data)
}

// Close closes the NATS connection.
func (n *NATSInventory) Close() {
	n.nc.Close()
}

// Responder answers inventory requests with the owners returned by source.
type Responder struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	source model.Inventory
}

// NewResponder connects to url and serves source on subject.
func NewResponder(url, subject string, source model.Inventory) (*Responder, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	r := &Responder{nc: nc, source: source}
	r.sub, err = nc.Subscribe(subject, r.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	klog.Infof("Serving owner inventory on subject '%s'", subject)
	return r, nil
}

func (r *Responder) handle(msg *nats.Msg) {
	data, err := Reply(context.Background(), r.source)
	if err != nil {
		klog.Errorf("Failed to load inventory for request: %v", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		klog.Errorf("Failed to respond to inventory request: %v", err)
	}
}

// Reply encodes the current owners of source as an inventory reply.
func Reply(ctx context.Context, source model.Inventory) ([]byte, error) {
	owners, err := source.Owners(ctx)
	if err != nil {
		return nil, err
	}
	return probe.MarshalOwners(owners), nil
}

// Close unsubscribes and closes the connection.
func (r *Responder) Close() {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	r.nc.Close()
}

// New builds the inventory selected by cfg.
func New(cfg *config.Config) (model.Inventory, error) {
	switch cfg.Inventory.Type {
	case "", "file":
		return NewFileInventory(cfg.Inventory.Path), nil
	case "nats":
		timeout, err := cfg.InventoryTimeout()
		if err != nil {
			return nil, err
		}
		url := cfg.Probe.NATSURL
		return NewNATSInventory(url, cfg.Inventory.Subject, timeout)
	default:
		return nil, fmt.Errorf("unknown inventory type '%s'", cfg.Inventory.Type)
	}
}
