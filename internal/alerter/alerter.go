package alerter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/engine/ownerstore"
	"Go2NetLog/internal/metrics"
	"Go2NetLog/internal/model"

	"github.com/gomarkdown/markdown"
	"k8s.io/klog/v2"
)

// SnapshotSource provides the snapshots rules are evaluated on.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*ownerstore.Snapshot, error)
}

// Alerter is responsible for evaluating owner snapshots against predefined rules
// and triggering notifications if rules are violated.
type Alerter struct {
	source        SnapshotSource
	rules         []config.AlerterRule
	notifier      model.Notifier
	checkInterval time.Duration
	metrics       *metrics.Collector
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// NewAlerter creates a new Alerter instance.
func NewAlerter(cfg *config.AlerterConfig, source SnapshotSource, notifier model.Notifier, collector *metrics.Collector) (*Alerter, error) {
	interval, err := time.ParseDuration(cfg.CheckInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid check_interval for alerter: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("alerter check_interval must be a positive duration")
	}

	return &Alerter{
		source:        source,
		rules:         cfg.Rules,
		notifier:      notifier,
		checkInterval: interval,
		metrics:       collector,
		stopChan:      make(chan struct{}),
	}, nil
}

// Start begins the periodic evaluation of alert rules.
func (a *Alerter) Start() {
	klog.Infof("Alerter started with %d rules, checking every %s", len(a.rules), a.checkInterval)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ticker := time.NewTicker(a.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				a.run()
			case <-a.stopChan:
				return
			}
		}
	}()
}

// Stop stops the evaluation loop.
func (a *Alerter) Stop() {
	klog.Info("Stopping Alerter...")
	close(a.stopChan)
	a.wg.Wait()
}

func (a *Alerter) run() {
	ctx, cancel := context.WithTimeout(context.Background(), a.checkInterval)
	defer cancel()

	snap, err := a.source.Snapshot(ctx)
	if err != nil {
		klog.Warningf("Alerter could not take a snapshot: %v", err)
		return
	}
	a.Notify(a.Evaluate(snap))
}

// Evaluate returns one markdown message per rule violation found in snap.
func (a *Alerter) Evaluate(snap *ownerstore.Snapshot) []string {
	var messages []string
	for _, rule := range a.rules {
		for _, o := range snap.Owners {
			if !ruleMatchesOwner(rule, o) {
				continue
			}

			var value float64
			var unit string
			switch rule.Metric {
			case "total_packets":
				value, unit = float64(o.Packets), "packets"
			case "total_bytes":
				value, unit = float64(o.Bytes), "bytes"
			case "peer_count":
				value, unit = float64(len(o.Peers)), "peers"
			case "size_p95":
				value, unit = o.SizeP95, "bytes"
			default:
				klog.Warningf("Unknown metric '%s' in alerter rule '%s'", rule.Metric, rule.Name)
				continue
			}

			if check(value, rule.Threshold, rule.Operator) {
				messages = append(messages, fmt.Sprintf("### Alert: %s\n\n"+
					"- **Owner:** `%s` (`%d`)\n"+
					"- **Metric:** `%s`\n"+
					"- **Condition:** `%s %.2f`\n"+
					"- **Observed Value:** `%.0f %s`\n",
					rule.Name, o.Name, o.ID, rule.Metric, rule.Operator, rule.Threshold, value, unit))
			}
		}
	}
	return messages
}

// Notify sends one consolidated notification for messages. Nothing is sent when messages is empty.
func (a *Alerter) Notify(messages []string) {
	if len(messages) == 0 {
		return
	}
	klog.Infof("Alerter evaluation completed. %d alert(s) triggered.", len(messages))
	a.metrics.AlertTriggered(len(messages))

	if a.notifier == nil {
		return
	}

	md := "# Go2NetLog Alert Summary\n\n" +
		"The following alerts were triggered during the last check:\n\n---\n\n" +
		strings.Join(messages, "\n---\n\n")
	body := string(markdown.ToHTML([]byte(md), nil, nil))

	subject := fmt.Sprintf("Go2NetLog Alert Summary (%d Triggered)", len(messages))
	if err := a.notifier.Send(subject, body); err != nil {
		klog.Errorf("Failed to send consolidated alert notification: %v", err)
	} else {
		klog.Info("Consolidated alert notification sent successfully.")
	}
}

func ruleMatchesOwner(rule config.AlerterRule, o *ownerstore.OwnerSnapshot) bool {
	if rule.Owner == "" {
		return true
	}
	return rule.Owner == o.IDString || strings.EqualFold(rule.Owner, o.Name)
}

// check compares a value against a threshold based on an operator.
func check(value, threshold float64, operator string) bool {
	switch operator {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case "=":
		return value == threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	default:
		klog.Warningf("Unknown operator '%s' in alerter rule", operator)
		return false
	}
}
