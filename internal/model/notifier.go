package model

// Notifier delivers alert messages to an operator.
type Notifier interface {
	Send(subject, body string) error
}
