// Package events publishes job change notifications to subscribers: an
// in-process bus, Kafka or RabbitMQ.
package events

import (
	"context"
	"errors"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

// Publisher delivers a change notification. Publishing happens after the
// change is committed, so a failure is logged by the caller and never
// undoes the change.
type Publisher interface {
	Publish(ctx context.Context, event domain.TransitionEvent) error
	Close() error
}

// Multi fans one event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event domain.TransitionEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
