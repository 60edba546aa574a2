package persistence

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/wfstore/pkg/api"
)

// Option configures a provider.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	observer api.Observer
	newID    func() string
	now      func() time.Time
}

func defaultOptions() options {
	return options{
		logger:   slog.Default(),
		observer: api.NoopObserver{},
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used for absorbed failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver sets the observer notified about writes and command sweeps.
func WithObserver(obs api.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithIDGenerator replaces the identity generator (uuid.NewString by
// default) used for workflows, subscriptions and events.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithClock replaces the clock used to stamp CreateTime on new instances that
// do not carry one.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
