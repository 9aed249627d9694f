// Package lease keeps a time-limited stream URL valid by renewing it shortly
// before it expires.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	"videoflow/internal/models"
)

const (
	DefaultTTL               = 60 * time.Minute
	DefaultRenewMargin       = 5 * time.Minute
	DefaultCountdownInterval = 10 * time.Second
)

// Grant is what the source hands out for one access request.
type Grant struct {
	URL       string
	ExpiresAt time.Time
}

// Source issues signed stream URLs.
type Source interface {
	GetStreamAccessURL(ctx context.Context, videoID, streamType string, ttlMinutes int) (*Grant, error)
}

type Config struct {
	TTL               time.Duration
	RenewMargin       time.Duration
	CountdownInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		TTL:               DefaultTTL,
		RenewMargin:       DefaultRenewMargin,
		CountdownInterval: DefaultCountdownInterval,
	}
}

type Manager struct {
	source Source
	config Config
	logger log.Logger
}

func NewManager(source Source, config Config, logger log.Logger) *Manager {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.RenewMargin < 0 {
		config.RenewMargin = DefaultRenewMargin
	}
	if config.CountdownInterval <= 0 {
		config.CountdownInterval = DefaultCountdownInterval
	}
	return &Manager{source: source, config: config, logger: logger}
}

// RenewDelay is how long after issuance a lease should be replaced: the
// shorter of the requested TTL and the granted lifetime, minus margin. When
// the margin does not fit into the lifetime the lease is renewed halfway.
func RenewDelay(lease models.AccessLease, margin time.Duration) time.Duration {
	lifetime := lease.ExpiresAt.Sub(lease.IssuedAt)
	if lease.RequestedTTL > 0 && lease.RequestedTTL < lifetime {
		lifetime = lease.RequestedTTL
	}
	if lifetime <= 0 {
		return 0
	}

	delay := lifetime - margin
	if delay <= 0 {
		delay = lifetime / 2
	}
	return delay
}

// Watch obtains a lease for the stream and keeps it fresh until ctx is done.
// A state with Renewed set is sent for every new lease, and a countdown state
// every CountdownInterval in between. A failed fetch is sent once as a
// PollingFailedError and closes the channel.
func (m *Manager) Watch(ctx context.Context, resourceID, streamType string) <-chan models.LeaseState {
	out := make(chan models.LeaseState, 1)

	go func() {
		defer close(out)

		send := func(state models.LeaseState) bool {
			select {
			case out <- state:
				return true
			case <-ctx.Done():
				return false
			}
		}

		lease, err := m.fetch(ctx, resourceID, streamType)
		if err != nil {
			if ctx.Err() == nil {
				send(models.LeaseState{Err: err})
			}
			return
		}

		renew := time.NewTimer(RenewDelay(lease, m.config.RenewMargin))
		defer renew.Stop()
		countdown := time.NewTicker(m.config.CountdownInterval)
		defer countdown.Stop()

		if !send(stateOf(lease, true)) {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-countdown.C:
				if !send(stateOf(lease, false)) {
					return
				}
			case <-renew.C:
				next, err := m.fetch(ctx, resourceID, streamType)
				if err != nil {
					if ctx.Err() == nil {
						send(models.LeaseState{Lease: lease, Remaining: lease.Remaining(time.Now()), Err: err})
					}
					return
				}
				lease = next
				m.logger.Debugf("Renewed %s lease for %s, expires %s", streamType, resourceID, lease.ExpiresAt.Format(time.RFC3339))

				renew.Reset(RenewDelay(lease, m.config.RenewMargin))
				countdown.Reset(m.config.CountdownInterval)
				if !send(stateOf(lease, true)) {
					return
				}
			}
		}
	}()

	return out
}

func (m *Manager) fetch(ctx context.Context, resourceID, streamType string) (models.AccessLease, error) {
	resource := fmt.Sprintf("%s lease for %s", streamType, resourceID)

	issuedAt := time.Now()
	grant, err := m.source.GetStreamAccessURL(ctx, resourceID, streamType, ttlMinutes(m.config.TTL))
	if err != nil {
		return models.AccessLease{}, models.NewPollingFailedError(resource, err)
	}
	if grant == nil || grant.URL == "" {
		return models.AccessLease{}, models.NewPollingFailedError(resource, errors.New("no URL granted"))
	}

	lease := models.AccessLease{
		ResourceID:   resourceID,
		StreamType:   streamType,
		URL:          grant.URL,
		IssuedAt:     issuedAt,
		ExpiresAt:    grant.ExpiresAt,
		RequestedTTL: m.config.TTL,
	}
	if lease.ExpiresAt.IsZero() {
		lease.ExpiresAt = issuedAt.Add(m.config.TTL)
	}
	if !lease.ExpiresAt.After(issuedAt) {
		return models.AccessLease{}, models.NewPollingFailedError(resource, errors.New("granted URL is already expired"))
	}
	return lease, nil
}

func stateOf(lease models.AccessLease, renewed bool) models.LeaseState {
	return models.LeaseState{
		Lease:     lease,
		Remaining: lease.Remaining(time.Now()),
		Renewed:   renewed,
	}
}

// ttlMinutes rounds up so a sub-minute TTL still asks for a usable URL.
func ttlMinutes(ttl time.Duration) int {
	minutes := int((ttl + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
