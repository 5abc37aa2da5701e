package pdp

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/onjsdnjs/identity-admin-sub001/logger"
)

// BundleSubscriber receives freshly signed policy bundles, typically an
// enforcement point's sync endpoint.
type BundleSubscriber interface {
	OnBundle(ctx context.Context, pub ed25519.PublicKey, bundle *SignedPolicyBundle) error
}

type BundleSubscriberFunc func(ctx context.Context, pub ed25519.PublicKey, bundle *SignedPolicyBundle) error

func (f BundleSubscriberFunc) OnBundle(ctx context.Context, pub ed25519.PublicKey, bundle *SignedPolicyBundle) error {
	return f(ctx, pub, bundle)
}

// PolicyBundleDistributor watches for policy changes and pushes signed bundles
// to registered subscribers. Change notifications are coalesced: a burst of
// edits produces one distribution.
type PolicyBundleDistributor struct {
	policyStore      PolicyStore
	pub              ed25519.PublicKey
	priv             ed25519.PrivateKey
	rotationInterval time.Duration
	notifyCh         chan struct{}
	stopCh           chan struct{}
	subscribers      []BundleSubscriber
	log              logger.Logger
	mu               sync.RWMutex
	started          bool
	wg               sync.WaitGroup
}

type PolicyBundleDistributorOption func(*PolicyBundleDistributor)

func WithBundleSigningKey(priv ed25519.PrivateKey) PolicyBundleDistributorOption {
	return func(d *PolicyBundleDistributor) {
		if priv != nil && len(priv) == ed25519.PrivateKeySize {
			d.priv = append(ed25519.PrivateKey{}, priv...)
			d.pub = priv.Public().(ed25519.PublicKey)
		}
	}
}

func WithBundleRotationInterval(interval time.Duration) PolicyBundleDistributorOption {
	return func(d *PolicyBundleDistributor) {
		if interval > 0 {
			d.rotationInterval = interval
		}
	}
}

func WithBundleLogger(l logger.Logger) PolicyBundleDistributorOption {
	return func(d *PolicyBundleDistributor) {
		if l != nil {
			d.log = l
		}
	}
}

func NewPolicyBundleDistributor(store PolicyStore, opts ...PolicyBundleDistributorOption) (*PolicyBundleDistributor, error) {
	if store == nil {
		return nil, fmt.Errorf("policy store is required")
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	dist := &PolicyBundleDistributor{
		policyStore:      store,
		priv:             priv,
		pub:              pub,
		rotationInterval: 24 * time.Hour,
		notifyCh:         make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
		log:              logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(dist)
	}
	return dist, nil
}

func (d *PolicyBundleDistributor) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.rotationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-d.notifyCh:
				if err := d.distribute(ctx); err != nil {
					d.log.Error("bundle distribution failed", "error", err.Error())
				}
			case <-ticker.C:
				if err := d.RotateSigningKey(); err != nil {
					d.log.Error("bundle key rotation failed", "error", err.Error())
				}
			}
		}
	}()
}

func (d *PolicyBundleDistributor) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.mu.Unlock()

	close(d.stopCh)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// NotifyPolicyChange schedules a distribution; safe to call from any goroutine
func (d *PolicyBundleDistributor) NotifyPolicyChange() {
	select {
	case d.notifyCh <- struct{}{}:
	default:
	}
}

func (d *PolicyBundleDistributor) RegisterSubscriber(sub BundleSubscriber) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, sub)
}

func (d *PolicyBundleDistributor) RotateSigningKey() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.priv = priv
	d.pub = pub
	d.mu.Unlock()
	return nil
}

func (d *PolicyBundleDistributor) CurrentPublicKey() ed25519.PublicKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append(ed25519.PublicKey(nil), d.pub...)
}

func (d *PolicyBundleDistributor) distribute(ctx context.Context) error {
	policies, err := d.policyStore.ListPolicies(ctx)
	if err != nil {
		return err
	}
	d.mu.RLock()
	priv := d.priv
	pub := d.pub
	subs := append([]BundleSubscriber(nil), d.subscribers...)
	d.mu.RUnlock()

	bundle, err := SignBundle(priv, policies)
	if err != nil {
		return err
	}
	bundle.Meta = map[string]any{
		"generated_at": time.Now().UTC().Format(time.RFC3339Nano),
		"signing_key":  base64.StdEncoding.EncodeToString(pub),
		"policy_count": len(policies),
	}

	for _, sub := range subs {
		if err := sub.OnBundle(ctx, append(ed25519.PublicKey(nil), pub...), bundle); err != nil {
			d.log.Error("bundle subscriber error", "error", err.Error())
		}
	}
	return nil
}
