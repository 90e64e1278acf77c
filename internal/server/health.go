package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/vanshika/upiscope/internal/graph"
)

// HealthService defines behaviour for readiness probes.
type HealthService interface {
	Probe(ctx context.Context) error
}

// GraphHealthService verifies graph connectivity as part of health checks.
type GraphHealthService struct {
	Client graph.Client
}

// Probe implements the HealthService interface.
func (s GraphHealthService) Probe(ctx context.Context) error {
	if s.Client == nil {
		return nil
	}
	return s.Client.VerifyConnectivity(ctx)
}

// Pinger is satisfied by the Redis store and the NSQ publisher.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is one named dependency probe.
type Check struct {
	Name   string
	Health HealthService
}

// PingHealth adapts a Pinger.
type PingHealth struct {
	Target Pinger
}

// Probe implements the HealthService interface.
func (p PingHealth) Probe(ctx context.Context) error {
	if p.Target == nil {
		return nil
	}
	return p.Target.Ping(ctx)
}

// CompositeHealth probes every check and joins the failures.
type CompositeHealth []Check

// Probe implements the HealthService interface.
func (c CompositeHealth) Probe(ctx context.Context) error {
	var errs []error
	for _, check := range c {
		if check.Health == nil {
			continue
		}
		if err := check.Health.Probe(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", check.Name, err))
		}
	}
	return errors.Join(errs...)
}
