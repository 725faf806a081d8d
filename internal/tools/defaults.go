package tools

import (
	"context"
	"net"
)

// SystemResolver adapts net.DefaultResolver to TXTResolver.
func SystemResolver(ctx context.Context, name string) ([]string, error) {
	return net.DefaultResolver.LookupTXT(ctx, name)
}

// HealthyProbe reports every service healthy. The demo stand-in for a real
// status-page client.
func HealthyProbe(ctx context.Context, service string) error { return nil }

// DefaultSpecs is the full allowlist with demo connectors wired in.
func DefaultSpecs(breakers BreakerStore) []Spec {
	return []Spec{
		FetchEmailEvents(DefaultEmailFixture()),
		DNSEmailAuthCheck(SystemResolver),
		FetchAppEvents(DefaultAppFixture()),
		FetchIntegrationEvents(DefaultIntegrationFixture()),
		LogEvidence(DemoLogSource),
		ServiceStatus(breakers, HealthyProbe, DefaultBreakerConfig()),
	}
}
