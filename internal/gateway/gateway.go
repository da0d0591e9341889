// Package gateway fronts external signal providers. Every response carries
// a provenance mode; on timeout or provider error the gateway degrades to
// deterministic synthetic fixtures instead of failing, and tags the
// response so no caller can mistake fallback data for ground truth.
package gateway

import (
	"context"
	"time"

	"driftd/internal/signal"
)

// Mode is the provenance/health tag attached to any boundary response.
type Mode string

const (
	ModeLive      Mode = "live"
	ModeHybrid    Mode = "hybrid"
	ModeSynthetic Mode = "synthetic"
	ModeError     Mode = "error"

	// ModeUnknown tags responses served before any ingest pass has
	// established provenance. It never appears on gateway fetches.
	ModeUnknown Mode = "unknown"
)

// FallbackReason explains a degraded response.
type FallbackReason string

const (
	ReasonProviderUnavailable FallbackReason = "provider_unavailable"
	ReasonSyntheticFallback   FallbackReason = "synthetic_fallback"
)

// Provider fetches raw payloads for one source. Implementations are
// external collaborators; the local-git provider in this package is the
// only one driftd ships.
type Provider interface {
	Fetch(ctx context.Context, src signal.Source) ([]signal.RawPayload, error)
}

// Response is the mode-tagged result of one source fetch.
type Response struct {
	Payloads       []signal.RawPayload `json:"payloads"`
	Mode           Mode                `json:"mode"`
	FallbackReason FallbackReason      `json:"fallback_reason,omitempty"`
}

// Gateway wraps a provider with a per-call timeout and synthetic fallback.
type Gateway struct {
	provider Provider
	timeout  time.Duration
	fixtures *FixtureSet
}

func New(provider Provider, timeout time.Duration, fixtures *FixtureSet) *Gateway {
	if fixtures == nil {
		fixtures = DefaultFixtures()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gateway{provider: provider, timeout: timeout, fixtures: fixtures}
}

// FetchSignals fetches raw payloads for one source. No provider configured
// means a deliberate synthetic run; a provider failure or timeout degrades
// to fixtures with reason provider_unavailable. Fallback never touches
// anything already persisted: it only swaps the payloads being returned.
func (g *Gateway) FetchSignals(ctx context.Context, src signal.Source) Response {
	if g.provider == nil {
		return Response{
			Payloads:       g.fixtures.For(src),
			Mode:           ModeSynthetic,
			FallbackReason: ReasonSyntheticFallback,
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	payloads, err := g.provider.Fetch(fetchCtx, src)
	if err != nil {
		return Response{
			Payloads:       g.fixtures.For(src),
			Mode:           ModeSynthetic,
			FallbackReason: ReasonProviderUnavailable,
		}
	}
	return Response{Payloads: payloads, Mode: ModeLive}
}

// CombineModes folds per-source modes into one overall provenance tag:
// all live stays live, all degraded is synthetic, a mix is hybrid.
func CombineModes(modes []Mode) Mode {
	if len(modes) == 0 {
		return ModeError
	}
	live, synthetic := 0, 0
	for _, m := range modes {
		switch m {
		case ModeLive:
			live++
		case ModeSynthetic:
			synthetic++
		}
	}
	switch {
	case live == len(modes):
		return ModeLive
	case synthetic == len(modes):
		return ModeSynthetic
	case live == 0 && synthetic == 0:
		return ModeError
	default:
		return ModeHybrid
	}
}
