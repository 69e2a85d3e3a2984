package config

import (
	"context"
	"encoding/json"
	"math/big"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chain-relay.backend/internal/domain/repositories"
	"chain-relay.backend/pkg/logger"
)

// Provider hands out the current immutable Snapshot. A dedicated poller
// re-reads the environment defaults and the relay_settings overrides and
// atomically swaps the pointer; workers call Current every cycle and never
// cache a snapshot across cycles.
type Provider struct {
	current  atomic.Pointer[Snapshot]
	settings repositories.RelaySettingsRepository
}

// NewProvider creates a provider seeded with the given snapshot
func NewProvider(initial Snapshot, settings repositories.RelaySettingsRepository) *Provider {
	p := &Provider{settings: settings}
	p.current.Store(&initial)
	return p
}

// Current returns the latest snapshot
func (p *Provider) Current() *Snapshot {
	return p.current.Load()
}

// Refresh rebuilds the snapshot from env defaults plus operator overrides
func (p *Provider) Refresh(ctx context.Context) error {
	snap := LoadSnapshot()
	if p.settings != nil {
		overrides, err := p.settings.GetOverrides(ctx)
		if err != nil {
			return err
		}
		applyOverrides(&snap, overrides)
	}
	p.current.Store(&snap)
	return nil
}

// Run polls for override changes until the context is cancelled
func (p *Provider) Run(ctx context.Context) {
	for {
		interval := p.Current().ConfigPollInterval
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			if err := p.Refresh(ctx); err != nil {
				logger.Warn(ctx, "config refresh failed", zap.Error(err))
			}
		}
	}
}

// applyOverrides mutates the not-yet-published snapshot in place. Unknown or
// malformed keys are skipped.
func applyOverrides(s *Snapshot, overrides map[string]string) {
	for k, v := range overrides {
		switch k {
		case "submitBatchSize":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				s.SubmitBatchSize = n
			}
		case "minBlocksBeforeRetry":
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				s.MinBlocksBeforeRetry = n
			}
		case "cancelTimeout":
			if d, err := time.ParseDuration(v); err == nil {
				s.CancelTimeout = d
			}
		case "droppedTimeout":
			if d, err := time.ParseDuration(v); err == nil {
				s.DroppedTimeout = d
			}
		case "maxFeeCeilingWei":
			if b, ok := new(big.Int).SetString(v, 10); ok {
				s.MaxFeeCeilingWei = b
			}
		case "maxPriorityFeeCeilingWei":
			if b, ok := new(big.Int).SetString(v, 10); ok {
				s.MaxPriorityFeeCeilingWei = b
			}
		case "maxBlocksPerRun":
			if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
				s.MaxBlocksPerRun = n
			}
		case "safetyOffset":
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				s.SafetyOffset = n
			}
		case "maxBackfillRange":
			if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
				s.MaxBackfillRange = n
			}
		case "webhookUrl":
			s.WebhookURL = v
		}
	}
}

// DecodeOverrides parses the relay_settings JSON column
func DecodeOverrides(raw string) (map[string]string, error) {
	out := make(map[string]string)
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
