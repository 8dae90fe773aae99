package mirror

import (
	"fmt"
	"log/slog"
)

// Resolve builds the active upstream client from configuration: a no-op
// client when nothing is enabled, a direct protocol client for a single
// enabled source, and a fallback chain preserving configured order for more.
func Resolve(sources []SourceConfig, logger *slog.Logger) (Client, error) {
	var enabled []sourcedClient
	for i, cfg := range sources {
		if !cfg.Enabled {
			continue
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("mirror %d: %w", i, err)
		}
		enabled = append(enabled, sourcedClient{
			client: newProtocolClient(cfg),
			source: cfg.sourceHost(),
		})
	}

	switch len(enabled) {
	case 0:
		return DisabledClient{}, nil
	case 1:
		return enabled[0].client, nil
	default:
		return NewFallbackClient(enabled, logger), nil
	}
}

func newProtocolClient(cfg SourceConfig) Client {
	if cfg.Legacy {
		return NewLegacyClient(cfg)
	}
	return NewV3Client(cfg)
}
