package meeting

import (
	"context"
	"fmt"

	"consultation-service/internal/config"
)

// New builds the provider selected by configuration.
func New(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Kind {
	case config.ProviderChime:
		p, err := NewChimeProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderStub, "":
		return NewStubProvider(), nil
	default:
		return nil, fmt.Errorf("meeting: unknown provider kind %q", cfg.Kind)
	}
}
