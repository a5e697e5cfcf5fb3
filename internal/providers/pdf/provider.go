package pdf

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

// Provider renders settlement documents.
type Provider interface {
	GenerateRebateStatement(ctx context.Context, data StatementData) ([]byte, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateRebateStatement(ctx context.Context, data StatementData) ([]byte, error) {
	return nil, nil
}
