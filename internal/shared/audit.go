package shared

import (
	"context"

	"github.com/kinoteka/kinoteka/internal/authz"
)

// AuditEmitter receives every approved and denied administrative decision.
type AuditEmitter interface {
	Emit(ctx context.Context, fact authz.Fact)
}

// NopEmitter discards facts.
type NopEmitter struct{}

// Emit implements AuditEmitter.
func (NopEmitter) Emit(context.Context, authz.Fact) {}
