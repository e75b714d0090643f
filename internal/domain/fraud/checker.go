package fraud

import "context"

// Checker evaluates one factor against an analysis context.
// Implementations must treat the context as read-only; they run concurrently.
type Checker interface {
	Factor() Factor
	Check(ctx context.Context, ac *AnalysisContext) FactorResult
}

// CheckerFunc adapts a plain function to the Checker interface
type CheckerFunc struct {
	Name Factor
	Fn   func(ctx context.Context, ac *AnalysisContext) FactorResult
}

func (c CheckerFunc) Factor() Factor { return c.Name }

func (c CheckerFunc) Check(ctx context.Context, ac *AnalysisContext) FactorResult {
	return c.Fn(ctx, ac)
}
