package reasoning

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/baum777/reasongate"
)

// Enricher adds server-side context for a reference entity, e.g. journal
// entries or recent trades loaded from storage.
type Enricher interface {
	Enrich(ctx context.Context, uc reasongate.UseCase, referenceID string) (map[string]any, error)
}

// EnricherFunc adapts a function to Enricher.
type EnricherFunc func(ctx context.Context, uc reasongate.UseCase, referenceID string) (map[string]any, error)

func (f EnricherFunc) Enrich(ctx context.Context, uc reasongate.UseCase, referenceID string) (map[string]any, error) {
	return f(ctx, uc, referenceID)
}

// buildContext runs all enrichers concurrently and merges their output over
// the caller context in registration order, so later enrichers win on key
// conflicts. A failing or panicking enricher is skipped and reported as a
// warning.
func buildContext(ctx context.Context, req Request, enrichers []Enricher) (map[string]any, []string) {
	merged := make(map[string]any, len(req.Context))
	for k, v := range req.Context {
		merged[k] = v
	}
	if len(enrichers) == 0 {
		return merged, nil
	}

	results := make([]map[string]any, len(enrichers))
	errs := make([]error, len(enrichers))

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range enrichers {
		i, e := i, e
		g.Go(func() error {
			results[i], errs[i] = safeEnrich(gctx, e, req)
			return nil
		})
	}
	_ = g.Wait()

	var warnings []string
	for i, res := range results {
		if errs[i] != nil {
			warnings = append(warnings, fmt.Sprintf("context enrichment %d failed: %v", i+1, errs[i]))
			continue
		}
		for k, v := range res {
			merged[k] = v
		}
	}
	return merged, warnings
}

// safeEnrich turns an enricher panic into an error; it runs on its own
// goroutine, out of reach of Run's recover.
func safeEnrich(ctx context.Context, e Enricher, req Request) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return e.Enrich(ctx, req.UseCase, req.ReferenceID)
}
