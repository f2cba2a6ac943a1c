package remote

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/fanzone/memefeed/pkg/model"
)

// NewLimiter returns a token bucket limiter. A non-positive rps disables throttling.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

type limitedPrimary struct {
	PrimaryCollection
	limiter *rate.Limiter
}

// LimitPrimary throttles Page and Get calls through limiter.
func LimitPrimary(p PrimaryCollection, limiter *rate.Limiter) PrimaryCollection {
	if limiter == nil {
		return p
	}
	return &limitedPrimary{PrimaryCollection: p, limiter: limiter}
}

func (l *limitedPrimary) Page(ctx context.Context, q PageQuery) ([]model.ContentItem, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, model.WrapError(err)
	}
	return l.PrimaryCollection.Page(ctx, q)
}

func (l *limitedPrimary) Get(ctx context.Context, id string) (model.ContentItem, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return model.ContentItem{}, model.WrapError(err)
	}
	return l.PrimaryCollection.Get(ctx, id)
}

type limitedIndex struct {
	IndexStore
	limiter *rate.Limiter
}

// LimitIndex throttles Range calls through limiter. Writes pass through.
func LimitIndex(s IndexStore, limiter *rate.Limiter) IndexStore {
	if limiter == nil {
		return s
	}
	return &limitedIndex{IndexStore: s, limiter: limiter}
}

func (l *limitedIndex) Range(ctx context.Context, index string, q RangeQuery) (model.IndexPage, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return model.IndexPage{}, model.WrapError(err)
	}
	return l.IndexStore.Range(ctx, index, q)
}
