package domain

import "context"

// PageFetcher loads one page of listings for a filter configuration.
// Pages are numbered from 1. Failures should be *FetchError.
type PageFetcher interface {
	FetchPage(ctx context.Context, filter FilterConfig, page int) (Page, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, filter FilterConfig, page int) (Page, error)

func (f PageFetcherFunc) FetchPage(ctx context.Context, filter FilterConfig, page int) (Page, error) {
	return f(ctx, filter, page)
}
