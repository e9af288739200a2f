package client

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/quantflow/dataapi-client/pkg/api"
)

var pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dataapi_pages_fetched_total",
	Help: "Total pages fetched by endpoint and paging mode",
}, []string{"endpoint", "mode"})

// consecutiveEmptyLimit ends a concurrent fetch once this many empty pages
// arrive in a row; past the data there is nothing left to find.
const consecutiveEmptyLimit = 2

// FetchResult is the merged outcome of one logical fetch: all page rows
// concatenated, with the field names taken from the first non-empty page.
type FetchResult struct {
	Fields []string
	Rows   [][]any
}

func resultFromPage(data *api.PageData) *FetchResult {
	return &FetchResult{
		Fields: data.Fields,
		Rows:   data.Items,
	}
}

// page is one bounded request within a larger logical fetch. Created by the
// paginator, consumed once by the executor.
type page struct {
	offset int
	limit  int
}

// outcome carries one page's result back from a worker.
type outcome struct {
	page page
	data *api.PageData
	err  error
}

// paginator orchestrates the executor across however many pages a logical
// fetch needs, sequentially or in bounded concurrent batches.
type paginator struct {
	exec            *executor
	workers         int
	defaultMaxPages int
	logger          zerolog.Logger
}

// fetchSequential streams pages in strict offset order until the server
// reports the end of the data or a user-supplied total limit is reached.
// With neither, the loop runs until the server terminates it; that is the
// server's contract to honor.
func (p *paginator) fetchSequential(ctx context.Context, endpoint string, fields []string, reqCap int, opts FetchOptions, params map[string]any) (*FetchResult, error) {
	start := time.Now()
	offset := opts.Offset
	userLimit := opts.Limit

	result := &FetchResult{}
	total := 0

	for {
		pageLimit := reqCap
		if userLimit > 0 {
			remaining := userLimit - total
			if remaining <= 0 {
				break
			}
			pageLimit = min(reqCap, remaining)
		}

		pageParams := cloneParams(params)
		pageParams["offset"] = offset
		pageParams["limit"] = pageLimit

		p.logger.Debug().
			Str("endpoint", endpoint).
			Int("offset", offset).
			Int("limit", pageLimit).
			Msg("Fetching page")

		data, err := p.exec.execute(ctx, endpoint, pageParams, fields)
		if err != nil {
			return nil, err
		}
		pagesFetchedTotal.WithLabelValues(endpoint, "sequential").Inc()

		if result.Fields == nil && len(data.Fields) > 0 {
			result.Fields = data.Fields
		}

		count := len(data.Items)
		result.Rows = append(result.Rows, data.Items...)
		total += count

		if more, ok := data.More(); ok {
			if !more {
				break
			}
		} else if count < pageLimit || count == 0 {
			// No continuation flag: a short page is the last page.
			break
		}

		offset += count

		if userLimit > 0 && total >= userLimit {
			break
		}
	}

	p.logger.Info().
		Str("endpoint", endpoint).
		Int("rows", total).
		Dur("duration", time.Since(start)).
		Msg("Sequential fetch complete")

	return result, nil
}

// fetchConcurrent pre-computes the page plan and dispatches it in batches of
// the worker-pool size: the next batch is submitted only after the previous
// one fully completes. Rows from pages within a batch are appended in
// completion order, not offset order.
func (p *paginator) fetchConcurrent(ctx context.Context, endpoint string, fields []string, reqCap int, opts FetchOptions, params map[string]any) (*FetchResult, error) {
	start := time.Now()
	pages := p.planPages(endpoint, reqCap, opts)

	result := &FetchResult{}
	fetched := 0
	emptyStreak := 0

	for i := 0; i < len(pages); i += p.workers {
		if emptyStreak >= consecutiveEmptyLimit {
			p.logger.Info().
				Str("endpoint", endpoint).
				Int("empty_pages", emptyStreak).
				Msg("Consecutive empty pages, stopping batch submission")
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch := pages[i:min(i+p.workers, len(pages))]
		results := make(chan outcome, len(batch))

		for _, pg := range batch {
			go p.fetchPage(ctx, endpoint, fields, pg, params, results)
		}

		var batchErr error
		for range batch {
			out := <-results
			if out.err != nil {
				if batchErr == nil {
					batchErr = out.err
				}
				continue
			}
			fetched++

			if result.Fields == nil && len(out.data.Fields) > 0 {
				result.Fields = out.data.Fields
			}

			if len(out.data.Items) == 0 {
				emptyStreak++
			} else {
				emptyStreak = 0
				result.Rows = append(result.Rows, out.data.Items...)
			}

			if more, ok := out.data.More(); ok && !more {
				// Authoritative end of data; no batch after this one.
				emptyStreak = consecutiveEmptyLimit
			}
		}

		if batchErr != nil {
			p.logger.Error().
				Err(batchErr).
				Str("endpoint", endpoint).
				Int("pages_fetched", fetched).
				Msg("Page failed, aborting fetch")
			return nil, batchErr
		}
	}

	p.logger.Info().
		Str("endpoint", endpoint).
		Int("pages", fetched).
		Int("rows", len(result.Rows)).
		Dur("duration", time.Since(start)).
		Msg("Concurrent fetch complete")

	return result, nil
}

// fetchPage runs one page through the executor. A page rejected because its
// offset lies past the end of the data counts as an empty final page, not a
// failure.
func (p *paginator) fetchPage(ctx context.Context, endpoint string, fields []string, pg page, params map[string]any, results chan<- outcome) {
	pageParams := cloneParams(params)
	pageParams["offset"] = pg.offset
	pageParams["limit"] = pg.limit

	data, err := p.exec.execute(ctx, endpoint, pageParams, fields)
	if err != nil && isOffsetOutOfRange(err) {
		p.logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Int("offset", pg.offset).
			Msg("Offset beyond available data, treating page as empty")
		noMore := false
		data, err = &api.PageData{Fields: fields, HasMore: &noMore}, nil
	}
	if err == nil {
		pagesFetchedTotal.WithLabelValues(endpoint, "concurrent").Inc()
	}

	results <- outcome{page: pg, data: data, err: err}
}

// planPages lays out the offset/limit descriptors for a concurrent fetch in
// ascending offset order. With a user limit the page count is exact; without
// one the configured ceiling bounds how far past the data we are willing to
// look.
func (p *paginator) planPages(endpoint string, reqCap int, opts FetchOptions) []page {
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		if opts.Limit > 0 {
			maxPages = (opts.Limit + reqCap - 1) / reqCap
		} else {
			maxPages = p.defaultMaxPages
			p.logger.Warn().
				Str("endpoint", endpoint).
				Int("max_pages", maxPages).
				Msg("Concurrent fetch without limit or max pages, using default page ceiling")
		}
	}

	pages := make([]page, 0, maxPages)
	for i := 0; i < maxPages; i++ {
		pageLimit := reqCap
		if opts.Limit > 0 {
			remaining := opts.Limit - i*reqCap
			if remaining <= 0 {
				break
			}
			pageLimit = min(reqCap, remaining)
		}
		pages = append(pages, page{
			offset: opts.Offset + i*reqCap,
			limit:  pageLimit,
		})
	}
	return pages
}
