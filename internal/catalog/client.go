package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/catalog-adapter/internal/errsink"
	"github.com/Checker-Finance/catalog-adapter/internal/httpclient"
	"github.com/Checker-Finance/catalog-adapter/internal/metrics"
	"github.com/Checker-Finance/catalog-adapter/internal/rate"
	"github.com/Checker-Finance/catalog-adapter/pkg/model"
)

// PageKind classifies the outcome of one page fetch.
type PageKind int

const (
	PageItems PageKind = iota
	PageExhausted
	PageFailed
)

func (k PageKind) String() string {
	switch k {
	case PageItems:
		return "items"
	case PageExhausted:
		return "exhausted"
	default:
		return "failed"
	}
}

// PageResult is what FetchPage returns. Err is set only for PageFailed and is a
// *model.NetworkError, a *model.ParseError or the context error. Malformed counts
// array elements that could not be decoded as items; each was already reported.
type PageResult struct {
	Kind      PageKind
	Page      int
	URL       string
	Status    int
	Items     []RawItem
	Malformed int
	Err       error
}

// ClientConfig describes the source catalog endpoint.
type ClientConfig struct {
	Endpoint   string
	CategoryID int
	PageSize   int
	Timeout    time.Duration
	RetryMax   int
}

// Client fetches catalog pages. Failures are reported to the error sink before returning.
type Client struct {
	logger  *zap.Logger
	cfg     ClientConfig
	exec    *httpclient.Executor
	sink    errsink.Reporter
	rateKey string
}

// NewClient builds a page fetcher with its own timeout-bound http.Client.
func NewClient(logger *zap.Logger, cfg ClientConfig, rateMgr *rate.Manager, sink errsink.Reporter) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = errsink.Nop{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}

	rateKey := "catalog"
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		rateKey = u.Host
	}

	return &Client{
		logger:  logger,
		cfg:     cfg,
		exec:    httpclient.New(logger, rateMgr, httpClient, cfg.RetryMax, "catalog"),
		sink:    sink,
		rateKey: rateKey,
	}
}

// SetBackoff overrides the retry delay schedule.
func (c *Client) SetBackoff(fn func(attempt int) time.Duration) {
	c.exec.SetBackoff(fn)
}

// PageURL returns the request URL for page.
func (c *Client) PageURL(page int) string {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		q := url.Values{}
		setPageParams(q, c.cfg.CategoryID, c.cfg.PageSize, page)
		return fmt.Sprintf("%s?%s", c.cfg.Endpoint, q.Encode())
	}
	// keep any fixed parameters configured on the endpoint
	q := u.Query()
	setPageParams(q, c.cfg.CategoryID, c.cfg.PageSize, page)
	u.RawQuery = q.Encode()
	return u.String()
}

func setPageParams(q url.Values, categoryID, pageSize, page int) {
	q.Set("cat_id", strconv.Itoa(categoryID))
	q.Set("page_size", strconv.Itoa(pageSize))
	q.Set("page_number", strconv.Itoa(page))
}

// FetchPage performs one GET for page and classifies the outcome.
func (c *Client) FetchPage(ctx context.Context, page int) PageResult {
	start := time.Now()
	pageURL := c.PageURL(page)
	res := c.fetch(ctx, page, pageURL)

	result := res.Kind.String()
	if res.Kind == PageFailed {
		var pe *model.ParseError
		if errors.As(res.Err, &pe) {
			result = "parse_error"
		} else {
			result = "network_error"
		}
	}
	metrics.IncCatalogRequest(result)
	metrics.ObserveDuration(metrics.CatalogRequestDuration, start, result)

	switch res.Kind {
	case PageFailed:
		c.logger.Warn("catalog.page_failed",
			zap.Int("page", page),
			zap.String("url", pageURL),
			zap.Int("status", res.Status),
			zap.Error(res.Err))
	case PageExhausted:
		c.logger.Info("catalog.page_exhausted", zap.Int("page", page))
	default:
		c.logger.Debug("catalog.page_fetched",
			zap.Int("page", page),
			zap.Int("items", len(res.Items)),
			zap.Int("malformed", res.Malformed),
			zap.Duration("elapsed", time.Since(start)))
	}
	return res
}

func (c *Client) fetch(ctx context.Context, page int, pageURL string) PageResult {
	res := PageResult{Kind: PageFailed, Page: page, URL: pageURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return c.failed(ctx, res, &model.NetworkError{URL: pageURL, Err: err})
	}
	req.Header.Set("Accept", "application/json")

	var body PageResponse
	status, err := c.exec.DoJSON(ctx, req, c.rateKey, &body)
	res.Status = status
	if err != nil {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		var de *httpclient.DecodeError
		if errors.As(err, &de) {
			return c.failed(ctx, res, &model.ParseError{
				URL:    pageURL,
				Status: status,
				Detail: "response body is not valid JSON: " + de.Err.Error(),
				Err:    err,
			})
		}
		return c.failed(ctx, res, &model.NetworkError{Status: status, URL: pageURL, Err: err})
	}

	if body.Data == nil || body.Data.Products == nil || !isJSONArray(body.Data.Products.Items) {
		return c.failed(ctx, res, &model.ParseError{
			URL:    pageURL,
			Status: status,
			Detail: "data.products.items is missing or not an array",
		})
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(body.Data.Products.Items, &elems); err != nil {
		return c.failed(ctx, res, &model.ParseError{
			URL:    pageURL,
			Status: status,
			Detail: "data.products.items is malformed: " + err.Error(),
			Err:    err,
		})
	}
	if len(elems) == 0 {
		res.Kind = PageExhausted
		return res
	}

	res.Kind = PageItems
	res.Items = make([]RawItem, 0, len(elems))
	for i, elem := range elems {
		var item RawItem
		if err := json.Unmarshal(elem, &item); err != nil {
			res.Malformed++
			c.sink.ReportError(ctx, &model.ParseError{
				URL:    pageURL,
				Status: status,
				Detail: fmt.Sprintf("item %d is malformed: %v", i, err),
				Err:    err,
			})
			continue
		}
		res.Items = append(res.Items, item)
	}
	return res
}

func (c *Client) failed(ctx context.Context, res PageResult, err error) PageResult {
	res.Kind = PageFailed
	res.Err = err
	c.sink.ReportError(ctx, err)
	return res
}
