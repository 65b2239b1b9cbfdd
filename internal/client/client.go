// Package client talks to a running sync daemon over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/httpapi"
	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/Guizzs26/tdee-sync/internal/queue"
	"github.com/Guizzs26/tdee-sync/internal/service"
)

// APIError is a non-2xx answer from the daemon
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	base string
	http *http.Client
}

// New returns a client for the daemon at addr. A bare ":8080" is read as
// localhost.
func New(addr string, timeout time.Duration) *Client {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Status(ctx context.Context) (service.Status, error) {
	var st service.Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

func (c *Client) Sync(ctx context.Context) (service.DrainResult, error) {
	var res service.DrainResult
	err := c.do(ctx, http.MethodPost, "/sync", nil, &res)
	return res, err
}

func (c *Client) Pull(ctx context.Context) (httpapi.PullResponse, error) {
	var res httpapi.PullResponse
	err := c.do(ctx, http.MethodPost, "/pull", nil, &res)
	return res, err
}

func (c *Client) SetOnline(ctx context.Context, online bool) error {
	return c.do(ctx, http.MethodPut, "/network", httpapi.NetworkRequest{Online: &online}, nil)
}

func (c *Client) Queue(ctx context.Context) ([]models.QueuedOperation, error) {
	var ops []models.QueuedOperation
	err := c.do(ctx, http.MethodGet, "/queue", nil, &ops)
	return ops, err
}

func (c *Client) ClearQueue(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/queue", nil, nil)
}

// PruneQueue removes stuck operations. maxRetries <= 0 defers to the daemon.
func (c *Client) PruneQueue(ctx context.Context, maxRetries int) ([]models.QueuedOperation, error) {
	path := "/queue/prune"
	if maxRetries > 0 {
		path += "?max=" + strconv.Itoa(maxRetries)
	}
	var ops []models.QueuedOperation
	err := c.do(ctx, http.MethodPost, path, nil, &ops)
	return ops, err
}

func (c *Client) FilterQueue(ctx context.Context) (queue.FilterResult, error) {
	var res queue.FilterResult
	err := c.do(ctx, http.MethodPost, "/queue/filter", nil, &res)
	return res, err
}

// Requeue replays op at the tail of the daemon's queue and returns its new id
func (c *Client) Requeue(ctx context.Context, op models.QueuedOperation) (string, error) {
	var res httpapi.RequeueResponse
	err := c.do(ctx, http.MethodPost, "/queue/requeue", op, &res)
	return res.OperationID, err
}

func (c *Client) Errors(ctx context.Context) ([]models.ErrorEntry, error) {
	var entries []models.ErrorEntry
	err := c.do(ctx, http.MethodGet, "/errors", nil, &entries)
	return entries, err
}

func (c *Client) ClearErrors(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/errors", nil, nil)
}

// SaveEntry stores rec through the daemon's write path. The daemon queues an
// update when the date already exists and a create otherwise.
func (c *Client) SaveEntry(ctx context.Context, rec models.DailyRecord) (service.WriteResult, error) {
	body := httpapi.EntryRequest{Weight: rec.Weight, Calories: rec.Calories, Notes: rec.Notes}
	var resp httpapi.WriteResponse
	if err := c.do(ctx, http.MethodPut, "/entries/"+url.PathEscape(rec.Date), body, &resp); err != nil {
		return service.WriteResult{}, err
	}
	return toWriteResult(resp), nil
}

func (c *Client) DeleteEntry(ctx context.Context, date string) (service.WriteResult, error) {
	var resp httpapi.WriteResponse
	if err := c.do(ctx, http.MethodDelete, "/entries/"+url.PathEscape(date), nil, &resp); err != nil {
		return service.WriteResult{}, err
	}
	return toWriteResult(resp), nil
}

// Entries lists local records in [from, to]. Empty bounds are open.
func (c *Client) Entries(ctx context.Context, from, to string) ([]models.DailyRecord, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	path := "/entries"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var recs []models.DailyRecord
	err := c.do(ctx, http.MethodGet, path, nil, &recs)
	return recs, err
}

// ListAll returns every local record keyed by date
func (c *Client) ListAll(ctx context.Context) (map[string]models.DailyRecord, error) {
	recs, err := c.Entries(ctx, "", "")
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.DailyRecord, len(recs))
	for _, r := range recs {
		out[r.Date] = r
	}
	return out, nil
}

func toWriteResult(resp httpapi.WriteResponse) service.WriteResult {
	res := service.WriteResult{Record: resp.Record, Queued: resp.Queued, OperationID: resp.OperationID}
	if resp.QueueError != "" {
		res.QueueErr = errors.New(resp.QueueError)
	}
	return res
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e httpapi.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
