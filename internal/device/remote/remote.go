// Package remote is the device's client for the remote vote store. Writes
// surface failures; summary reads never fail.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/okian/mapthewalls/internal/domain/aggregate"
	"github.com/okian/mapthewalls/internal/domain/model"
	"github.com/okian/mapthewalls/internal/domain/types"
	"github.com/okian/mapthewalls/pkg/logger"
	"github.com/okian/mapthewalls/pkg/metrics"
)

// VoterHeader carries the device voter id.
const VoterHeader = "X-Voter-ID"

const (
	defaultRetryMax       = 3
	defaultRequestTimeout = 5 * time.Second
	maxErrorBody          = 4 << 10
)

// Client talks to the server HTTP API as one device.
type Client struct {
	base    *url.URL
	voterID string
	http    *retryablehttp.Client
	log     logger.Logger
}

// New creates a client for baseURL acting as voterID.
func New(baseURL, voterID string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: invalid base url %q", baseURL)
	}
	if err := model.ValidateVoterID(voterID); err != nil {
		return nil, err
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = defaultRetryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = defaultRequestTimeout
	// hand the last response back so its status and body can be decoded
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{base: u, voterID: voterID, http: rc, log: logger.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	rc.Logger = leveled{log: c.log}
	return c, nil
}

// VoterID returns the id sent with every request.
func (c *Client) VoterID() string { return c.voterID }

// UpsertVote writes the supplied fields of in for this device.
func (c *Client) UpsertVote(ctx context.Context, in model.VoteInput) error {
	_, err := c.upsert(ctx, in)
	return err
}

// UpsertVoteRow is UpsertVote returning the stored row.
func (c *Client) UpsertVoteRow(ctx context.Context, in model.VoteInput) (model.VoteRow, error) {
	return c.upsert(ctx, in)
}

func (c *Client) upsert(ctx context.Context, in model.VoteInput) (model.VoteRow, error) {
	var row model.VoteRow
	if err := in.Validate(); err != nil {
		return row, err
	}
	body := map[string]any{}
	if in.Rating != nil {
		body["rating"] = *in.Rating
	}
	if in.Verdict != nil {
		body["verdict"] = *in.Verdict
	}
	if in.ClearVerdict {
		body["clear_verdict"] = true
	}
	if err := c.do(ctx, http.MethodPut, spotPath(in.SpotID, "votes"), nil, body, &row); err != nil {
		metrics.RecordRemoteWriteError()
		return row, &RemoteWriteError{SpotID: in.SpotID, Err: err}
	}
	return row, nil
}

// LoadVoteSummary returns the spot's authoritative summary, or the empty
// summary when the read fails.
func (c *Client) LoadVoteSummary(ctx context.Context, spotID string) model.VoteSummary {
	var sum model.VoteSummary
	if err := c.do(ctx, http.MethodGet, spotPath(spotID, "votes", "summary"), nil, nil, &sum); err != nil {
		metrics.RecordSummaryDegraded()
		c.log.Warn(ctx, "vote summary unavailable", logger.String("spot_id", spotID), logger.Error(err))
		return aggregate.Empty()
	}
	return sum
}

// LoadMyVote returns this device's row, or nulls when it has none.
func (c *Client) LoadMyVote(ctx context.Context, spotID string) (model.MyVote, error) {
	var mine model.MyVote
	if err := c.do(ctx, http.MethodGet, spotPath(spotID, "votes", "me"), nil, nil, &mine); err != nil {
		return model.MyVote{}, fmt.Errorf("load my vote: %w", err)
	}
	return mine, nil
}

// ListSpots returns up to limit spots, newest first. Zero uses the server
// default.
func (c *Client) ListSpots(ctx context.Context, limit int) ([]model.Spot, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out types.SpotList
	if err := c.do(ctx, http.MethodGet, "/spots", q, nil, &out); err != nil {
		return nil, fmt.Errorf("list spots: %w", err)
	}
	return out.Spots, nil
}

// GetSpot returns one spot with its summary.
func (c *Client) GetSpot(ctx context.Context, id string) (types.SpotView, error) {
	var out types.SpotView
	if err := c.do(ctx, http.MethodGet, spotPath(id), nil, nil, &out); err != nil {
		return out, fmt.Errorf("get spot: %w", err)
	}
	return out, nil
}

// CreateSpot submits a new spot.
func (c *Client) CreateSpot(ctx context.Context, in model.NewSpot) (model.Spot, error) {
	var out model.Spot
	if err := c.do(ctx, http.MethodPost, "/spots", nil, in, &out); err != nil {
		return out, fmt.Errorf("create spot: %w", err)
	}
	return out, nil
}

func spotPath(id string, rest ...string) string {
	parts := append([]string{"/spots", url.PathEscape(id)}, rest...)
	return strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = q.Encode()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(VoterHeader, c.voterID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&payload) == nil {
			apiErr.Code, apiErr.Message = payload.Code, payload.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// leveled adapts the package logger to retryablehttp.LeveledLogger.
type leveled struct {
	log logger.Logger
}

func (l leveled) fields(kv []any) []logger.Field {
	out := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

func (l leveled) Error(msg string, kv ...any) {
	l.log.Error(context.Background(), msg, l.fields(kv)...)
}
func (l leveled) Info(msg string, kv ...any) {
	l.log.Debug(context.Background(), msg, l.fields(kv)...)
}
func (l leveled) Debug(msg string, kv ...any) {
	l.log.Debug(context.Background(), msg, l.fields(kv)...)
}
func (l leveled) Warn(msg string, kv ...any) {
	l.log.Warn(context.Background(), msg, l.fields(kv)...)
}
