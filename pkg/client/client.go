// Package client talks to the game server's JSON API. It satisfies
// predictor.Fetcher so a console can drive a Predictor with it.
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
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ownrealm/pkg/core"
	"ownrealm/pkg/types"
)

type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

// New returns a client for the server at base. Requests are paced to stay
// below the server's per-IP limit.
func New(base string) *Client {
	return &Client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(8, 16),
	}
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return core.Transient(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.Transient(err)
	}
	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// statusError turns a server reply back into the error kinds of pkg/core.
func statusError(code int, body []byte) error {
	var e apiError
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	switch code {
	case http.StatusBadRequest:
		return &core.ValidationError{Reason: msg}
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, core.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", msg, core.ErrConflict)
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return core.Transient(errors.New(msg))
	}
	return fmt.Errorf("server returned %d: %s", code, msg)
}

// --- Reads ---

type Status struct {
	WorldID     string    `json:"world_id"`
	ServerTime  time.Time `json:"server_time"`
	Tick        int64     `json:"tick"`
	Settlements int       `json:"settlements"`
	OpenQueue   int       `json:"open_queue_entries"`
	Traveling   int       `json:"traveling_orders"`
	Battles     int       `json:"battles"`
	Trades      int       `json:"trades"`
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &s)
	return s, err
}

// Sync fetches resources, rates and every queue in one call.
func (c *Client) Sync(ctx context.Context, settlementID int64) (types.SyncSnapshot, error) {
	var s types.SyncSnapshot
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/settlements/%d/sync", settlementID), nil, &s)
	return s, err
}

func (c *Client) Settlements(ctx context.Context) ([]types.Settlement, error) {
	var out []types.Settlement
	err := c.do(ctx, http.MethodGet, "/api/settlements", nil, &out)
	return out, err
}

func (c *Client) Settlement(ctx context.Context, id int64) (types.Settlement, error) {
	var out types.Settlement
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/settlements/%d", id), nil, &out)
	return out, err
}

func (c *Client) Queue(ctx context.Context, settlementID int64, st types.SubjectType) ([]types.QueueEntry, error) {
	var out []types.QueueEntry
	path := fmt.Sprintf("/api/settlements/%d/queue?type=%s", settlementID, url.QueryEscape(string(st)))
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Traveling(ctx context.Context, settlementID int64) ([]types.TravelOrder, error) {
	var out []types.TravelOrder
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/settlements/%d/travel", settlementID), nil, &out)
	return out, err
}

func (c *Client) Battles(ctx context.Context, settlementID int64) ([]types.BattleRecord, error) {
	var out []types.BattleRecord
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/settlements/%d/battles", settlementID), nil, &out)
	return out, err
}

func (c *Client) Trades(ctx context.Context, settlementID int64) ([]types.TradeRecord, error) {
	var out []types.TradeRecord
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/settlements/%d/trades", settlementID), nil, &out)
	return out, err
}

func (c *Client) Offers(ctx context.Context) ([]types.TradeOffer, error) {
	var out []types.TradeOffer
	err := c.do(ctx, http.MethodGet, "/api/offers", nil, &out)
	return out, err
}

// --- Actions ---

type EnqueueRequest struct {
	SubjectType string `json:"subject_type"`
	SubjectKey  string `json:"subject_key"`
	Count       int    `json:"count,omitempty"`
}

func (c *Client) Enqueue(ctx context.Context, settlementID int64, req EnqueueRequest) (types.QueueEntry, error) {
	var out types.QueueEntry
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/settlements/%d/queue", settlementID), req, &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, entryID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/queue/%d", entryID), nil, nil)
}

type AttackRequest struct {
	TargetID int64          `json:"target_id"`
	Units    map[string]int `json:"units"`
}

func (c *Client) Attack(ctx context.Context, originID int64, req AttackRequest) (types.TravelOrder, error) {
	var out types.TravelOrder
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/settlements/%d/attack", originID), req, &out)
	return out, err
}

type OfferRequest struct {
	SellerID  int64           `json:"seller_id"`
	Resources types.Resources `json:"resources"`
	Price     int             `json:"price"`
}

func (c *Client) CreateOffer(ctx context.Context, req OfferRequest) (types.TradeOffer, error) {
	var out types.TradeOffer
	err := c.do(ctx, http.MethodPost, "/api/offers", req, &out)
	return out, err
}

type AcceptRequest struct {
	BuyerID int64 `json:"buyer_id"`
}

func (c *Client) AcceptOffer(ctx context.Context, offerID, buyerID int64) (types.TravelOrder, error) {
	var out types.TravelOrder
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/offers/%d/accept", offerID), AcceptRequest{BuyerID: buyerID}, &out)
	return out, err
}

func (c *Client) CancelOffer(ctx context.Context, offerID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/offers/%d", offerID), nil, nil)
}

// SweepReport mirrors the server's sweep summary.
type SweepReport struct {
	Resolved int `json:"resolved"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

func (c *Client) Sweep(ctx context.Context) (SweepReport, error) {
	var out SweepReport
	err := c.do(ctx, http.MethodPost, "/api/sweep", nil, &out)
	return out, err
}
