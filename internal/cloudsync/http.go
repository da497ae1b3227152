package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUserNotFound is returned when the remote has no row for the user
var ErrUserNotFound = errors.New("user not found")

// HTTPRemote talks to a Supabase-style backend: PostgREST RPC functions for the
// point updates and the auth API for the signed-in user
type HTTPRemote struct {
	baseURL     string
	apiKey      string
	accessToken string
	client      *http.Client
}

// NewHTTPRemote creates a remote for baseURL. accessToken is the signed-in user's
// session token; without one CurrentUser reports nobody signed in.
func NewHTTPRemote(baseURL, apiKey, accessToken string) *HTTPRemote {
	return &HTTPRemote{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		accessToken: accessToken,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

type incrementRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Amount int64     `json:"amount"`
}

type mergeRequest struct {
	UserID      uuid.UUID        `json:"user_id"`
	StorePoints map[string]int64 `json:"store_points"`
}

type authUser struct {
	ID uuid.UUID `json:"id"`
}

// IncrementTotalPoints adds amount to the user's total on the server
func (h *HTTPRemote) IncrementTotalPoints(ctx context.Context, user uuid.UUID, amount int64) error {
	return h.rpc(ctx, "increment_total_points", incrementRequest{UserID: user, Amount: amount})
}

// MergeStorePoints adds each store's points to the user's per-store totals on the server
func (h *HTTPRemote) MergeStorePoints(ctx context.Context, user uuid.UUID, storePoints map[string]int64) error {
	return h.rpc(ctx, "merge_store_points", mergeRequest{UserID: user, StorePoints: storePoints})
}

// CurrentUser implements Identity using the auth API
func (h *HTTPRemote) CurrentUser(ctx context.Context) (uuid.UUID, bool, error) {
	if h.accessToken == "" {
		return uuid.Nil, false, nil
	}

	req, err := h.newRequest(ctx, http.MethodGet, "/auth/v1/user", nil)
	if err != nil {
		return uuid.Nil, false, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("calling auth API: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return uuid.Nil, false, nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return uuid.Nil, false, fmt.Errorf("auth API error (status %d): %s", resp.StatusCode, string(body))
	}

	var u authUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return uuid.Nil, false, fmt.Errorf("decoding user: %w", err)
	}
	if u.ID == uuid.Nil {
		return uuid.Nil, false, nil
	}
	return u.ID, true, nil
}

func (h *HTTPRemote) rpc(ctx context.Context, function string, body any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := h.newRequest(ctx, http.MethodPost, "/rest/v1/rpc/"+function, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", function, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", function, ErrUserNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s error (status %d): %s", function, resp.StatusCode, string(body))
	}
	return nil
}

func (h *HTTPRemote) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("apikey", h.apiKey)
	token := h.accessToken
	if token == "" {
		token = h.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}
