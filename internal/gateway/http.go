package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fitflow/fitflow/internal/types"
)

// TokenSource supplies the current bearer token. Token acquisition and
// refresh belong to the auth collaborator, not this package.
type TokenSource func() (string, error)

// HTTPGateway talks to the FitFlow API over HTTP.
type HTTPGateway struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

// NewHTTP creates a gateway against baseURL. Every request carries a
// bounded timeout; a timed-out call surfaces as a TransientError.
func NewHTTP(baseURL string, tokens TokenSource, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPGateway{
		baseURL: baseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
	}
}

// Ping checks connectivity to the API. Used by the connectivity monitor.
func (g *HTTPGateway) Ping(ctx context.Context) error {
	resp, err := g.do(ctx, http.MethodGet, "/api/health", nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Submit implements Gateway.
func (g *HTTPGateway) Submit(ctx context.Context, m types.Mutation, idempotencyKey string) (Confirmation, error) {
	var (
		method, path string
		body         any
	)

	switch p := m.Payload.(type) {
	case types.MealPayload:
		method, path, body = http.MethodPost, "/api/meals", p.Meal
	case types.WaterPayload:
		method, path, body = http.MethodPost, "/api/daily/water", p
	case types.TaskCompletePayload:
		method, path = http.MethodPatch, "/api/meals/tasks/"+url.PathEscape(p.TaskID)
		body = map[string]types.TaskStatus{"status": p.Status}
	case types.ProfileUpdatePayload:
		method, path, body = http.MethodPut, "/api/profile", p.Profile
	case types.MealDeletePayload:
		method, path = http.MethodDelete, "/api/meals/"+url.PathEscape(p.MealID)
	default:
		return Confirmation{}, &ValidationError{Message: fmt.Sprintf("unsupported mutation kind %q", m.Kind)}
	}

	resp, err := g.do(ctx, method, path, body, idempotencyKey)
	if err != nil {
		return Confirmation{}, err
	}
	defer resp.Body.Close()

	// The confirmation body is optional; an empty or unparsable body just
	// means no authoritative fields to apply.
	var conf Confirmation
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&conf); err != nil {
		return Confirmation{}, nil
	}
	return conf, nil
}

// FetchProfile implements Gateway.
func (g *HTTPGateway) FetchProfile(ctx context.Context) (types.Profile, error) {
	var out types.Profile
	err := g.getJSON(ctx, "/api/profile", &out)
	return out, err
}

// FetchDailyLog implements Gateway. An empty date means today.
func (g *HTTPGateway) FetchDailyLog(ctx context.Context, date string) (types.DailyLog, error) {
	path := "/api/daily"
	if date != "" {
		path += "?date=" + url.QueryEscape(date)
	}
	var out types.DailyLog
	err := g.getJSON(ctx, path, &out)
	return out, err
}

// FetchMeals implements Gateway.
func (g *HTTPGateway) FetchMeals(ctx context.Context, limit, offset int) ([]types.Meal, error) {
	path := "/api/meals/history?limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)
	var out struct {
		Meals []types.Meal `json:"meals"`
	}
	if err := g.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Meals, nil
}

// FetchTasks implements Gateway.
func (g *HTTPGateway) FetchTasks(ctx context.Context) ([]types.Task, error) {
	var out struct {
		Tasks []types.Task `json:"tasks"`
	}
	if err := g.getJSON(ctx, "/api/meals/tasks", &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (g *HTTPGateway) getJSON(ctx context.Context, path string, out any) error {
	resp, err := g.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// do sends one request and classifies the response into the error
// taxonomy. Any transport-level failure is transient; the status code
// decides the rest.
func (g *HTTPGateway) do(ctx context.Context, method, path string, body any, idempotencyKey string) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	if g.tokens != nil {
		token, err := g.tokens()
		if err != nil {
			return nil, &AuthError{}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, &AuthError{Status: resp.StatusCode}
	case resp.StatusCode == http.StatusConflict:
		// Idempotency-key replay: the server already applied this
		// mutation, which is success from our side.
		return resp, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, &TransientError{Status: resp.StatusCode}
	default:
		msg := readErrorMessage(resp.Body)
		resp.Body.Close()
		return nil, &ValidationError{Status: resp.StatusCode, Message: msg}
	}
}

func readErrorMessage(r io.Reader) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body); err != nil {
		return ""
	}
	return body.Detail
}
