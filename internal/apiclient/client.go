// Package apiclient issues write requests against whichever backend the
// router resolves for the target directory and session.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mkotake/fleetview/internal/model"
)

// Resolver picks the base address for a write. Resolution never fails; worst
// case it answers the fixed fallback address.
type Resolver interface {
	ResolveBaseURL(directory, sessionID string) string
}

const defaultUnaryTimeout = 10 * time.Second

type Client struct {
	resolver     Resolver
	client       *http.Client
	unaryTimeout time.Duration
}

func New(resolver Resolver) *Client {
	return NewWithClient(resolver, &http.Client{})
}

func NewWithClient(resolver Resolver, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		resolver:     resolver,
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	switch {
	case code != "" && message != "":
		return fmt.Sprintf("%s: %s", code, message)
	case code != "":
		return fmt.Sprintf("http %d: %s", e.StatusCode, code)
	case message != "":
		return fmt.Sprintf("http %d: %s", e.StatusCode, message)
	default:
		return fmt.Sprintf("http %d", e.StatusCode)
	}
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ListSessions fetches the sessions a backend already holds; used to seed the
// synchronizer when a stream first connects.
func (c *Client) ListSessions(ctx context.Context, directory string) ([]model.Session, error) {
	body, err := c.request(ctx, directory, "", http.MethodGet, "/session", nil)
	if err != nil {
		return nil, err
	}
	var sessions []model.Session
	if err := json.Unmarshal(body, &sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return sessions, nil
}

func (c *Client) CreateSession(ctx context.Context, directory, title string) (model.Session, error) {
	req := struct {
		Title string `json:"title,omitempty"`
	}{Title: title}
	body, err := c.request(ctx, directory, "", http.MethodPost, "/session", req)
	if err != nil {
		return model.Session{}, err
	}
	var sess model.Session
	if err := json.Unmarshal(body, &sess); err != nil {
		return model.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

type promptPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SendPrompt submits a user prompt to the backend that owns the session.
func (c *Client) SendPrompt(ctx context.Context, directory, sessionID, text string) (model.Message, error) {
	if strings.TrimSpace(sessionID) == "" {
		return model.Message{}, fmt.Errorf("session id is required")
	}
	req := struct {
		Parts []promptPart `json:"parts"`
	}{Parts: []promptPart{{Type: "text", Text: text}}}

	path := "/session/" + url.PathEscape(sessionID) + "/message"
	body, err := c.request(ctx, directory, sessionID, http.MethodPost, path, req)
	if err != nil {
		return model.Message{}, err
	}
	var resp struct {
		Info model.Message `json:"info"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return resp.Info, nil
}

func (c *Client) AbortSession(ctx context.Context, directory, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	path := "/session/" + url.PathEscape(sessionID) + "/abort"
	_, err := c.request(ctx, directory, sessionID, http.MethodPost, path, nil)
	return err
}

func (c *Client) ArchiveSession(ctx context.Context, directory, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	path := "/session/" + url.PathEscape(sessionID) + "/archive"
	_, err := c.request(ctx, directory, sessionID, http.MethodPost, path, nil)
	return err
}

func (c *Client) request(ctx context.Context, directory, sessionID, method, path string, body any) ([]byte, error) {
	base := c.resolver.ResolveBaseURL(directory, sessionID)
	u := strings.TrimRight(base, "/") + path

	reqCtx := ctx
	if c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}

	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var env errorEnvelope
		if err := json.Unmarshal(payload, &env); err == nil && env.Error.Code != "" {
			return nil, &RequestError{
				StatusCode: resp.StatusCode,
				Code:       env.Error.Code,
				Message:    env.Error.Message,
			}
		}
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	return payload, nil
}
