package remoteapi

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

	"github.com/coder/websocket"
)

// Client is the thin net/http + coder/websocket implementation of
// RemoteAPI, matching the endpoints in spec.md §6.1 exactly — no
// gRPC, since the teacher's grpc transport referenced a proto package
// that does not exist anywhere in the retrieved copy of the repo (see
// DESIGN.md).
type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  func() string
}

// NewClient builds a Client against baseURL (e.g. "https://sync.example.com").
// authToken is called for every request so a caller can rotate the
// bearer token (e.g. after a proactive refresh) without reconstructing
// the client.
func NewClient(baseURL string, httpClient *http.Client, authToken func() string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, authToken: authToken}
}

func (c *Client) url(format string, args ...any) string {
	return c.baseURL + fmt.Sprintf(format, args...)
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if c.authToken != nil {
		if tok := c.authToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, u string, body any, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		var ve VersionConflictError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&ve); decodeErr == nil {
			return resp, &ve
		}
		return resp, &VersionConflictError{}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return resp, &AuthError{}
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return resp, &HTTPError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// AuthError marks a 401 response, handled by the coordinator as the
// Authentication error kind (fatal, prompt re-register).
type AuthError struct{}

func (e *AuthError) Error() string { return "remoteapi: authentication failed" }

// HTTPError is a catch-all for non-2xx/401/409 responses, treated as
// Network-transient (retryable).
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("remoteapi: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) CreateFile(ctx context.Context, req CreateOrUpdateRequest) (FileMetadata, error) {
	var out FileMetadata
	_, err := c.doJSON(ctx, http.MethodPost, c.url("/files"), req, &out)
	return out, err
}

func (c *Client) UpdateFile(ctx context.Context, path string, req CreateOrUpdateRequest) (FileMetadata, error) {
	var out FileMetadata
	_, err := c.doJSON(ctx, http.MethodPut, c.url("/files/%s", url.PathEscape(path)), req, &out)
	return out, err
}

func (c *Client) GetFile(ctx context.Context, path string) (FileMetadata, error) {
	var out FileMetadata
	_, err := c.doJSON(ctx, http.MethodGet, c.url("/files/%s", url.PathEscape(path)), nil, &out)
	return out, err
}

func (c *Client) ListFiles(ctx context.Context, prefix string) ([]FileMetadata, error) {
	u := c.url("/files")
	if prefix != "" {
		u += "?prefix=" + url.QueryEscape(prefix)
	}
	var out []FileMetadata
	_, err := c.doJSON(ctx, http.MethodGet, u, nil, &out)
	return out, err
}

func (c *Client) Changes(ctx context.Context, since string) (ChangesResponse, error) {
	u := c.url("/changes")
	if since != "" {
		u += "?since=" + url.QueryEscape(since)
	}
	var out ChangesResponse
	_, err := c.doJSON(ctx, http.MethodGet, u, nil, &out)
	return out, err
}

func (c *Client) DeleteFile(ctx context.Context, path string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, c.url("/files/%s", url.PathEscape(path)), nil, nil)
	return err
}

func (c *Client) HeadChunk(ctx context.Context, hash string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodHead, c.url("/chunks/%s", hash), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &HTTPError{StatusCode: resp.StatusCode}
	}
}

func (c *Client) PutChunk(ctx context.Context, hash string, encrypted []byte) error {
	req, err := c.newRequest(ctx, http.MethodPost, c.url("/chunks/%s", hash), bytes.NewReader(encrypted))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(encrypted))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return nil
}

func (c *Client) GetChunk(ctx context.Context, hash string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.url("/chunks/%s", hash), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return io.ReadAll(resp.Body)
}

// wsURL rewrites the http(s) base URL to ws(s) for the /ws/changes
// endpoint.
func (c *Client) wsURL() string {
	u := c.baseURL + "/ws/changes"
	switch {
	case len(u) >= 5 && u[:5] == "https":
		return "wss" + u[5:]
	case len(u) >= 4 && u[:4] == "http":
		return "ws" + u[4:]
	default:
		return u
	}
}

// Subscribe opens the /ws/changes push channel and invokes onMessage for
// every server frame, reconnecting with exponential backoff (1s..60s)
// on any drop, until ctx is cancelled. It blocks until ctx is done.
func (c *Client) Subscribe(ctx context.Context, onMessage func(PushMessage)) error {
	backoff := time.Second
	const maxBackoff = 60 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.subscribeOnce(ctx, onMessage)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (c *Client) subscribeOnce(ctx context.Context, onMessage func(PushMessage)) error {
	header := http.Header{}
	if c.authToken != nil {
		if tok := c.authToken(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	conn, _, err := websocket.Dial(ctx, c.wsURL(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg PushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		onMessage(msg)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`))
		}
	}
}

// FormatCursor renders an integer cursor value as the opaque string the
// Changes endpoint expects.
func FormatCursor(n int64) string { return strconv.FormatInt(n, 10) }

// Healthy reports whether the server answers GET /files (satisfies
// sync.Reachability, used by the retry subsystem's WaitForReachable).
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := c.newRequest(ctx, http.MethodGet, c.url("/files"), nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
