package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stepsnap/stepsnap/internal/session"
	"github.com/stepsnap/stepsnap/internal/ws"
)

// HTTPClient makes REST calls to the server.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8765").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Session fetches /api/session. It returns nil when no session is active.
func (c *HTTPClient) Session() (*session.CaptureSession, error) {
	var p ws.SessionPayload
	if err := c.get("/api/session", &p); err != nil {
		return nil, err
	}
	return p.Session, nil
}

// Health fetches /api/health.
func (c *HTTPClient) Health() (*ws.Health, error) {
	var h ws.Health
	if err := c.get("/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Send posts one request envelope to /api/messages. A response with status
// "error" is returned as an error.
func (c *HTTPClient) Send(typ ws.RequestType, payload any) (*ws.Response, error) {
	req := ws.Request{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		req.Payload = raw
	}
	var resp ws.Response
	if err := c.post("/api/messages", req, &resp); err != nil {
		return nil, err
	}
	if resp.Status == ws.StatusError {
		return &resp, errors.New(resp.Error)
	}
	return &resp, nil
}

func (c *HTTPClient) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) post(path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST %s: %d %s", path, resp.StatusCode, string(respBody))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
