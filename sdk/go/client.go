package filingkitsdk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal filingkit HTTP API client.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. token is the shared secret or a
// token minted from it.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Timeout: 30 * time.Second,
	}
}

// Document is one generated artifact.
type Document struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	DataURL  string `json:"data_url"`
	Method   string `json:"method"`
	Variant  string `json:"variant"`
	Size     int    `json:"size"`
}

// Bytes decodes the base64 data URL payload.
func (d Document) Bytes() ([]byte, error) {
	_, payload, ok := strings.Cut(d.DataURL, ";base64,")
	if !ok || !strings.HasPrefix(d.DataURL, "data:") {
		return nil, errors.New("document has no base64 data url")
	}
	return base64.StdEncoding.DecodeString(payload)
}

// Result is the generation envelope.
type Result struct {
	Success    bool                `json:"success"`
	Error      string              `json:"error,omitempty"`
	Documents  map[string]Document `json:"documents"`
	StoredKeys []string            `json:"stored_keys,omitempty"`
}

// Form describes a catalog variant.
type Form struct {
	Variant       string   `json:"variant"`
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Filename      string   `json:"filename"`
	HasTemplate   bool     `json:"has_template"`
	EntityTypes   []string `json:"entity_types"`
	Jurisdictions []string `json:"jurisdictions"`
}

// Object is a stored blob's metadata.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health checks the service.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

// Generate submits intake data. A rejected intake returns the Result
// together with an *APIError.
func (c *Client) Generate(ctx context.Context, intake map[string]string, store bool) (Result, error) {
	endpoint := "documents/generate"
	if store {
		endpoint += "?store=true"
	}
	var resp Result
	err := c.do(ctx, http.MethodPost, endpoint, intake, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Body != "" {
		_ = json.Unmarshal([]byte(apiErr.Body), &resp)
		if apiErr.Message == "" {
			apiErr.Message = resp.Error
		}
	}
	return resp, err
}

// Forms lists the form catalog.
func (c *Client) Forms(ctx context.Context) ([]Form, error) {
	var resp struct {
		Items []Form `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "forms", nil, &resp)
	return resp.Items, err
}

// ListObjects lists stored objects under prefix.
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	var resp struct {
		Items []Object `json:"items"`
	}
	endpoint := "storage/objects"
	if prefix != "" {
		endpoint += "?prefix=" + url.QueryEscape(prefix)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// PutObject stores data under key.
func (c *Client) PutObject(ctx context.Context, key, contentType string, data []byte) (Object, error) {
	body := map[string]any{
		"key":          key,
		"content_type": contentType,
		"data":         data,
	}
	var resp Object
	err := c.do(ctx, http.MethodPost, "storage/objects", body, &resp)
	return resp, err
}

// GetObject fetches an object and its bytes.
func (c *Client) GetObject(ctx context.Context, key string) (Object, []byte, error) {
	var resp struct {
		Object
		Data []byte `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "storage/objects/"+url.PathEscape(key), nil, &resp)
	return resp.Object, resp.Data, err
}

// DeleteObject removes an object.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "storage/objects/"+url.PathEscape(key), nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error json.RawMessage `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil && len(env.Error) > 0 {
			var detail struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if json.Unmarshal(env.Error, &detail) == nil {
				apiErr.Code = detail.Code
				apiErr.Message = detail.Message
			}
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if !strings.HasSuffix(base, "/v0") {
		base += "/v0"
	}
	return base
}
