package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type qbooksClient struct {
	baseURL   string
	accountId string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

func newQbooksClient(accountId string, apiKey string) (*qbooksClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("QBOOKS_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.qbooks.example.com"
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("QBOOKS_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "Authorization"
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("qbooks api key is empty")
	}
	rateLimitPerMin := int64(30)
	if v := strings.TrimSpace(os.Getenv("QBOOKS_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &qbooksClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accountId: accountId,
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}, nil
}

type qbooksListResponse struct {
	Data       []json.RawMessage `json:"data"`
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

func (r qbooksListResponse) records() []json.RawMessage {
	if len(r.Data) > 0 {
		return r.Data
	}
	return r.Items
}

func (c *qbooksClient) do(ctx context.Context, method string, path string, params url.Values, payload any) ([]byte, error) {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHdr, "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if c.accountId != "" {
		req.Header.Set("X-Account-Id", c.accountId)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qbooks api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *qbooksClient) getList(ctx context.Context, path string, params url.Values) (qbooksListResponse, error) {
	body, err := c.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return qbooksListResponse{}, err
	}
	var parsed qbooksListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return qbooksListResponse{}, err
	}
	return parsed, nil
}

func (c *qbooksClient) getObject(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

func (c *qbooksClient) postObject(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, nil, payload)
}

func (c *qbooksClient) putObject(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, path, nil, payload)
}

func (c *qbooksClient) deleteObject(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}
