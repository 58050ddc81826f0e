package rest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"ftx-arb-bot/internal/ratelimit"
)

// ExchangeError is an API-level failure: the exchange answered but reported
// success=false.
type ExchangeError struct {
	Message string
}

func (e *ExchangeError) Error() string {
	return "exchange error: " + e.Message
}

type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
}

type Client struct {
	baseURL    string
	basePath   string
	apiKey     string
	apiSecret  string
	subaccount string
	http       *http.Client
	limiter    *ratelimit.Limiter
	log        *zap.Logger
	nowMillis  func() int64
}

func New(baseURL, apiKey, apiSecret, subaccount string, timeout time.Duration, limiter *ratelimit.Limiter, log *zap.Logger) *Client {
	basePath := ""
	if u, err := url.Parse(baseURL); err == nil {
		basePath = u.Path
	}
	return &Client{
		baseURL:    baseURL,
		basePath:   basePath,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		subaccount: subaccount,
		http: &http.Client{
			Timeout: timeout,
		},
		limiter:   limiter,
		log:       log,
		nowMillis: func() int64 { return time.Now().UnixMilli() },
	}
}

// Get performs an unauthenticated request against a public endpoint.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, params, nil, false, out)
}

func (c *Client) AuthGet(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, params, nil, true, out)
}

func (c *Client) AuthPost(ctx context.Context, path string, body interface{}, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, nil, body, true, out)
}

func (c *Client) AuthDelete(ctx context.Context, path string, body interface{}, out interface{}) error {
	return c.do(ctx, http.MethodDelete, path, nil, body, true, out)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body interface{}, signed bool, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}
	}
	pathWithQuery := path
	if len(params) > 0 {
		pathWithQuery = path + "?" + params.Encode()
	}
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathWithQuery, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		c.sign(req, method, pathWithQuery, payload)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeEnvelope(resp, out)
}

// sign attaches the authentication headers. The canonical string is
// "{ts_ms}{METHOD}{path_with_query}{body}" digested with HMAC-SHA256.
func (c *Client) sign(req *http.Request, method, pathWithQuery string, body []byte) {
	ts := c.nowMillis()
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte(method))
	mac.Write([]byte(c.basePath + pathWithQuery))
	mac.Write(body)
	req.Header.Set("FTX-KEY", c.apiKey)
	req.Header.Set("FTX-SIGN", hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("FTX-TS", strconv.FormatInt(ts, 10))
	if c.subaccount != "" {
		req.Header.Set("FTX-SUBACCOUNT", url.QueryEscape(c.subaccount))
	}
}

func decodeEnvelope(resp *http.Response, out interface{}) error {
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
		}
		return err
	}
	if !env.Success {
		return &ExchangeError{Message: env.Error}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}
