package mygas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/jameshartig/mygas/pkg/log"
	"github.com/jameshartig/mygas/pkg/types"
)

const (
	loginPath    = "auth/login"
	accountsPath = "accounts"
)

// Client is the HTTP implementation of API. A Client is safe for concurrent
// use; the login token is shared by all calls.
type Client struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter

	mu       sync.Mutex
	username string
	password string
	token    string
}

var _ API = (*Client)(nil)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResult struct {
	Token string `json:"token"`
}

type errorResult struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Login logs in and caches the token.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	if c.username == "" {
		return fmt.Errorf("%w: missing username", ErrAuth)
	}
	if c.password == "" {
		return fmt.Errorf("%w: missing password", ErrAuth)
	}

	var res loginResult
	err := c.send(ctx, http.MethodPost, loginPath, loginRequest{
		Identifier: c.username,
		Password:   c.password,
	}, "", &res)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "mygas login failed", slog.Any("error", err))
		return fmt.Errorf("login failed: %w", err)
	}
	if res.Token == "" {
		return fmt.Errorf("%w: login returned no token", ErrAuth)
	}
	log.Ctx(ctx).DebugContext(ctx, "mygas login success", slog.String("username", c.username))
	c.token = res.Token
	return nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		if err := c.loginLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.token, nil
}

// do sends an authenticated request. An expired token is replaced once.
func (c *Client) do(ctx context.Context, method, endpoint string, body, dest any) error {
	// we try up to 2 times because we might have an expired token
	for i := 0; i < 2; i++ {
		token, err := c.currentToken(ctx)
		if err != nil {
			return err
		}
		err = c.send(ctx, method, endpoint, body, token, dest)
		if errors.Is(err, ErrAuth) && i == 0 {
			log.Ctx(ctx).DebugContext(ctx, "mygas token expired", slog.String("endpoint", endpoint))
			c.mu.Lock()
			if c.token == token {
				c.token = ""
			}
			c.mu.Unlock()
			continue
		}
		return err
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any, token string, dest any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er errorResult
		// the body is not always JSON
		_ = json.Unmarshal(respBody, &er)
		log.Ctx(ctx).ErrorContext(
			ctx,
			"mygas api error",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("message", er.Message),
		)
		return &APIError{Status: resp.StatusCode, Code: er.Code, Message: er.Message}
	}

	if dest == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, dest); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode mygas response", slog.String("endpoint", endpoint), slog.Any("error", err))
		return fmt.Errorf("failed to decode mygas response: %w", err)
	}
	return nil
}

// GetAccounts implements API.
func (c *Client) GetAccounts(ctx context.Context) (*types.AccountsInfo, error) {
	var res *types.AccountsInfo
	if err := c.do(ctx, http.MethodGet, accountsPath, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetELSInfo implements API.
func (c *Client) GetELSInfo(ctx context.Context, elsID int) (*types.ELSInfo, error) {
	var res *types.ELSInfo
	if err := c.do(ctx, http.MethodGet, "els/"+strconv.Itoa(elsID), nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetLSPUInfo implements API.
func (c *Client) GetLSPUInfo(ctx context.Context, lspuID int) (types.LSPUInfo, error) {
	var res types.LSPUInfo
	if err := c.do(ctx, http.MethodGet, "lspu/"+strconv.Itoa(lspuID), nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

type sendReadingsRequest struct {
	Equipment string  `json:"equipment"`
	Value     float64 `json:"value"`
	ELSID     *int    `json:"elsId,omitempty"`
}

// SendReadings implements API.
func (c *Client) SendReadings(ctx context.Context, lspuID int, counterUUID string, value float64, elsID *int) ([]types.SubmitResult, error) {
	var res []types.SubmitResult
	endpoint := "lspu/" + strconv.Itoa(lspuID) + "/indications/send"
	err := c.do(ctx, http.MethodPost, endpoint, sendReadingsRequest{
		Equipment: counterUUID,
		Value:     value,
		ELSID:     elsID,
	}, &res)
	if err != nil {
		return nil, err
	}
	return res, nil
}

type receiptRequest struct {
	Date          string `json:"date"`
	Email         string `json:"email,omitempty"`
	AccountNumber string `json:"accountNumber"`
	AccountID     int    `json:"accountId"`
	ELS           bool   `json:"els"`
}

// GetReceipt implements API.
func (c *Client) GetReceipt(ctx context.Context, req types.ReceiptRequest) (*types.Receipt, error) {
	var res *types.Receipt
	err := c.do(ctx, http.MethodPost, "receipt", receiptRequest{
		Date:          req.Date,
		Email:         req.Email,
		AccountNumber: req.AccountNumber,
		AccountID:     req.AccountID,
		ELS:           req.ELS,
	}, &res)
	if err != nil {
		return nil, err
	}
	return res, nil
}
