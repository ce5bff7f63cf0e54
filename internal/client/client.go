package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"consensus-simulator/consensus/fork"
	"consensus-simulator/consensus/pos"
	"consensus-simulator/consensus/pow"
	"consensus-simulator/internal/types"
)

// APIError возвращается для любого ответа не 2xx.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("simulator returned %d: %s", e.StatusCode, e.Message)
}

// envelope повторяет ответ сервиса, Data декодируется в каждом вызове.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// Client работает с запущенным сервисом симуляции.
type Client struct {
	http *resty.Client
}

// New создает клиент для сервиса по адресу baseURL. Повторяются только GET
// при сетевых ошибках: каждый POST меняет состояние движка, и POST,
// прерванный по таймауту, мог уже выполниться.
func New(baseURL string, timeout time.Duration, retries int) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(retryable)

	return &Client{http: c}
}

func retryable(r *resty.Response, err error) bool {
	if err == nil || r == nil || r.Request == nil {
		return false
	}
	return r.Request.Method == http.MethodGet
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (string, error) {
	var env envelope

	req := c.http.R().
		SetContext(ctx).
		SetResult(&env).
		SetError(&env)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return "", errors.Wrapf(err, "%s %s failed", method, path)
	}
	if resp.IsError() {
		msg := env.Error
		if msg == "" {
			msg = resp.Status()
		}
		return "", &APIError{StatusCode: resp.StatusCode(), Message: msg}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", errors.Wrapf(err, "failed to decode %s response", path)
		}
	}
	return env.Message, nil
}

func (c *Client) Mine(ctx context.Context) (*pow.MiningResult, error) {
	var res pow.MiningResult
	if _, err := c.do(ctx, http.MethodPost, "/api/pow/mine", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Blockchain(ctx context.Context) ([]types.Block, error) {
	var blocks []types.Block
	_, err := c.do(ctx, http.MethodGet, "/api/pow/blockchain", nil, &blocks)
	return blocks, err
}

func (c *Client) Miners(ctx context.Context) ([]types.Miner, error) {
	var miners []types.Miner
	_, err := c.do(ctx, http.MethodGet, "/api/pow/miners", nil, &miners)
	return miners, err
}

func (c *Client) AddMiner(ctx context.Context, name string, hashPower int) (types.Miner, error) {
	var m types.Miner
	body := map[string]any{"name": name, "hash_power": hashPower}
	_, err := c.do(ctx, http.MethodPost, "/api/pow/add-miner", body, &m)
	return m, err
}

func (c *Client) ResetPoW(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/pow/reset", nil, nil)
	return err
}

func (c *Client) Validate(ctx context.Context) (pos.ValidationResult, error) {
	var res pos.ValidationResult
	_, err := c.do(ctx, http.MethodPost, "/api/pos/validate", nil, &res)
	return res, err
}

func (c *Client) ValidateMany(ctx context.Context, count int) (*pos.BatchSummary, error) {
	var summary pos.BatchSummary
	if _, err := c.do(ctx, http.MethodPost, "/api/pos/validate-multiple", map[string]int{"count": count}, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Client) Validators(ctx context.Context) ([]pos.ValidatorStats, error) {
	var stats []pos.ValidatorStats
	_, err := c.do(ctx, http.MethodGet, "/api/pos/validators", nil, &stats)
	return stats, err
}

func (c *Client) AddValidator(ctx context.Context, name string, stake int) (types.Validator, error) {
	var v types.Validator
	body := map[string]any{"name": name, "stake": stake}
	_, err := c.do(ctx, http.MethodPost, "/api/pos/add-validator", body, &v)
	return v, err
}

func (c *Client) ResetPoS(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/pos/reset", nil, nil)
	return err
}

func (c *Client) CreateFork(ctx context.Context) (types.ForkEvent, error) {
	var event types.ForkEvent
	_, err := c.do(ctx, http.MethodPost, "/api/fork/create", nil, &event)
	return event, err
}

func (c *Client) ResolveFork(ctx context.Context) (*fork.Resolution, error) {
	var res fork.Resolution
	if _, err := c.do(ctx, http.MethodPost, "/api/fork/resolve", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Chains(ctx context.Context) ([]types.ChainSnapshot, error) {
	var chains []types.ChainSnapshot
	_, err := c.do(ctx, http.MethodGet, "/api/fork/chains", nil, &chains)
	return chains, err
}

func (c *Client) ForkHistory(ctx context.Context) ([]types.ForkEvent, error) {
	var history []types.ForkEvent
	_, err := c.do(ctx, http.MethodGet, "/api/fork/history", nil, &history)
	return history, err
}

// ForkTree возвращает дерево веток текстом.
func (c *Client) ForkTree(ctx context.Context) (string, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/api/fork/tree")
	if err != nil {
		return "", errors.Wrap(err, "GET /api/fork/tree failed")
	}
	if resp.IsError() {
		return "", &APIError{StatusCode: resp.StatusCode(), Message: resp.Status()}
	}
	return resp.String(), nil
}

func (c *Client) ResetFork(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/fork/reset", nil, nil)
	return err
}

func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	return err
}
