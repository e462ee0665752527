package gateway

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"quiz-rewards-service/internal/domain"
)

const maxResponseBytes = 1 << 20

// Credentials are returned when an account is created.
type Credentials struct {
	AccountID string `json:"accountId"`
	AuthToken string `json:"authToken"`
}

// Snapshot is one authoritative read of an account and its ledger.
type Snapshot struct {
	Account      domain.Account       `json:"account"`
	Transactions []domain.Transaction `json:"transactions"`
}

// Ack is the status/message pair of a write.
type Ack struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Withdrawal acknowledges a debit request.
type Withdrawal struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
}

// AccountUpdate is a partial update; nil fields are not sent and stay
// unchanged server-side.
type AccountUpdate struct {
	Credit          *decimal.Decimal `json:"credit,omitempty"`
	CreditNote      string           `json:"credit_note,omitempty"`
	QuizClaimed     *bool            `json:"quiz_claimed,omitempty"`
	Verified        *bool            `json:"terabox_verified,omitempty"`
	PayoutID        *string          `json:"upi_id,omitempty"`
	TaskID          string           `json:"task_id,omitempty"`
	TaskPerformedAt *time.Time       `json:"task_performed_at,omitempty"`
	ShareIncrement  int              `json:"share_increment,omitempty"`
}

// Client talks to the remote account API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	location   *time.Location
	requestID  func() string
}

// Option customizes a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit throttles outbound calls; rps <= 0 disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLocation sets the zone of gateway timestamps that carry none.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.location = loc
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a gateway client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:    zap.NewNop(),
		location:  time.UTC,
		requestID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateAccount registers a new participant, crediting referralCode's owner if set.
func (c *Client) CreateAccount(ctx context.Context, referralCode string) (Credentials, error) {
	body := map[string]string{}
	if referralCode != "" {
		body["referral_code"] = referralCode
	}
	var data struct {
		UserID flexString `json:"user_id"`
		Token  flexString `json:"token"`
	}
	if _, err := c.postJSON(ctx, "create account", "/account/create", body, nil, &data); err != nil {
		return Credentials{}, err
	}
	if data.UserID == "" {
		return Credentials{}, &TransportError{Op: "create account", Err: errors.New("response has no user id")}
	}
	return Credentials{AccountID: string(data.UserID), AuthToken: string(data.Token)}, nil
}

// GetAccount reads the account and its full transaction list.
func (c *Client) GetAccount(ctx context.Context, accountID string) (Snapshot, error) {
	var data wireSnapshot
	path := "/account/" + url.PathEscape(accountID)
	if _, err := c.do(ctx, "get account", http.MethodGet, path, nil, "", nil, &data); err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		Account:      data.User.toDomain(c.location),
		Transactions: make([]domain.Transaction, 0, len(data.Transactions)),
	}
	if snap.Account.ID == "" {
		snap.Account.ID = accountID
	}
	for _, tx := range data.Transactions {
		snap.Transactions = append(snap.Transactions, tx.toDomain(c.location))
	}
	return snap, nil
}

// UpdateAccount applies a partial update.
func (c *Client) UpdateAccount(ctx context.Context, accountID string, update AccountUpdate) (Ack, error) {
	path := "/account/" + url.PathEscape(accountID) + "/update"
	msg, err := c.postJSON(ctx, "update account", path, update, nil, nil)
	if err != nil {
		return Ack{}, err
	}
	return Ack{Status: statusSuccess, Message: msg}, nil
}

// IncrementReferralClick bumps the click counter of the code's owner.
func (c *Client) IncrementReferralClick(ctx context.Context, code string) (Ack, error) {
	msg, err := c.postJSON(ctx, "referral click", "/referral/click", map[string]string{"code": code}, nil, nil)
	if err != nil {
		return Ack{}, err
	}
	return Ack{Status: statusSuccess, Message: msg}, nil
}

// RequestWithdrawal asks the gateway to debit amount for payout.
func (c *Client) RequestWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal) (Withdrawal, error) {
	path := "/account/" + url.PathEscape(accountID) + "/withdraw"
	headers := map[string]string{"X-Request-ID": c.requestID()}
	body := map[string]string{"amount": amount.StringFixed(2)}
	var data struct {
		TransactionID flexString `json:"transaction_id"`
	}
	if _, err := c.postJSON(ctx, "withdraw", path, body, headers, &data); err != nil {
		return Withdrawal{}, err
	}
	return Withdrawal{Status: statusSuccess, TransactionID: string(data.TransactionID)}, nil
}

// SubmitTaskProof uploads a screenshot proving a task was done.
func (c *Client) SubmitTaskProof(ctx context.Context, accountID, taskID, filename string, file io.Reader) (Ack, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("task_id", taskID); err != nil {
		return Ack{}, errors.Wrap(err, "write task id")
	}
	part, err := form.CreateFormFile("proof", filename)
	if err != nil {
		return Ack{}, errors.Wrap(err, "create form file")
	}
	if _, err := io.Copy(part, file); err != nil {
		return Ack{}, errors.Wrap(err, "copy proof")
	}
	if err := form.Close(); err != nil {
		return Ack{}, errors.Wrap(err, "close form")
	}

	path := "/account/" + url.PathEscape(accountID) + "/proof"
	msg, err := c.do(ctx, "submit proof", http.MethodPost, path, &buf, form.FormDataContentType(), nil, nil)
	if err != nil {
		return Ack{}, err
	}
	return Ack{Status: statusSuccess, Message: msg}, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, body any, headers map[string]string, out any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", errors.Wrapf(err, "%s: marshal request", op)
	}
	return c.do(ctx, op, http.MethodPost, path, bytes.NewReader(payload), "application/json", headers, out)
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, headers map[string]string, out any) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &TransportError{Op: op, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return "", &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("gateway request failed", zap.String("op", op), zap.Error(err))
		return "", &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	c.logger.Debug("gateway call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errors.New("unexpected status")
		if decodeErr == nil && env.Message != "" {
			msg = errors.New(env.Message)
		}
		return "", &TransportError{Op: op, StatusCode: resp.StatusCode, Err: msg}
	}
	if decodeErr != nil {
		return "", &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.Wrap(decodeErr, "malformed response")}
	}
	if !strings.EqualFold(env.Status, statusSuccess) {
		return "", &RemoteError{Op: op, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return env.Message, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return "", &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.Wrap(err, "malformed data")}
	}
	return env.Message, nil
}
