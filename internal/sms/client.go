package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"prediction-auth/internal/config"
)

// Provider status taxonomy. The gateway reports exactly these codes.
const (
	StatusSuccess            = 1
	StatusInvalidAPIKey      = 101
	StatusInvalidTemplate    = 103
	StatusInvalidMobile      = 104
	StatusInsufficientCredit = 105
	StatusServerError        = 500
)

// SendRequest is the provider's verify-template payload.
type SendRequest struct {
	Mobile     string      `json:"mobile"`
	TemplateID int         `json:"templateId"`
	Parameters []Parameter `json:"parameters"`
}

type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Response is the provider's envelope. Data is nil on failure.
type Response struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		MessageID int64   `json:"messageId"`
		Cost      float64 `json:"cost"`
	} `json:"data"`
}

// Client sends OTP codes through an sms.ir-style HTTP gateway.
type Client struct {
	apiURL     string
	apiKey     string
	templateID int
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		apiURL:     cfg.SMS.APIURL,
		apiKey:     cfg.SMS.APIKey,
		templateID: cfg.SMS.TemplateID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// SendOTP delivers a code to the given phone. Transport failures and
// non-2xx responses are reported as a server-error response rather than an
// error, so callers handle one taxonomy.
func (c *Client) SendOTP(ctx context.Context, phone, code string) (*Response, error) {
	mobile := NormalizePhone(phone)

	payload, err := json.Marshal(SendRequest{
		Mobile:     mobile,
		TemplateID: c.templateID,
		Parameters: []Parameter{{Name: "Code", Value: code}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SMS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("SMS gateway unreachable",
			zap.String("mobile", mobile),
			zap.Error(err))
		return &Response{Status: StatusServerError, Message: "Failed to send SMS"}, nil
	}
	defer resp.Body.Close()

	var smsResp Response
	if err := json.NewDecoder(resp.Body).Decode(&smsResp); err != nil {
		c.logger.Error("Malformed SMS gateway response",
			zap.String("mobile", mobile),
			zap.Int("http_status", resp.StatusCode),
			zap.Error(err))
		return &Response{Status: StatusServerError, Message: "Failed to send SMS"}, nil
	}

	if smsResp.Status == StatusSuccess {
		c.logger.Info("SMS sent",
			zap.String("mobile", mobile))
	} else {
		c.logger.Warn("SMS gateway returned non-success status",
			zap.String("mobile", mobile),
			zap.Int("status", smsResp.Status),
			zap.String("message", smsResp.Message))
	}

	return &smsResp, nil
}

// IsSuccess reports whether the gateway accepted the message.
func IsSuccess(resp *Response) bool {
	return resp != nil && resp.Status == StatusSuccess && resp.Data != nil
}

// StatusMessage maps a gateway status to a stable description.
func StatusMessage(status int) string {
	switch status {
	case StatusInvalidAPIKey:
		return "invalid gateway credentials"
	case StatusInvalidTemplate:
		return "invalid message template"
	case StatusInvalidMobile:
		return "invalid destination number"
	case StatusInsufficientCredit:
		return "insufficient gateway balance"
	case StatusServerError:
		return "gateway server error"
	default:
		return "unknown gateway error"
	}
}

// NormalizePhone strips separators, a leading zero, and 98/+98 country-code
// prefixes. The gateway expects 9xxxxxxxxx.
func NormalizePhone(phone string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, phone)

	switch {
	case strings.HasPrefix(cleaned, "+98"):
		cleaned = cleaned[3:]
	case strings.HasPrefix(cleaned, "98") && len(cleaned) == 12:
		cleaned = cleaned[2:]
	}
	cleaned = strings.TrimPrefix(cleaned, "0")

	return cleaned
}
