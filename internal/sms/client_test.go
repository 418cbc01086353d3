package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"prediction-auth/internal/config"
)

func newTestClient(url string) *Client {
	cfg := &config.Config{}
	cfg.SMS.APIURL = url
	cfg.SMS.APIKey = "test-key"
	cfg.SMS.TemplateID = 12345
	return NewClient(cfg, zap.NewNop())
}

func TestSendOTPSuccess(t *testing.T) {
	var gotReq SendRequest
	var gotAPIKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("x-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"status":1,"message":"ok","data":{"messageId":98765,"cost":1.0}}`)); err != nil {
			t.Fatalf("failed to write response: %v", err)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.SendOTP(context.Background(), "09123456789", "482913")
	if err != nil {
		t.Fatalf("SendOTP returned error: %v", err)
	}

	if !IsSuccess(resp) {
		t.Fatalf("expected success response, got status %d", resp.Status)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("expected api key header 'test-key', got %q", gotAPIKey)
	}
	if gotReq.Mobile != "9123456789" {
		t.Errorf("expected normalized mobile 9123456789, got %q", gotReq.Mobile)
	}
	if gotReq.TemplateID != 12345 {
		t.Errorf("expected template id 12345, got %d", gotReq.TemplateID)
	}
	if len(gotReq.Parameters) != 1 || gotReq.Parameters[0].Name != "Code" || gotReq.Parameters[0].Value != "482913" {
		t.Errorf("unexpected parameters: %+v", gotReq.Parameters)
	}
}

func TestSendOTPGatewayFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"status":105,"message":"insufficient credit"}`)); err != nil {
			t.Fatalf("failed to write response: %v", err)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.SendOTP(context.Background(), "09123456789", "111111")
	if err != nil {
		t.Fatalf("SendOTP returned error: %v", err)
	}

	if IsSuccess(resp) {
		t.Fatal("expected failure response")
	}
	if resp.Status != StatusInsufficientCredit {
		t.Errorf("expected status %d, got %d", StatusInsufficientCredit, resp.Status)
	}
}

func TestSendOTPTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := newTestClient(server.URL)
	resp, err := client.SendOTP(context.Background(), "09123456789", "222222")
	if err != nil {
		t.Fatalf("SendOTP returned error: %v", err)
	}
	if resp.Status != StatusServerError {
		t.Errorf("expected server error status, got %d", resp.Status)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"09123456789", "9123456789"},
		{"+989123456789", "9123456789"},
		{"989123456789", "9123456789"},
		{"0912 345-6789", "9123456789"},
		{"9123456789", "9123456789"},
	}

	for _, tt := range tests {
		if got := NormalizePhone(tt.input); got != tt.expected {
			t.Errorf("NormalizePhone(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}
