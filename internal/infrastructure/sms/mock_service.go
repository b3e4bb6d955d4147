package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SMSService sends a text message and returns the provider message id.
type SMSService interface {
	SendSMS(ctx context.Context, to, message string) (messageID string, err error)
}

// ================================================
// MOCK SMS SERVICE (for development)
// ================================================

type MockSMSService struct{}

func NewMockSMSService() *MockSMSService {
	return &MockSMSService{}
}

func (s *MockSMSService) SendSMS(ctx context.Context, to, message string) (messageID string, err error) {
	log.Info().
		Str("to", to).
		Str("message", message).
		Msg("[MOCK] SMS sent successfully")

	return fmt.Sprintf("mock-sms-%s", uuid.NewString()), nil
}

// ================================================
// TWILIO SMS SERVICE (for production)
// ================================================

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

type TwilioSMSService struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	client     *http.Client
}

func NewTwilioSMSService(accountSID, authToken, fromNumber string) *TwilioSMSService {
	return &TwilioSMSService{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    twilioBaseURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (s *TwilioSMSService) SendSMS(ctx context.Context, to, message string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.fromNumber)
	form.Set("Body", message)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build twilio request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	var body twilioResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode twilio response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("twilio rejected message: %d %s", body.Code, body.Message)
	}
	return body.SID, nil
}
