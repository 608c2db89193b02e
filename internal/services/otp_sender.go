package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"phonereset/internal/models"
)

// OTPSender delivers an issued code out of band. Issuance never fails
// because delivery did.
type OTPSender interface {
	SendOTP(ctx context.Context, user *models.User, phone, code string, expiresAt time.Time) error
}

const (
	defaultSMSBaseURL = "https://www.smslocal.com/dev/bulkV2"
	defaultSMSTimeout = 15 * time.Second
)

// SMSClient sends codes through an HTTP SMS gateway (route=otp).
type SMSClient struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

func NewSMSClient(apiKey, baseURL, sender string) *SMSClient {
	if baseURL == "" {
		baseURL = defaultSMSBaseURL
	}
	return &SMSClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultSMSTimeout},
	}
}

func (c *SMSClient) SendOTP(ctx context.Context, _ *models.User, phone, code string, _ time.Time) error {
	if c.APIKey == "" {
		return errors.New("sms: API key not configured")
	}
	body := map[string]any{
		"route":     "otp",
		"numbers":   phone,
		"variables": code,
	}
	if c.Sender != "" {
		body["sender_id"] = c.Sender
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// MailOTPSender e-mails the code to the account's address. TTL is the
// issuer's code lifetime; when zero the remaining time is taken from
// expiresAt against Now.
type MailOTPSender struct {
	Mailer EmailSender
	TTL    time.Duration
	Now    func() time.Time
}

func (m *MailOTPSender) SendOTP(_ context.Context, user *models.User, _ string, code string, expiresAt time.Time) error {
	if user == nil || user.Email == "" {
		return errors.New("mail: user has no email address")
	}
	body := fmt.Sprintf("Your password reset code is %s.\n\nIt expires in %d minutes. If you did not request a reset, ignore this message.", code, m.minutesLeft(expiresAt))
	return m.Mailer.Send(user.Email, "Your password reset code", body)
}

func (m *MailOTPSender) minutesLeft(expiresAt time.Time) int {
	left := m.TTL
	if left <= 0 {
		now := time.Now
		if m.Now != nil {
			now = m.Now
		}
		left = expiresAt.Sub(now())
	}
	minutes := int(left.Round(time.Minute) / time.Minute)
	if minutes <= 0 {
		minutes = 1
	}
	return minutes
}

// LogOTPSender records that a code was issued without revealing it. Used
// when no delivery channel is configured.
type LogOTPSender struct {
	Log logrus.FieldLogger
}

func (l *LogOTPSender) SendOTP(_ context.Context, user *models.User, phone, _ string, expiresAt time.Time) error {
	l.Log.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"phone":      MaskPhone(phone),
		"expires_at": expiresAt,
	}).Warn("no otp delivery channel configured")
	return nil
}

// MultiSender tries every sender and joins their errors.
type MultiSender []OTPSender

func (m MultiSender) SendOTP(ctx context.Context, user *models.User, phone, code string, expiresAt time.Time) error {
	var errs []error
	for _, s := range m {
		if err := s.SendOTP(ctx, user, phone, code, expiresAt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DevOTPStore keeps the latest code per normalized phone in memory so it
// can be read back through the dev endpoint. Never enabled in production.
type DevOTPStore struct {
	mu   sync.Mutex
	m    map[string]devOTP
	nowF func() time.Time
}

type devOTP struct {
	code      string
	expiresAt time.Time
}

func NewDevOTPStore() *DevOTPStore {
	return &DevOTPStore{
		m:    make(map[string]devOTP),
		nowF: time.Now,
	}
}

func (s *DevOTPStore) SendOTP(_ context.Context, _ *models.User, phone, code string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[phone] = devOTP{code: code, expiresAt: expiresAt}
	return nil
}

// Get returns the code for phone if present and not expired.
func (s *DevOTPStore) Get(phone string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[phone]
	if !ok {
		return "", false
	}
	if s.nowF().After(e.expiresAt) {
		delete(s.m, phone)
		return "", false
	}
	return e.code, true
}
