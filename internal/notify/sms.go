package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxSMSLength = 1600

// SMSConfig configures the Twilio REST adapter.
type SMSConfig struct {
	AccountSID          string
	AuthToken           string
	FromNumber          string
	MessagingServiceSID string
	BaseURL             string
	RatePerSecond       float64
	Timeout             time.Duration
}

// SMSSender sends and schedules text messages through Twilio.
type SMSSender struct {
	cfg     SMSConfig
	format  Formatter
	client  *http.Client
	limiter *rate.Limiter
}

// NewSMSSender creates a new SMS sender. Missing credentials are
// reported per call as ErrChannelUnavailable.
func NewSMSSender(cfg SMSConfig, format Formatter) *SMSSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &SMSSender{
		cfg:     cfg,
		format:  format,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (s *SMSSender) Channel() string { return ChannelSMS }

type twilioMessage struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Text renders the SMS body for msg.
func (s *SMSSender) Text(msg Message) string {
	text := fmt.Sprintf("REMINDER: %s - %s (due %s)", msg.Title, msg.Body, s.format.Due(msg.DueAt))
	if r := []rune(text); len(r) > maxSMSLength {
		text = string(r[:maxSMSLength-3]) + "..."
	}
	return text
}

func (s *SMSSender) Send(ctx context.Context, to string, msg Message) (Receipt, error) {
	if err := s.ready(false); err != nil {
		return Receipt{}, err
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("Body", s.Text(msg))
	s.setSender(form)

	m, err := s.post(ctx, s.messagesURL(), form)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Channel: ChannelSMS, Ref: m.SID, Status: m.Status}, nil
}

// ScheduleAt asks Twilio to deliver the message at when. It needs a
// messaging service SID.
func (s *SMSSender) ScheduleAt(ctx context.Context, to string, msg Message, when time.Time) (string, error) {
	if err := s.ready(true); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("Body", s.Text(msg))
	form.Set("MessagingServiceSid", s.cfg.MessagingServiceSID)
	form.Set("SendAt", when.UTC().Format(time.RFC3339))
	form.Set("ScheduleType", "fixed")

	m, err := s.post(ctx, s.messagesURL(), form)
	if err != nil {
		return "", err
	}
	return m.SID, nil
}

// Cancel cancels a scheduled message by SID.
func (s *SMSSender) Cancel(ctx context.Context, sid string) error {
	if err := s.ready(false); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("Status", "canceled")

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages/%s.json",
		s.cfg.BaseURL, url.PathEscape(s.cfg.AccountSID), url.PathEscape(sid))
	_, err := s.post(ctx, endpoint, form)
	return err
}

// Configured reports whether immediate sends are possible.
func (s *SMSSender) Configured() bool { return s.ready(false) == nil }

func (s *SMSSender) ready(scheduling bool) error {
	if s.cfg.AccountSID == "" || s.cfg.AuthToken == "" {
		return fmt.Errorf("%w: twilio credentials not configured", ErrChannelUnavailable)
	}
	if scheduling && s.cfg.MessagingServiceSID == "" {
		return fmt.Errorf("%w: scheduled sms needs a messaging service sid", ErrChannelUnavailable)
	}
	if s.cfg.FromNumber == "" && s.cfg.MessagingServiceSID == "" {
		return fmt.Errorf("%w: no sms sender number configured", ErrChannelUnavailable)
	}
	return nil
}

func (s *SMSSender) setSender(form url.Values) {
	if s.cfg.MessagingServiceSID != "" {
		form.Set("MessagingServiceSid", s.cfg.MessagingServiceSID)
		return
	}
	form.Set("From", s.cfg.FromNumber)
}

func (s *SMSSender) messagesURL() string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		s.cfg.BaseURL, url.PathEscape(s.cfg.AccountSID))
}

func (s *SMSSender) post(ctx context.Context, endpoint string, form url.Values) (*twilioMessage, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, transient(fmt.Errorf("sms rate limit wait: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build twilio request: %w", err)
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transient(fmt.Errorf("failed to call twilio: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transient(fmt.Errorf("failed to read twilio response: %w", err))
	}

	var m twilioMessage
	_ = json.Unmarshal(respBody, &m)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, transient(fmt.Errorf("twilio returned %d: %s", resp.StatusCode, m.Message))
	case resp.StatusCode >= 400:
		return nil, rejected("twilio %d (code %d): %s", resp.StatusCode, m.Code, m.Message)
	}

	return &m, nil
}
