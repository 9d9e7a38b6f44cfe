package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

var ErrNotConfigured = errors.New("telephony REST client not configured")

type Config struct {
	AccountSID string
	AuthToken  string
	// FromNumber is the caller id for outbound calls.
	FromNumber string
	Logger     *slog.Logger
}

// callsAPI is the part of the Twilio REST API used for call control.
type callsAPI interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
	UpdateCall(sid string, params *twilioApi.UpdateCallParams) (*twilioApi.ApiV2010Call, error)
}

// Client places outbound calls and controls live ones over the Twilio REST API.
type Client struct {
	api    callsAPI
	from   string
	logger *slog.Logger
}

// NewClient returns nil when credentials are missing; a nil *Client reports ErrNotConfigured.
func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newClient(rest.Api, cfg)
}

func newClient(api callsAPI, cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, from: cfg.FromNumber, logger: logger}
}

// From is the caller id used for outbound calls.
func (c *Client) From() string {
	if c == nil {
		return ""
	}
	return c.from
}

// Dial places an outbound call whose audio is connected to streamURL. It returns the call id.
func (c *Client) Dial(ctx context.Context, to, streamURL string, params map[string]string) (string, error) {
	if c == nil {
		return "", ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(c.from) == "" {
		return "", fmt.Errorf("%w: caller id is not set", ErrNotConfigured)
	}
	doc, err := StreamResponse(streamURL, params)
	if err != nil {
		return "", fmt.Errorf("build twiml: %w", err)
	}

	p := &twilioApi.CreateCallParams{}
	p.SetTo(to)
	p.SetFrom(c.from)
	p.SetTwiml(doc)
	call, err := c.api.CreateCall(p)
	if err != nil {
		return "", fmt.Errorf("create call: %w", err)
	}
	if call == nil || call.Sid == nil {
		return "", errors.New("create call: response without sid")
	}
	c.logger.Info("outbound call placed", "call_id", *call.Sid, "to", to)
	return *call.Sid, nil
}

// Hangup completes a live call.
func (c *Client) Hangup(ctx context.Context, callID string) error {
	if c == nil {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p := &twilioApi.UpdateCallParams{}
	p.SetStatus("completed")
	if _, err := c.api.UpdateCall(callID, p); err != nil {
		return fmt.Errorf("hang up %s: %w", callID, err)
	}
	return nil
}

// Transfer replaces the call's instructions with a dial to number, which ends the media stream.
func (c *Client) Transfer(ctx context.Context, callID, number string) error {
	if c == nil {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := TransferResponse(number)
	if err != nil {
		return fmt.Errorf("build twiml: %w", err)
	}
	p := &twilioApi.UpdateCallParams{}
	p.SetTwiml(doc)
	if _, err := c.api.UpdateCall(callID, p); err != nil {
		return fmt.Errorf("transfer %s: %w", callID, err)
	}
	c.logger.Info("call transferred", "call_id", callID)
	return nil
}
