package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crm-webhook-engine/internal/core/domain"
	"crm-webhook-engine/internal/core/ports"
	"crm-webhook-engine/pkg/logger"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const defaultDeliveryTimeout = 8 * time.Second

// DeliveryConfig controls the outbound request.
type DeliveryConfig struct {
	Timeout         time.Duration
	SignatureHeader string
	EventHeader     string
	UserAgent       string
	MaxResponseBody int
}

func (c DeliveryConfig) withDefaults() DeliveryConfig {
	if c.Timeout <= 0 {
		c.Timeout = defaultDeliveryTimeout
	}
	if c.SignatureHeader == "" {
		c.SignatureHeader = "X-Webhook-Signature"
	}
	if c.EventHeader == "" {
		c.EventHeader = "X-Webhook-Event"
	}
	if c.MaxResponseBody < 0 {
		c.MaxResponseBody = 0
	}
	return c
}

// restyDeliveryExecutor implements ports.DeliveryExecutor with a single
// bounded POST per call.
type restyDeliveryExecutor struct {
	client *resty.Client
	signer ports.Signer
	cfg    DeliveryConfig
	log    zerolog.Logger
}

// NewDeliveryExecutor creates an executor. A nil client gets a fresh resty
// client; retries and redirects are always disabled.
func NewDeliveryExecutor(client *resty.Client, signer ports.Signer, cfg DeliveryConfig, log zerolog.Logger) ports.DeliveryExecutor {
	cfg = cfg.withDefaults()
	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(cfg.Timeout)
	}
	client.SetRetryCount(0)
	// A redirect is the receiver's answer, not an instruction to re-send the payload elsewhere.
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))

	return &restyDeliveryExecutor{
		client: client,
		signer: signer,
		cfg:    cfg,
		log:    logger.Component(log, "delivery_executor"),
	}
}

// Deliver serialises and signs the payload once, then POSTs the exact signed
// bytes. Transport failures and non-2xx responses are reported in the result.
func (e *restyDeliveryExecutor) Deliver(ctx context.Context, url, secretKey, event string, data any, sentAt time.Time) *domain.Attempt {
	attempt := &domain.Attempt{Event: event, SentAt: sentAt}

	payload, err := domain.CanonicalPayload(event, data, sentAt)
	if err != nil {
		attempt.Result = domain.DeliveryResult{Error: err.Error()}
		return attempt
	}
	attempt.Payload = payload
	attempt.Signature = e.signer.Sign(secretKey, payload)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req := e.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Content-Type", "application/json").
		SetHeader(e.cfg.SignatureHeader, attempt.Signature).
		SetHeader(e.cfg.EventHeader, event).
		SetBody([]byte(payload))
	if e.cfg.UserAgent != "" {
		req.SetHeader("User-Agent", e.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := req.Post(url)
	if err != nil {
		attempt.Result = domain.DeliveryResult{
			DurationMs: time.Since(start).Milliseconds(),
			Error:      e.transportError(ctx, err),
		}
		e.log.Debug().Err(err).Str("url", url).Str("event", event).Msg("webhook: transport failure")
		return attempt
	}

	body := e.readBody(resp)
	status := resp.StatusCode()
	attempt.Result = domain.DeliveryResult{
		OK:           status >= http.StatusOK && status < http.StatusMultipleChoices,
		Status:       &status,
		StatusText:   statusText(resp),
		ResponseBody: body,
		DurationMs:   time.Since(start).Milliseconds(),
	}

	e.log.Debug().
		Str("url", url).
		Str("event", event).
		Int("status", status).
		Int64("duration_ms", attempt.Result.DurationMs).
		Msg("webhook: response received")

	return attempt
}

func (e *restyDeliveryExecutor) transportError(ctx context.Context, err error) string {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Sprintf("request timed out after %s", e.cfg.Timeout)
	}
	return err.Error()
}

// readBody reads at most MaxResponseBody bytes and closes the body.
func (e *restyDeliveryExecutor) readBody(resp *resty.Response) string {
	raw := resp.RawBody()
	if raw == nil {
		return ""
	}
	defer raw.Close()

	if e.cfg.MaxResponseBody == 0 {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(raw, int64(e.cfg.MaxResponseBody)))
	// Log columns are text; drop bytes that are not UTF-8, including a rune cut by the limit.
	return strings.ToValidUTF8(string(b), "")
}

// statusText prefers the receiver's reason phrase over the canonical one.
func statusText(resp *resty.Response) string {
	code := resp.StatusCode()
	if reason := strings.TrimPrefix(resp.Status(), strconv.Itoa(code)+" "); reason != "" && reason != resp.Status() {
		return reason
	}
	return http.StatusText(code)
}
