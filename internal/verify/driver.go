package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/imaginegw/imagine-gateway-go/internal/model"
	"github.com/imaginegw/imagine-gateway-go/internal/util"
)

const (
	birthDatePath = "/rest/auth/set-birth-date"

	// The upstream accepts any adult birth date; fixed value keeps the
	// handshake deterministic.
	assertedBirthDate = "2001-01-01T16:00:00.000Z"

	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"

	handshakeTimeout = 30 * time.Second
)

// Driver performs the one-time age/identity handshake for a session.
// It emulates a browser request carrying the session cookie plus the
// out-of-band Cloudflare clearance token; without a valid clearance the
// upstream challenges the request and the handshake fails.
type Driver struct {
	baseURL     string
	cfClearance string
	client      *http.Client
}

func NewDriver(baseURL, cfClearance, proxyURL string) (*Driver, error) {
	transport := &http.Transport{}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	return &Driver{
		baseURL:     baseURL,
		cfClearance: cfClearance,
		client: &http.Client{
			Transport: transport,
			Timeout:   handshakeTimeout,
		},
	}, nil
}

// Verify asserts an adult birth date for the session. Any rejection is
// returned with the upstream response captured verbatim so the session
// record carries a useful failure reason.
func (d *Driver) Verify(ctx context.Context, session *model.Session) error {
	if d.cfClearance == "" {
		return fmt.Errorf("cf_clearance not configured")
	}

	log.Info().Str("sessionId", session.ID).Msg("starting verification handshake")

	if err := d.post(ctx, session, birthDatePath, map[string]any{
		"birthDate": assertedBirthDate,
	}); err != nil {
		return fmt.Errorf("birth date assertion: %w", err)
	}

	log.Info().Str("sessionId", session.ID).Msg("verification handshake succeeded")
	return nil
}

func (d *Driver) post(ctx context.Context, session *model.Session, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Origin", d.baseURL)
	req.Header.Set("Referer", d.baseURL+"/")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", fmt.Sprintf("sso=%s; sso-rw=%s; cf_clearance=%s",
		session.Secret, session.Secret, d.cfClearance))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Keep the upstream's own words for diagnostics, bounded.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		log.Warn().
			Str("sessionId", session.ID).
			Str("secret", util.MaskSecret(session.Secret)).
			Int("status", resp.StatusCode).
			Str("path", path).
			Msg("verification call rejected")
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(snippet))
	}

	return nil
}
