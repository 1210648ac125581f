// Package dgii talks to the tax authority: the signed-seed authentication
// handshake, e-CF submission, and delivery status polling. Tokens are cached
// per tenant with a single-flight guard.
package dgii

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/vmhowley/DigitBill-sub000/internal/model"
)

const (
	testBaseURL = "https://ecf.dgii.gov.do/testecf"
	prodBaseURL = "https://ecf.dgii.gov.do/ecf"

	// submitTimeout bounds every authority call, sized to the slowest
	// observed recepción responses.
	submitTimeout = 30 * time.Second
)

var (
	// ErrAuthFailed means the authority kept answering 401 after a token
	// refresh — a configuration problem, not a transient one.
	ErrAuthFailed = errors.New("authority authentication failed")
	// ErrRejected means the authority refused the document on business-rule
	// validation. Terminal for that signed document; the fiscal number is
	// already consumed and is never reissued.
	ErrRejected = errors.New("document rejected by authority")
)

// BaseURL maps a fiscal profile environment to the authority endpoint.
func BaseURL(environment string) string {
	if environment == model.EnvProduction {
		return prodBaseURL
	}
	return testBaseURL
}

// Signer produces the enveloped signature over the seed challenge. Satisfied
// by sign.Signer.
type Signer interface {
	SignFile(xml []byte, certPath, password, targetPath string) ([]byte, error)
}

// Credentials carries the tenant certificate reference used for the
// handshake. Taken from the FiscalProfile, never stored here.
type Credentials struct {
	CertPath     string
	CertPassword string
}

// DeliveryStatus is the authority's verdict for a submitted document.
type DeliveryStatus struct {
	TrackID  string   `json:"trackId"`
	Estado   string   `json:"estado"`
	Mensajes []string `json:"mensajes"`
}

// Client submits signed documents to one authority environment.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     Signer
	tokens     *tokenCache
}

func NewClient(baseURL string, signer Signer, clock clockwork.Clock) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: submitTimeout},
		signer:     signer,
		tokens:     newTokenCache(clock),
	}
}

// Token returns a bearer token for the tenant, performing the three-step
// handshake on cache miss: fetch seed, sign it, validate the signed seed.
func (c *Client) Token(ctx context.Context, tenantID uuid.UUID, creds Credentials) (string, error) {
	return c.tokens.get(ctx, tenantID, func(ctx context.Context) (string, time.Time, error) {
		return c.handshake(ctx, tenantID, creds)
	})
}

func (c *Client) handshake(ctx context.Context, tenantID uuid.UUID, creds Credentials) (string, time.Time, error) {
	seed, err := c.fetchSeed(ctx)
	if err != nil {
		return "", time.Time{}, err
	}

	signedSeed, err := c.signer.SignFile(seed, creds.CertPath, creds.CertPassword, "")
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign seed: %w", err)
	}

	token, expiresAt, err := c.validateSeed(ctx, signedSeed)
	if err != nil {
		return "", time.Time{}, err
	}

	log.Debug().Str("tenant_id", tenantID.String()).Time("expires_at", expiresAt).
		Msg("dgii: token obtained")
	return token, expiresAt, nil
}

func (c *Client) fetchSeed(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/autenticacion/api/semilla", nil)
	if err != nil {
		return nil, fmt.Errorf("dgii: create seed request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dgii: fetch seed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dgii: seed endpoint returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// authResponse is the validarsemilla payload. Some environments answer a
// bare token string instead of JSON; both are accepted.
type authResponse struct {
	Token  string `json:"token"`
	Expira string `json:"expira"`
}

func (c *Client) validateSeed(ctx context.Context, signedSeed []byte) (string, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/autenticacion/api/validarsemilla", bytes.NewReader(signedSeed))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("dgii: create validation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("dgii: validate seed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("dgii: read validation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("%w: validarsemilla returned %d", ErrAuthFailed, resp.StatusCode)
	}

	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil || auth.Token == "" {
		// Plain token string fallback
		auth.Token = strings.TrimSpace(strings.Trim(strings.TrimSpace(string(body)), `"`))
	}
	if auth.Token == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty token", ErrAuthFailed)
	}

	expiresAt := c.now().Add(defaultTokenTTL)
	if auth.Expira != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
			if t, perr := time.Parse(layout, auth.Expira); perr == nil {
				expiresAt = t
				break
			}
		}
	}
	return auth.Token, expiresAt.Add(-safetyMargin), nil
}

func (c *Client) now() time.Time { return c.tokens.clock.Now() }

// submitResponse is the recepción payload.
type submitResponse struct {
	TrackID  string   `json:"trackId"`
	Mensajes []string `json:"mensajes"`
}

// Submit sends a signed document and returns the authority track id. On a
// 401 the cached token is invalidated and the handshake retried exactly
// once before failing with ErrAuthFailed.
func (c *Client) Submit(ctx context.Context, tenantID uuid.UUID, creds Credentials, signedXML []byte) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.Token(ctx, tenantID, creds)
		if err != nil {
			return "", err
		}

		status, body, err := c.post(ctx, c.baseURL+"/recepcionfc/api/ecf", token, signedXML)
		if err != nil {
			return "", err
		}

		switch {
		case status == http.StatusUnauthorized:
			c.tokens.invalidate(tenantID)
			continue
		case status == http.StatusOK || status == http.StatusCreated:
			var sr submitResponse
			if err := json.Unmarshal(body, &sr); err != nil || sr.TrackID == "" {
				return "", fmt.Errorf("dgii: unreadable submission response: %s", body)
			}
			return sr.TrackID, nil
		case status == http.StatusTooManyRequests:
			// Throttling is transient; the caller's retry bookkeeping picks
			// it up like any transport failure.
			return "", fmt.Errorf("dgii: recepción throttled (%d)", status)
		case status >= 400 && status < 500:
			var sr submitResponse
			_ = json.Unmarshal(body, &sr)
			return "", fmt.Errorf("%w: %s", ErrRejected, strings.Join(sr.Mensajes, "; "))
		default:
			return "", fmt.Errorf("dgii: recepción returned %d", status)
		}
	}
	return "", ErrAuthFailed
}

// CheckStatus polls the authority for the delivery verdict of a track id,
// independent of the original submission call.
func (c *Client) CheckStatus(ctx context.Context, tenantID uuid.UUID, creds Credentials, trackID string) (*DeliveryStatus, error) {
	token, err := c.Token(ctx, tenantID, creds)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/recepcionfc/api/consultatrackid/"+trackID, nil)
	if err != nil {
		return nil, fmt.Errorf("dgii: create status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dgii: check status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.invalidate(tenantID)
		return nil, ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dgii: consultatrackid returned %d", resp.StatusCode)
	}

	var ds DeliveryStatus
	if err := json.NewDecoder(resp.Body).Decode(&ds); err != nil {
		return nil, fmt.Errorf("dgii: decode status response: %w", err)
	}
	return &ds, nil
}

func (c *Client) post(ctx context.Context, url, token string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("dgii: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("dgii: authority unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("dgii: read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
