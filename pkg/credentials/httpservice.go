package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/vulu-live/liveconn/pkg/config"
	"github.com/vulu-live/liveconn/pkg/provider"
)

// HTTPTokenService talks to the credential backend over plain JSON/HTTP:
// POST {base}/token issues a join token, POST {base}/access pre-checks
// channel access. Requests authenticate with the configured API key pair.
type HTTPTokenService struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
}

func NewHTTPTokenService(conf config.CredentialConfig) *HTTPTokenService {
	return &HTTPTokenService{
		baseURL:   conf.ServiceURL,
		apiKey:    conf.APIKey,
		apiSecret: conf.APISecret,
		client: &http.Client{
			Timeout: conf.RequestTimeout,
		},
	}
}

type issueTokenRequest struct {
	Channel    string `json:"channel"`
	UID        uint32 `json:"uid"`
	Role       string `json:"role"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type issueTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds
}

type validateAccessRequest struct {
	Channel string `json:"channel"`
}

type validateAccessResponse struct {
	CanJoin bool   `json:"can_join"`
	Reason  string `json:"reason,omitempty"`
}

func (s *HTTPTokenService) IssueToken(ctx context.Context, channel string, uid uint32, role provider.Role, ttl time.Duration) (string, time.Time, error) {
	req := issueTokenRequest{
		Channel:    channel,
		UID:        uid,
		Role:       role.String(),
		TTLSeconds: int64(ttl / time.Second),
	}

	var resp issueTokenResponse
	if err := s.post(ctx, "/token", req, &resp); err != nil {
		return "", time.Time{}, err
	}
	if resp.Token == "" || resp.ExpiresAt == 0 {
		return "", time.Time{}, errors.New("token response missing token or expiry")
	}
	return resp.Token, time.Unix(resp.ExpiresAt, 0), nil
}

func (s *HTTPTokenService) ValidateAccess(ctx context.Context, channel string) (bool, string, error) {
	var resp validateAccessResponse
	if err := s.post(ctx, "/access", validateAccessRequest{Channel: channel}, &resp); err != nil {
		return false, "", err
	}
	return resp.CanJoin, resp.Reason, nil
}

func (s *HTTPTokenService) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s:%s", s.apiKey, s.apiSecret))

	res, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "credential service request failed")
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		return errors.Errorf("credential service returned %d", res.StatusCode)
	}
	if err = json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.Wrap(err, "could not decode credential service response")
	}
	return nil
}
