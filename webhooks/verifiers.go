package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/worksync/go-trackers/core"
)

// Signing scheme names accepted in provider webhook configuration.
const (
	SchemeHMACSHA256 = "hmac-sha256"
	SchemeHMACSHA1   = "hmac-sha1"
	SchemeHookSecret = "hook-secret"
	SchemeToken      = "token"
	SchemeChallenge  = "challenge"
	SchemeNone       = "none"
)

// Verifier authenticates one inbound delivery. Implementations never
// panic on malformed input; any defect in the signature material is a
// verification failure.
type Verifier interface {
	Verify(ctx context.Context, req core.WebhookRequest) error
}

func signatureError(message string, metadata map[string]any) error {
	return core.NewError(message, goerrors.CategoryAuth, http.StatusUnauthorized, core.ErrorSignatureInvalid, metadata)
}

// HeaderHMACVerifier checks an HMAC over the raw body carried in a
// header. Covers the linear/github/monday/slack style: hex or base64
// digest, optional scheme prefix such as "sha256=".
type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
	Hash     func() hash.Hash
}

func (v HeaderHMACVerifier) Verify(_ context.Context, req core.WebhookRequest) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return signatureError("signing secret is not configured", map[string]any{"provider": req.Provider})
	}
	header := core.HeaderValue(req.Headers, v.Header)
	if header == "" {
		return signatureError(
			fmt.Sprintf("%s signature header is required", strings.TrimSpace(v.Header)),
			map[string]any{"provider": req.Provider, "header": v.Header},
		)
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, strings.TrimSpace(v.Prefix)))
	if signature == "" {
		return signatureError("signature value is empty", map[string]any{"provider": req.Provider})
	}

	newHash := v.Hash
	if newHash == nil {
		newHash = sha256.New
	}
	mac := hmac.New(newHash, []byte(secret))
	_, _ = mac.Write(req.Body)
	expected := mac.Sum(nil)

	var decoded []byte
	var err error
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(signature)
	default:
		decoded, err = hex.DecodeString(signature)
	}
	if err != nil {
		return signatureError("signature is not valid "+firstNonEmpty(v.Encoding, "hex"), map[string]any{"provider": req.Provider})
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return signatureError("signature verification failed", map[string]any{"provider": req.Provider})
	}
	return nil
}

// CallbackHMACVerifier checks the trello scheme: base64 HMAC-SHA1 over
// the raw body concatenated with the registered callback URL.
type CallbackHMACVerifier struct {
	Header      string
	Secret      string
	CallbackURL string
}

func (v CallbackHMACVerifier) Verify(_ context.Context, req core.WebhookRequest) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return signatureError("signing secret is not configured", map[string]any{"provider": req.Provider})
	}
	header := core.HeaderValue(req.Headers, firstNonEmpty(v.Header, "X-Trello-Webhook"))
	if header == "" {
		return signatureError("signature header is required", map[string]any{"provider": req.Provider})
	}
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return signatureError("signature is not valid base64", map[string]any{"provider": req.Provider})
	}

	mac := hmac.New(sha1.New, []byte(secret))
	_, _ = mac.Write(req.Body)
	_, _ = mac.Write([]byte(strings.TrimSpace(v.CallbackURL)))
	if subtle.ConstantTimeCompare(decoded, mac.Sum(nil)) != 1 {
		return signatureError("signature verification failed", map[string]any{"provider": req.Provider})
	}
	return nil
}

// HookSecretVerifier checks the asana scheme. The initial handshake
// delivery carries only an X-Hook-Secret header, which the Dispatcher
// echoes back; every later delivery carries a hex HMAC-SHA256 of the
// body keyed by that stored secret.
type HookSecretVerifier struct {
	SignatureHeader string
	HandshakeHeader string
	Secret          string
}

func (v HookSecretVerifier) Verify(ctx context.Context, req core.WebhookRequest) error {
	if core.HeaderValue(req.Headers, firstNonEmpty(v.HandshakeHeader, HandshakeHeader)) != "" {
		// handshake deliveries are unsigned
		return nil
	}
	inner := HeaderHMACVerifier{
		Header: firstNonEmpty(v.SignatureHeader, "X-Hook-Signature"),
		Secret: v.Secret,
	}
	return inner.Verify(ctx, req)
}

// HeaderTokenVerifier compares a shared verification token carried in
// plain text.
type HeaderTokenVerifier struct {
	Header string
	Token  string
}

func (v HeaderTokenVerifier) Verify(_ context.Context, req core.WebhookRequest) error {
	expected := strings.TrimSpace(v.Token)
	if expected == "" {
		return signatureError("verification token is not configured", map[string]any{"provider": req.Provider})
	}
	actual := core.HeaderValue(req.Headers, firstNonEmpty(v.Header, "X-Webhook-Token"))
	if actual == "" {
		return signatureError("verification token header is required", map[string]any{"provider": req.Provider})
	}
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
		return signatureError("verification token mismatch", map[string]any{"provider": req.Provider})
	}
	return nil
}

// AcceptAllVerifier performs no authentication. Used for the challenge
// scheme, where proof of ownership happens through the challenge echo
// rather than per-delivery signatures.
type AcceptAllVerifier struct{}

func (AcceptAllVerifier) Verify(context.Context, core.WebhookRequest) error { return nil }

// NewVerifier builds the verifier for a provider webhook configuration.
// Unknown schemes are configuration errors.
func NewVerifier(cfg core.WebhookConfig) (Verifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Scheme)) {
	case SchemeHMACSHA256, "":
		// "sha256=" is optional on the wire; TrimPrefix leaves bare
		// digests untouched.
		return HeaderHMACVerifier{
			Header: "X-Signature",
			Prefix: "sha256=",
			Secret: cfg.Secret,
		}, nil
	case SchemeHMACSHA1:
		return CallbackHMACVerifier{
			Secret:      cfg.Secret,
			CallbackURL: cfg.CallbackURL,
		}, nil
	case SchemeHookSecret:
		return HookSecretVerifier{Secret: cfg.Secret}, nil
	case SchemeToken:
		return HeaderTokenVerifier{Token: cfg.Token}, nil
	case SchemeChallenge, SchemeNone:
		return AcceptAllVerifier{}, nil
	}
	return nil, core.ConfigError(
		fmt.Sprintf("unknown webhook signing scheme %q", cfg.Scheme),
		map[string]any{"scheme": cfg.Scheme},
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
