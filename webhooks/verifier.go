package webhooks

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-relay/core"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"

	DefaultTolerance = 300 * time.Second
	DefaultKeyTTL    = time.Hour

	minRefetchInterval = time.Minute
)

// KeySource fetches the PEM encoded verification key of the task backend.
type KeySource interface {
	PublicKey(ctx context.Context) (string, error)
}

type KeyCache struct {
	Key       *rsa.PublicKey
	FetchedAt time.Time
	TTL       time.Duration
}

func (c *KeyCache) Fresh(now time.Time) bool {
	if c == nil || c.Key == nil {
		return false
	}
	return now.Sub(c.FetchedAt) < c.TTL
}

// SignatureVerifier owns its key cache. Concurrent refreshes may race; the
// last stored key wins and no lock is held across the fetch.
type SignatureVerifier struct {
	Source    KeySource
	Tolerance time.Duration
	KeyTTL    time.Duration
	Now       func() time.Time

	cache atomic.Pointer[KeyCache]
}

func NewSignatureVerifier(source KeySource) *SignatureVerifier {
	return &SignatureVerifier{
		Source:    source,
		Tolerance: DefaultTolerance,
		KeyTTL:    DefaultKeyTTL,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (v *SignatureVerifier) Verify(ctx context.Context, req core.InboundRequest) error {
	if v == nil || v.Source == nil {
		return fmt.Errorf("webhooks: signature verifier is not configured")
	}
	signature := headerValue(req.Headers, HeaderSignature)
	timestamp := headerValue(req.Headers, HeaderTimestamp)
	if signature == "" || timestamp == "" {
		return core.NewUnauthorizedError("webhooks: signature headers are required", nil)
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return core.NewUnauthorizedError("webhooks: timestamp is invalid", map[string]any{"timestamp": timestamp})
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance() {
		return core.NewUnauthorizedError("webhooks: timestamp outside tolerance window", map[string]any{
			"timestamp": timestamp,
			"skew_s":    int64(skew.Seconds()),
		})
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return core.NewUnauthorizedError("webhooks: signature is not base64", nil)
	}

	key, cached, err := v.key(ctx)
	if err != nil {
		return err
	}
	digest := sha256.Sum256([]byte(SigningString(timestamp, req.URL, req.Body)))
	if rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig) == nil {
		return nil
	}
	if cached && v.refetchAllowed() {
		// the backend may have rotated its key since the last fetch
		if key, err = v.fetch(ctx); err != nil {
			return err
		}
		if rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig) == nil {
			return nil
		}
	}
	return core.NewUnauthorizedError("webhooks: signature mismatch", map[string]any{"url": req.URL})
}

// SigningString builds the canonical string the backend signs.
func SigningString(timestamp string, url string, body []byte) string {
	sum := sha256.Sum256(body)
	return timestamp + "." + url + "." + hex.EncodeToString(sum[:])
}

// Invalidate drops the cached key so the next verification refetches it.
func (v *SignatureVerifier) Invalidate() {
	if v != nil {
		v.cache.Store(nil)
	}
}

// Refresh fetches the key unconditionally and stores it.
func (v *SignatureVerifier) Refresh(ctx context.Context) error {
	if v == nil || v.Source == nil {
		return fmt.Errorf("webhooks: signature verifier is not configured")
	}
	_, err := v.fetch(ctx)
	return err
}

func (v *SignatureVerifier) key(ctx context.Context) (*rsa.PublicKey, bool, error) {
	if cached := v.cache.Load(); cached.Fresh(v.now()) {
		return cached.Key, true, nil
	}
	key, err := v.fetch(ctx)
	return key, false, err
}

func (v *SignatureVerifier) fetch(ctx context.Context) (*rsa.PublicKey, error) {
	raw, err := v.Source.PublicKey(ctx)
	if err != nil {
		return nil, core.NewExternalError(err, "webhooks: public key fetch failed", nil)
	}
	key, err := ParsePublicKey(raw)
	if err != nil {
		return nil, core.NewExternalError(err, "webhooks: public key is invalid", nil)
	}
	v.cache.Store(&KeyCache{Key: key, FetchedAt: v.now(), TTL: v.keyTTL()})
	return key, nil
}

// ParsePublicKey decodes a PEM PKIX or PKCS#1 RSA public key.
func ParsePublicKey(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(raw)))
	if block == nil {
		return nil, fmt.Errorf("webhooks: public key is not PEM encoded")
	}
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("webhooks: public key is not RSA")
		}
		return key, nil
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("webhooks: parse public key: %w", err)
	}
	return key, nil
}

// refetchAllowed bounds mismatch-driven refetches to one per minimum key age.
func (v *SignatureVerifier) refetchAllowed() bool {
	cached := v.cache.Load()
	return cached == nil || v.now().Sub(cached.FetchedAt) >= minRefetchInterval
}

func (v *SignatureVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

func (v *SignatureVerifier) tolerance() time.Duration {
	if v.Tolerance > 0 {
		return v.Tolerance
	}
	return DefaultTolerance
}

func (v *SignatureVerifier) keyTTL() time.Duration {
	if v.KeyTTL > 0 {
		return v.KeyTTL
	}
	return DefaultKeyTTL
}
