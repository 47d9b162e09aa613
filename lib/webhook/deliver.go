package webhook

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Abidoyesimze/StackPay/common"
	"github.com/golang-jwt/jwt"
	"golang.org/x/time/rate"
)

type Deliverer interface {
	Deliver(ctx context.Context, url string, payload Payload) error
}

// DeliveryError is a failed POST: a transport error or a non-2xx status.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("webhook delivery failed with status %d", e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// HTTPDeliverer posts payloads with a bounded timeout. When a signing
// secret is configured, an HS256 token over the body hash is attached.
type HTTPDeliverer struct {
	client  *http.Client
	limiter *rate.Limiter
	secret  []byte
}

func NewHTTPDeliverer(timeout time.Duration, perSecond float64, secret []byte) *HTTPDeliverer {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		if int(perSecond) > burst {
			burst = int(perSecond)
		}
	}
	return &HTTPDeliverer{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		secret:  secret,
	}
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(common.WebhookEventHeader, payload.Event)
	if len(d.secret) > 0 {
		signature, err := d.sign(payload, body)
		if err != nil {
			return err
		}
		req.Header.Set(common.WebhookSignatureHeader, signature)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (d *HTTPDeliverer) sign(payload Payload, body []byte) (string, error) {
	sum := sha256.Sum256(body)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":         "stackpay",
		"event":       payload.Event,
		"invoice_id":  payload.InvoiceID,
		"body_sha256": hex.EncodeToString(sum[:]),
		"iat":         time.Now().Unix(),
	})
	return token.SignedString(d.secret)
}
