// Package payment implements the card gateway adapter over its HTTP API.
// Amounts cross the wire in minor units (cents), Stripe style; card data is
// sent for tokenization and never logged or stored.
package payment

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/oakmint/storefront-checkout/internal/domain/checkout"
)

var minorUnits = decimal.NewFromInt(100)

// Client talks to the payment gateway. It implements checkout.Gateway.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient creates a gateway client. The transport is instrumented so
// gateway round trips show up in traces.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// CreatePaymentMethod tokenizes raw card details and returns the gateway's
// payment method id. Declines here are terminal for the attempt.
func (c *Client) CreatePaymentMethod(ctx context.Context, card checkout.CardDetails) (string, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str("card") })
		e.Field("card", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("number", func(e *jx.Encoder) { e.Str(card.Number) })
				e.Field("exp_month", func(e *jx.Encoder) { e.Int(card.ExpMonth) })
				e.Field("exp_year", func(e *jx.Encoder) { e.Int(card.ExpYear) })
				e.Field("cvc", func(e *jx.Encoder) { e.Str(card.CVC) })
			})
		})
	})

	body, err := c.post(ctx, "/v1/payment_methods", e.Bytes(), cardFailure)
	if err != nil {
		return "", err
	}

	var id string
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "id" {
			return d.Skip()
		}
		var err error
		id, err = d.Str()
		return err
	}); err != nil {
		return "", errors.Wrap(err, "decode payment method")
	}
	if id == "" {
		return "", errors.New("gateway returned no payment method id")
	}
	return id, nil
}

// CreateIntent registers a payment intent for the given amount.
func (c *Client) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string) (*checkout.Intent, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("amount", func(e *jx.Encoder) { e.Int64(toMinorUnits(amount)) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(currency) })
	})

	body, err := c.post(ctx, "/v1/payment_intents", e.Bytes(), paymentFailure)
	if err != nil {
		return nil, err
	}

	var intent checkout.Intent
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			intent.ID, err = d.Str()
		case "client_secret":
			intent.ClientSecret, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "decode payment intent")
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return nil, errors.New("gateway returned incomplete intent")
	}
	return &intent, nil
}

// ConfirmPayment attaches the payment method to the intent and captures it.
func (c *Client) ConfirmPayment(ctx context.Context, clientSecret, paymentMethodID string) (*checkout.Confirmation, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("client_secret", func(e *jx.Encoder) { e.Str(clientSecret) })
		e.Field("payment_method", func(e *jx.Encoder) { e.Str(paymentMethodID) })
	})

	body, err := c.post(ctx, "/v1/payment_intents/confirm", e.Bytes(), paymentFailure)
	if err != nil {
		return nil, err
	}

	var conf checkout.Confirmation
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			conf.IntentID, err = d.Str()
		case "status":
			conf.Status, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "decode confirmation")
	}
	return &conf, nil
}

// post sends the request and returns the response body on 2xx. A 4xx body is
// decoded as a gateway error and mapped through toErr; anything else is a
// transport failure.
func (c *Client) post(ctx context.Context, path string, payload []byte, toErr func(code, message string) error) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "gateway request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read gateway response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		code, message := decodeGatewayError(body)
		return nil, toErr(code, message)
	default:
		return nil, errors.New("gateway unavailable: status " + strconv.Itoa(resp.StatusCode))
	}
}

// decodeGatewayError extracts {"error": {"code": ..., "message": ...}}.
func decodeGatewayError(body []byte) (code, message string) {
	d := jx.DecodeBytes(body)
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		if key != "error" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "code":
				code, err = d.Str()
			case "message":
				message, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		})
	})
	if message == "" {
		message = "payment rejected"
	}
	return code, message
}

func cardFailure(code, message string) error {
	kind := checkout.CardDeclined
	switch code {
	case "expired_card":
		kind = checkout.CardExpired
	case "incorrect_cvc", "invalid_cvc":
		kind = checkout.CardBadCVC
	case "processing_error":
		kind = checkout.CardProcessing
	}
	return &checkout.CardError{Kind: kind, Message: message}
}

func paymentFailure(code, message string) error {
	kind := checkout.PaymentDeclined
	switch code {
	case "payment_intent_expired", "expired_card":
		kind = checkout.PaymentExpired
	case "processing_error":
		kind = checkout.PaymentProcessing
	}
	return &checkout.PaymentError{Kind: kind, Message: message}
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnits).Round(0).IntPart()
}
