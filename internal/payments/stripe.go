package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const stripeAPIBase = "https://api.stripe.com/v1"

// StripeAdapter talks to the Stripe PaymentIntents API. An authorization is
// a payment intent; manual capture mode keeps the hold open so per-minute
// sessions can capture less than the authorized amount.
type StripeAdapter struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewStripeAdapter(secretKey string, timeout time.Duration) *StripeAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StripeAdapter{
		secretKey:  secretKey,
		baseURL:    stripeAPIBase,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type stripeIntent struct {
	ID             string `json:"id"`
	ClientSecret   string `json:"client_secret"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
	Error          *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (s *StripeAdapter) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", req.Currency)
	form.Set("capture_method", string(req.CaptureMode))
	for k, v := range req.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	intent, err := s.post(ctx, "/payment_intents", form)
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
	}, nil
}

func (s *StripeAdapter) Capture(ctx context.Context, authorizationID string, amountCents int64) (Receipt, error) {
	form := url.Values{}
	form.Set("amount_to_capture", strconv.FormatInt(amountCents, 10))

	intent, err := s.post(ctx, "/payment_intents/"+authorizationID+"/capture", form)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{
		ID:          intent.ID,
		AmountCents: amountCents,
		Status:      intent.Status,
	}, nil
}

func (s *StripeAdapter) Void(ctx context.Context, authorizationID string) error {
	_, err := s.post(ctx, "/payment_intents/"+authorizationID+"/cancel", url.Values{})
	return err
}

func (s *StripeAdapter) post(ctx context.Context, path string, form url.Values) (*stripeIntent, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &GatewayError{Provider: "stripe", Reason: "build request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.secretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, &GatewayError{Provider: "stripe", Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	var intent stripeIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, &GatewayError{Provider: "stripe", Reason: fmt.Sprintf("http=%d unparseable body", resp.StatusCode), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		reason := fmt.Sprintf("http=%d", resp.StatusCode)
		if intent.Error != nil {
			reason = fmt.Sprintf("http=%d code=%s %s", resp.StatusCode, intent.Error.Code, intent.Error.Message)
		}
		return nil, &GatewayError{Provider: "stripe", Reason: reason}
	}
	return &intent, nil
}
