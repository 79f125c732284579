package payments

type CaptureMode string

const (
	// CaptureAutomatic charges the full amount as soon as the hold settles
	// (fixed-price sessions).
	CaptureAutomatic CaptureMode = "automatic"
	// CaptureManual keeps the hold open for a later partial capture
	// (per-minute sessions reconciled at completion).
	CaptureManual CaptureMode = "manual"
)

type AuthorizeRequest struct {
	AmountCents int64
	Currency    string
	CaptureMode CaptureMode
	// Metadata travels to the provider dashboard for support lookups.
	Metadata map[string]string
}

// Authorization is an opaque hold handle plus what the client side needs to
// complete the payment flow.
type Authorization struct {
	ID           string
	ClientSecret string
	Status       string
}

type Receipt struct {
	ID          string
	AmountCents int64
	Status      string
}
