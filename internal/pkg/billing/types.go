package billing

import "strconv"

// Metadata keys attached to every checkout session.
const (
	MetadataUserID      = "userId"
	MetadataPackageID   = "packageId"
	MetadataTokenCount  = "tokenCount"
	MetadataPackageName = "packageName"
)

// CheckoutRequest is what the processor needs to open a hosted checkout.
type CheckoutRequest struct {
	UserID         string
	Email          string
	Package        Package
	Currency       string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// Metadata is the package echo stored on the remote session.
func (r CheckoutRequest) Metadata() map[string]string {
	return map[string]string{
		MetadataUserID:      r.UserID,
		MetadataPackageID:   r.Package.ID,
		MetadataTokenCount:  strconv.FormatInt(r.Package.Tokens, 10),
		MetadataPackageName: r.Package.Name,
	}
}

// CheckoutSession is the provider-agnostic view of a remote session.
type CheckoutSession struct {
	ID                string
	URL               string
	Paid              bool
	AmountTotal       int64
	Currency          string
	ClientReferenceID string
	Metadata          map[string]string
}

// UserID returns the user the session was opened for.
func (s *CheckoutSession) UserID() string {
	if id := s.Metadata[MetadataUserID]; id != "" {
		return id
	}
	return s.ClientReferenceID
}

// CheckoutResult is returned to the client after opening a session. It is
// never proof of payment.
type CheckoutResult struct {
	SessionID   string `json:"sessionId"`
	URL         string `json:"url"`
	PackageID   string `json:"packageId"`
	PackageName string `json:"packageName"`
	TokenCount  int64  `json:"tokenCount"`
	PriceCents  int64  `json:"priceCents"`
	Currency    string `json:"currency"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	SessionID       string
	PayloadJSON     string
	SignatureValid  bool
}
