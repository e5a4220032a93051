package checkout

import (
	"net/url"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
)

const DefaultTimeout = 8 * time.Second

// Config holds the processor-side checkout policy.
type Config struct {
	Currency stripe.Currency
	SiteURL  string

	SuccessPath string
	CancelPath  string

	// AllowedCountries lists ISO 3166-1 alpha-2 codes shipping is offered to.
	AllowedCountries []string

	// FreeShippingThreshold is in major units; a zero threshold disables free shipping.
	FreeShippingThreshold float64
	ShippingRate          float64
	ShippingLabel         string

	Timeout time.Duration

	// Development attaches processor error details to shopper-facing failures.
	Development bool
}

func DefaultConfig() Config {
	return Config{
		Currency:              stripe.CurrencyEUR,
		SiteURL:               "http://localhost:8080",
		SuccessPath:           "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelPath:            "/cart",
		AllowedCountries:      []string{"FR", "BE", "LU", "DE", "NL", "IT", "ES", "PT", "AT", "CH", "GB"},
		FreeShippingThreshold: 100,
		ShippingRate:          5.95,
		ShippingLabel:         "Standard shipping",
		Timeout:               DefaultTimeout,
	}
}

func (c Config) SuccessURL() string {
	return strings.TrimRight(c.SiteURL, "/") + c.SuccessPath
}

func (c Config) CancelURL() string {
	return strings.TrimRight(c.SiteURL, "/") + c.CancelPath
}

// ResolveImage turns a site-relative image path into an absolute URL. It
// returns "" when no absolute http(s) URL can be produced.
func (c Config) ResolveImage(image string) string {
	ref, err := url.Parse(image)
	if err != nil {
		return ""
	}
	if !ref.IsAbs() {
		base, err := url.Parse(c.SiteURL)
		if err != nil || !base.IsAbs() {
			return ""
		}
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}
