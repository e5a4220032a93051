package checkout

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"

	"goflare.io/parfum/models"
)

// NewSessionParams turns req into Stripe checkout session parameters.
// cartSessionID is recorded so the cart can be cleared once payment completes.
func NewSessionParams(req *SessionRequest, subtotal decimal.Decimal, cartSessionID string, cfg Config) (*stripe.CheckoutSessionParams, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(cfg.SuccessURL()),
		CancelURL:  stripe.String(cfg.CancelURL()),
		LineItems:  make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items)),
	}

	for _, item := range req.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.Description != "" {
			product.Description = stripe.String(item.Description)
		}
		for _, image := range item.Images {
			if resolved := cfg.ResolveImage(image); resolved != "" {
				product.Images = append(product.Images, stripe.String(resolved))
			}
		}

		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(string(cfg.Currency)),
				ProductData: product,
				UnitAmount:  stripe.Int64(item.UnitAmountCents),
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}

	if len(cfg.AllowedCountries) > 0 {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(cfg.AllowedCountries),
		}
	}
	params.ShippingOptions = []*stripe.CheckoutSessionShippingOptionParams{
		shippingOption(subtotal, cfg),
	}

	metadata, err := models.EncodeSummaryMetadata(req.Metadata.Items)
	if errors.Is(err, models.ErrSummaryTooLong) {
		return nil, ErrCartTooLarge
	}
	if err != nil {
		return nil, err
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if cartSessionID != "" {
		params.AddMetadata(models.MetadataCartSession, cartSessionID)
		params.ClientReferenceID = stripe.String(cartSessionID)
	}

	return params, nil
}

func shippingOption(subtotal decimal.Decimal, cfg Config) *stripe.CheckoutSessionShippingOptionParams {
	amount := ToCents(cfg.ShippingRate)
	label := cfg.ShippingLabel
	if cfg.FreeShippingThreshold > 0 && subtotal.GreaterThanOrEqual(decimal.NewFromFloat(cfg.FreeShippingThreshold)) {
		amount = 0
		label = fmt.Sprintf("Free shipping (orders over %s)", decimal.NewFromFloat(cfg.FreeShippingThreshold).StringFixed(2))
	}

	return &stripe.CheckoutSessionShippingOptionParams{
		ShippingRateData: &stripe.CheckoutSessionShippingOptionShippingRateDataParams{
			Type:        stripe.String("fixed_amount"),
			DisplayName: stripe.String(label),
			FixedAmount: &stripe.CheckoutSessionShippingOptionShippingRateDataFixedAmountParams{
				Amount:   stripe.Int64(amount),
				Currency: stripe.String(string(cfg.Currency)),
			},
		},
	}
}
