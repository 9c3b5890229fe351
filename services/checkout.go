// services/checkout.go

package services

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/mask"
)

type checkoutForm struct {
	Phone        string `json:"phone"`
	CEP          string `json:"cep"`
	CNPJ         string `json:"cnpj"`
	CardNumber   string `json:"card_number"`
	CardExpMonth int    `json:"card_exp_month"`
	CardExpYear  int    `json:"card_exp_year"`
}

type fieldResult struct {
	Value string `json:"value"`
	Valid bool   `json:"valid"`
}

type cardResult struct {
	Redacted    string `json:"redacted"`
	Brand       string `json:"brand"`
	Valid       bool   `json:"valid"`
	ExpiryValid bool   `json:"expiry_valid"`
}

// checkoutValidation is the masked form. CNPJ is optional, so an empty
// value counts as valid.
type checkoutValidation struct {
	Phone fieldResult `json:"phone"`
	CEP   fieldResult `json:"cep"`
	CNPJ  fieldResult `json:"cnpj"`
	Card  cardResult  `json:"card"`
	Valid bool        `json:"valid"`
}

func (sf *Storefront) validateCheckout(f checkoutForm) checkoutValidation {
	v := checkoutValidation{
		Phone: fieldResult{Value: mask.FormatPhone(f.Phone), Valid: mask.ValidPhone(f.Phone)},
		CEP:   fieldResult{Value: mask.FormatCEP(f.CEP), Valid: mask.ValidCEP(f.CEP)},
		CNPJ:  fieldResult{Value: mask.FormatCNPJ(f.CNPJ), Valid: f.CNPJ == "" || mask.ValidCNPJ(f.CNPJ)},
		Card: cardResult{
			Redacted:    mask.Redact(f.CardNumber),
			Brand:       mask.CardBrand(f.CardNumber),
			Valid:       mask.ValidCard(f.CardNumber),
			ExpiryValid: mask.ValidExpiry(f.CardExpMonth, f.CardExpYear, sf.now()),
		},
	}
	v.Valid = v.Phone.Valid && v.CEP.Valid && v.CNPJ.Valid && v.Card.Valid && v.Card.ExpiryValid
	return v
}

// validateCheckoutHandler masks and checks the checkout form. Nothing is
// stored and the card number is only echoed redacted.
func (sf *Storefront) validateCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	_, span := sf.tracer.Start(r.Context(), "ValidateCheckout")
	defer span.End()

	var form checkoutForm
	if err := decodeBody(r, &form); err != nil {
		renderHTTPError(log, w, err, http.StatusBadRequest)
		return
	}

	result := sf.validateCheckout(form)
	span.SetAttributes(
		attribute.String("app.card.brand", result.Card.Brand),
		attribute.Bool("app.checkout.valid", result.Valid),
	)
	log.WithFields(logrus.Fields{
		"card":  result.Card.Redacted,
		"brand": result.Card.Brand,
		"valid": result.Valid,
	}).Info("checkout form validated")

	renderJSON(log, w, http.StatusOK, result)
}
