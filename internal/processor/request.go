// Package processor talks to the external card processor. The request shape is the
// processor's fixed contract; this package only builds and sends it.
package processor

import (
	"fmt"
	"log/slog"
	"net/url"

	"github.com/imrishuroy/go-checkout-reconcile/internal/validation"
)

// TranTypeSale authorizes and captures in one step.
const TranTypeSale = "Sale"

// Credentials identifies the merchant account and the postback endpoint.
type Credentials struct {
	Account        string
	RestrictKey    string
	PostbackURL    string
	PostbackSecret string
}

// AuthRequest is the one-shot authorization sent to the processor.
type AuthRequest struct {
	Account             string
	RestrictKey         string
	TranType            string
	Total               string
	Address             string
	Zip                 string
	CardNo              string
	ExpMonth            string
	ExpYear             string
	CVV2Type            string
	CVV2                string
	PostbackURL         string
	PostbackID          string
	PostbackRestrictKey string
}

// NewAuthRequest builds the authorization for a validated checkout. PostbackID carries the
// order id so the asynchronous result can be matched back to the order row.
func NewAuthRequest(creds Credentials, c *validation.Checkout) AuthRequest {
	return AuthRequest{
		Account:             creds.Account,
		RestrictKey:         creds.RestrictKey,
		TranType:            TranTypeSale,
		Total:               c.FormattedAmount(),
		Address:             c.Billing.Address,
		Zip:                 c.Billing.ZipCode,
		CardNo:              c.Card.Number,
		ExpMonth:            c.Card.WireMonth(),
		ExpYear:             c.Card.WireYear(),
		CVV2Type:            "1",
		CVV2:                c.Card.CVV,
		PostbackURL:         creds.PostbackURL,
		PostbackID:          c.OrderID,
		PostbackRestrictKey: creds.PostbackSecret,
	}
}

// Form encodes the request as application/x-www-form-urlencoded fields.
func (r AuthRequest) Form() url.Values {
	v := url.Values{}
	v.Set("Account", r.Account)
	v.Set("RestrictKey", r.RestrictKey)
	v.Set("TranType", r.TranType)
	v.Set("Total", r.Total)
	v.Set("Address", r.Address)
	v.Set("Zip", r.Zip)
	v.Set("CardNo", r.CardNo)
	v.Set("ExpMonth", r.ExpMonth)
	v.Set("ExpYear", r.ExpYear)
	v.Set("CVV2Type", r.CVV2Type)
	v.Set("CVV2", r.CVV2)
	v.Set("PostbackURL", r.PostbackURL)
	v.Set("PostbackID", r.PostbackID)
	v.Set("PostbackRestrictKey", r.PostbackRestrictKey)
	v.Set("HTML", "No")
	return v
}

func (r AuthRequest) masked() validation.CardInput {
	return validation.CardInput{Number: r.CardNo}
}

func (r AuthRequest) String() string {
	return fmt.Sprintf("%s %s total=%s card=%s postback_id=%s", r.TranType, r.Account, r.Total, r.masked().MaskedNumber(), r.PostbackID)
}

func (r AuthRequest) GoString() string { return r.String() }

func (r AuthRequest) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("tran_type", r.TranType),
		slog.String("total", r.Total),
		slog.String("card", r.masked().MaskedNumber()),
		slog.String("postback_id", r.PostbackID),
	)
}
