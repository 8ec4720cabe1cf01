// Package postback ingests the card processor's asynchronous authorization results and
// applies them to the order store.
package postback

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFormat means no parser in the chain could decode the body.
	ErrFormat = errors.New("unparseable postback payload")
	// ErrAuthentication means the postback could not be attributed to the processor.
	ErrAuthentication = errors.New("postback authentication failed")
	// ErrMissingFields means a required field (transaction id, order id) is absent.
	ErrMissingFields = errors.New("postback missing required fields")

	ErrSecretMismatch     = fmt.Errorf("%w: restrict key mismatch", ErrAuthentication)
	ErrMissingSecret      = fmt.Errorf("%w: restrict key absent", ErrAuthentication)
	ErrNoSecretConfigured = fmt.Errorf("%w: no postback secret configured", ErrAuthentication)
)

// MissingFieldsError names the absent fields.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return ErrMissingFields.Error() + ": " + strings.Join(e.Fields, ", ")
}

func (e *MissingFieldsError) Unwrap() error { return ErrMissingFields }
