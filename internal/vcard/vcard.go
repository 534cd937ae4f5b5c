// Package vcard provides parsing and validation for vCard resources on
// top of emersion/go-vcard.
package vcard

import (
	"bytes"
	"errors"
	"fmt"

	govcard "github.com/emersion/go-vcard"
)

const (
	// MIMEType is the content type of address object resources.
	MIMEType = "text/vcard"
	// Extension is the member name suffix for address items.
	Extension = ".vcf"
)

var ErrNoUID = errors.New("vcard: missing UID property")

// Parse decodes a single vCard from data.
func Parse(data []byte) (govcard.Card, error) {
	card, err := govcard.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("vcard - Parse: %w", err)
	}
	return card, nil
}

// Encode serialises card back to wire format.
func Encode(card govcard.Card) ([]byte, error) {
	var buf bytes.Buffer
	if err := govcard.NewEncoder(&buf).Encode(card); err != nil {
		return nil, fmt.Errorf("vcard - Encode: %w", err)
	}
	return buf.Bytes(), nil
}

// UID returns the UID of card.
func UID(card govcard.Card) (string, error) {
	uid := card.Value(govcard.FieldUID)
	if uid == "" {
		return "", ErrNoUID
	}
	return uid, nil
}
