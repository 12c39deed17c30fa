// Package message defines what crosses the boundary between a page pipeline
// and the host collaborator. Messages are a closed set of variants tagged by
// their "type" field; the host validates every payload on receipt.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/subtrack/subwatch/catalog"
)

// Type is the variant tag carried in the "type" field.
type Type string

const (
	TypeSubscriptionDetected Type = "subscription-detected"
)

// Message is implemented only by the variants in this package.
type Message interface {
	MessageType() Type
	Validate() error
	isMessage()
}

// Detection reports the first catalog phrase found during one scan.
type Detection struct {
	Type      Type   `json:"type" enum:"subscription-detected" doc:"Message variant tag"`
	Keyword   string `json:"keyword" minLength:"1" doc:"Matched phrase as declared in the catalog"`
	Category  string `json:"category" minLength:"1" doc:"Catalog category of the phrase"`
	URL       string `json:"url" minLength:"1" doc:"Page address at scan time"`
	Timestamp int64  `json:"timestamp" minimum:"1" doc:"Scan time, epoch milliseconds"`
}

// NewDetection builds a Detection for a catalog match seen on url at at.
func NewDetection(m catalog.Match, url string, at time.Time) Detection {
	return Detection{
		Type:      TypeSubscriptionDetected,
		Keyword:   m.Keyword,
		Category:  m.Category,
		URL:       url,
		Timestamp: at.UnixMilli(),
	}
}

func (Detection) MessageType() Type { return TypeSubscriptionDetected }
func (Detection) isMessage()        {}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("message: invalid")

// Validate checks the tag and the required fields.
func (d Detection) Validate() error {
	switch {
	case d.Type != TypeSubscriptionDetected:
		return fmt.Errorf("%w: type %q", ErrInvalid, d.Type)
	case d.Keyword == "":
		return fmt.Errorf("%w: empty keyword", ErrInvalid)
	case d.Category == "":
		return fmt.Errorf("%w: empty category", ErrInvalid)
	case d.URL == "":
		return fmt.Errorf("%w: empty url", ErrInvalid)
	case d.Timestamp <= 0:
		return fmt.Errorf("%w: timestamp %d", ErrInvalid, d.Timestamp)
	}
	return nil
}

// UnknownTypeError is returned by Unmarshal for a tag outside the closed set.
type UnknownTypeError struct {
	Type Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("message: unknown type %q", e.Type)
}

// Marshal serialises a message to JSON after validating it.
func Marshal(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Unmarshal decodes and validates a message, dispatching on its tag.
func Unmarshal(data []byte) (Message, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("message: decode: %w", err)
	}

	switch head.Type {
	case TypeSubscriptionDetected:
		var d Detection
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("message: decode detection: %w", err)
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, &UnknownTypeError{Type: head.Type}
	}
}
