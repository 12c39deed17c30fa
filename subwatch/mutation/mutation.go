// Package mutation defines the change notifications a watched page reports
// back from its injected MutationObserver. They carry just enough to decide
// whether a rescan is worth scheduling: record kinds, added node counts, a
// trimmed text sample and the page address.
package mutation

import (
	"encoding/json"
	"strings"
)

// Type is the MutationObserver record type.
type Type string

const (
	TypeChildList     Type = "childList"
	TypeCharacterData Type = "characterData"
)

// Record is a single MutationObserver record, reduced.
type Record struct {
	Type       Type   `json:"type"`
	AddedNodes int    `json:"added_nodes,omitempty"`
	Text       string `json:"text,omitempty"` // characterData target text sample
}

// Relevant reports whether the record may have changed visible text: a
// childList record that added nodes, or a characterData record whose new
// text is not blank.
func (r Record) Relevant() bool {
	switch r.Type {
	case TypeChildList:
		return r.AddedNodes > 0
	case TypeCharacterData:
		return strings.TrimSpace(r.Text) != ""
	}
	return false
}

// Batch is all records delivered by one MutationObserver callback.
type Batch struct {
	URL     string   `json:"url"` // location.href when the callback ran
	Records []Record `json:"records"`
}

// Relevant reports whether any record in the batch is relevant. The whole
// batch is evaluated so one batch yields at most one rescan trigger.
func (b Batch) Relevant() bool {
	for _, r := range b.Records {
		if r.Relevant() {
			return true
		}
	}
	return false
}

// Visibility is a document visibilitychange.
type Visibility struct {
	Hidden bool   `json:"hidden"`
	URL    string `json:"url"`
}

// Kind tags an Event coming from the page script.
type Kind string

const (
	KindReady      Kind = "ready"
	KindMutations  Kind = "mutations"
	KindVisibility Kind = "visibility"
	KindUnload     Kind = "unload"
)

// Event is the envelope the page script sends through the binding.
type Event struct {
	Kind    Kind     `json:"kind"`
	URL     string   `json:"url"`
	Hidden  bool     `json:"hidden,omitempty"`
	Records []Record `json:"records,omitempty"`
}

// Batch returns the mutation batch carried by a KindMutations event.
func (e Event) Batch() Batch {
	return Batch{URL: e.URL, Records: e.Records}
}

// Visibility returns the visibility change carried by a KindVisibility event.
func (e Event) Visibility() Visibility {
	return Visibility{Hidden: e.Hidden, URL: e.URL}
}

// ParseEvent decodes one binding payload.
func ParseEvent(payload string) (Event, error) {
	var e Event
	err := json.Unmarshal([]byte(payload), &e)
	return e, err
}
