// Package contextdoc defines the versioned, field-scoped context document that is
// threaded through one pipeline run.
package contextdoc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// FieldRef identifies a single field inside a domain section.
type FieldRef struct {
	Domain string `json:"domain"`
	Field  string `json:"field"`
}

func (r FieldRef) String() string {
	return r.Domain + "." + r.Field
}

// Document is the unit of state for one pipeline run. RawInputs is written once at
// initialization and read-only afterwards; domain section fields start null and are
// each written exactly once by the stage that owns them. Fields carried over from a
// previous run are seed material: the owning stage replaces its seeded value with
// this run's result, and from then on the field is write-once again.
type Document struct {
	ID             string                                `json:"id"`
	RunVersion     int                                   `json:"run_version"`
	CreatedAt      time.Time                             `json:"created_at"`
	RawInputs      map[string]json.RawMessage            `json:"raw_inputs"`
	DomainSections map[string]map[string]json.RawMessage `json:"domain_sections"`

	// seeded marks fields copied from the previous run. Not serialized: the marks
	// only matter while this run is executing.
	seeded map[string]bool
}

// nullJSON reports whether a raw value is absent or JSON null.
func nullJSON(v json.RawMessage) bool {
	return len(v) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// NewDocument creates a fresh document for a run. When previous is non-nil the new
// document is an evolutionary follow-up: it carries the previous run's domain fields
// as seed material and increments the run version.
func NewDocument(clientID string, rawInputs map[string]json.RawMessage, previous *Document) *Document {
	doc := &Document{
		ID:             clientID,
		RunVersion:     1,
		CreatedAt:      time.Now().UTC(),
		RawInputs:      make(map[string]json.RawMessage, len(rawInputs)),
		DomainSections: make(map[string]map[string]json.RawMessage),
	}
	for k, v := range rawInputs {
		doc.RawInputs[k] = v
	}
	if previous != nil {
		doc.RunVersion = previous.RunVersion + 1
		doc.seeded = make(map[string]bool)
		for domain, fields := range previous.DomainSections {
			section := make(map[string]json.RawMessage, len(fields))
			for name, value := range fields {
				section[name] = value
				doc.seeded[FieldRef{Domain: domain, Field: name}.String()] = true
			}
			doc.DomainSections[domain] = section
		}
	}
	return doc
}

// SeededFrom reports whether the field still holds the value carried over from the
// previous run, i.e. no stage has replaced it yet this run.
func (d *Document) SeededFrom(ref FieldRef) bool {
	return d.seeded[ref.String()]
}

// Has reports whether the referenced field is present and non-null.
func (d *Document) Has(ref FieldRef) bool {
	section, ok := d.DomainSections[ref.Domain]
	if !ok {
		return false
	}
	return !nullJSON(section[ref.Field])
}

// Get returns the referenced field value, or nil if it is absent or null.
func (d *Document) Get(ref FieldRef) json.RawMessage {
	section, ok := d.DomainSections[ref.Domain]
	if !ok {
		return nil
	}
	value := section[ref.Field]
	if nullJSON(value) {
		return nil
	}
	return value
}

// WriteField writes a field value exactly once per run. Writing a field that already
// holds a value written this run is an error: ownership is exclusive and write-once.
// A value seeded from a previous run does not count as written; the owning stage
// replaces it, after which the field is sealed like any other.
func (d *Document) WriteField(ref FieldRef, value json.RawMessage) error {
	if nullJSON(value) {
		return fmt.Errorf("refusing to write null value to %s", ref)
	}
	section, ok := d.DomainSections[ref.Domain]
	if !ok {
		section = make(map[string]json.RawMessage)
		d.DomainSections[ref.Domain] = section
	}
	if !nullJSON(section[ref.Field]) && !d.seeded[ref.String()] {
		return fmt.Errorf("field %s already written", ref)
	}
	section[ref.Field] = value
	delete(d.seeded, ref.String())
	return nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	clone := &Document{
		ID:             d.ID,
		RunVersion:     d.RunVersion,
		CreatedAt:      d.CreatedAt,
		RawInputs:      make(map[string]json.RawMessage, len(d.RawInputs)),
		DomainSections: make(map[string]map[string]json.RawMessage, len(d.DomainSections)),
	}
	for k, v := range d.RawInputs {
		clone.RawInputs[k] = append(json.RawMessage(nil), v...)
	}
	for domain, fields := range d.DomainSections {
		section := make(map[string]json.RawMessage, len(fields))
		for name, value := range fields {
			section[name] = append(json.RawMessage(nil), value...)
		}
		clone.DomainSections[domain] = section
	}
	if d.seeded != nil {
		clone.seeded = make(map[string]bool, len(d.seeded))
		for k, v := range d.seeded {
			clone.seeded[k] = v
		}
	}
	return clone
}
