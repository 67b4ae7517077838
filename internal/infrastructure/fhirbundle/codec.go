// Package fhirbundle validates the bundles returned by the EHR middleware and
// annotates them with provenance before storage.
package fhirbundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
)

var (
	ErrEmptyPayload    = errors.New("empty payload")
	ErrNotABundle      = errors.New("resourceType is not Bundle")
	ErrMissingType     = errors.New("bundle type is missing")
	ErrInvalidResource = errors.New("bundle entry resource is invalid")
)

// BundleCodec implements application.BundleCodec on top of the R4 models.
type BundleCodec struct {
	agent string
	now   func() time.Time
	newID func() string
}

// NewBundleCodec builds a codec whose provenance names agent (a FHIR reference
// such as "Organization/ehr-mw") as the author of every entry.
func NewBundleCodec(agent string) *BundleCodec {
	return &BundleCodec{
		agent: agent,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

type bundleHeader struct {
	ResourceType string  `json:"resourceType"`
	Type         *string `json:"type"`
}

type resourceHeader struct {
	ResourceType string  `json:"resourceType"`
	ID           *string `json:"id"`
}

func (c *BundleCodec) ParseAndValidate(raw []byte) (*fhir.Bundle, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}

	var header bundleHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if header.ResourceType != "Bundle" {
		return nil, fmt.Errorf("%w: got %q", ErrNotABundle, header.ResourceType)
	}
	if header.Type == nil {
		return nil, ErrMissingType
	}

	bundle, err := fhir.UnmarshalBundle(raw)
	if err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}

	for i, entry := range bundle.Entry {
		if len(entry.Resource) == 0 {
			continue
		}
		var rh resourceHeader
		if err := json.Unmarshal(entry.Resource, &rh); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidResource, i, err)
		}
		if rh.ResourceType == "" {
			return nil, fmt.Errorf("%w: entry %d has no resourceType", ErrInvalidResource, i)
		}
	}

	return &bundle, nil
}

// Annotate appends one Provenance entry per resource of the bundle. Resources
// without an id are given one so that the provenance can target them.
func (c *BundleCodec) Annotate(bundle *fhir.Bundle) (*fhir.Bundle, error) {
	if bundle == nil {
		return nil, errors.New("nil bundle")
	}

	annotated := *bundle
	annotated.Entry = make([]fhir.BundleEntry, 0, len(bundle.Entry)*2)
	recorded := c.now().Format(time.RFC3339)

	var provenances []fhir.BundleEntry
	for i, entry := range bundle.Entry {
		if len(entry.Resource) == 0 {
			annotated.Entry = append(annotated.Entry, entry)
			continue
		}

		resource, target, err := c.ensureID(entry.Resource)
		if err != nil {
			return nil, fmt.Errorf("annotate entry %d: %w", i, err)
		}
		if target == "" {
			annotated.Entry = append(annotated.Entry, entry)
			continue
		}
		entry.Resource = resource
		annotated.Entry = append(annotated.Entry, entry)

		prov, err := c.provenanceEntry(target, recorded)
		if err != nil {
			return nil, fmt.Errorf("annotate entry %d: %w", i, err)
		}
		provenances = append(provenances, prov)
	}

	annotated.Entry = append(annotated.Entry, provenances...)
	return &annotated, nil
}

func (c *BundleCodec) Serialize(bundle *fhir.Bundle) ([]byte, error) {
	if bundle == nil {
		return nil, errors.New("nil bundle")
	}
	return bundle.MarshalJSON()
}

// ensureID returns the resource with an id and its reference. Provenance
// resources are not annotated again.
func (c *BundleCodec) ensureID(resource json.RawMessage) (json.RawMessage, string, error) {
	var rh resourceHeader
	if err := json.Unmarshal(resource, &rh); err != nil {
		return nil, "", err
	}
	if rh.ResourceType == "Provenance" {
		return resource, "", nil
	}
	if rh.ID != nil && *rh.ID != "" {
		return resource, rh.ResourceType + "/" + *rh.ID, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(resource, &fields); err != nil {
		return nil, "", err
	}
	id := c.newID()
	encodedID, err := json.Marshal(id)
	if err != nil {
		return nil, "", err
	}
	fields["id"] = encodedID

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, "", err
	}
	return out, rh.ResourceType + "/" + id, nil
}
