package fhirbundle

import (
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
)

const (
	participantTypeSystem = "http://terminology.hl7.org/CodeSystem/provenance-participant-type"
	dataOperationSystem   = "http://terminology.hl7.org/CodeSystem/v3-DataOperation"
)

func (c *BundleCodec) provenanceEntry(target, recorded string) (fhir.BundleEntry, error) {
	id := c.newID()

	prov := fhir.Provenance{
		Id:       ptr(id),
		Target:   []fhir.Reference{{Reference: ptr(target)}},
		Recorded: recorded,
		Activity: &fhir.CodeableConcept{
			Coding: []fhir.Coding{{
				System:  ptr(dataOperationSystem),
				Code:    ptr("CREATE"),
				Display: ptr("create"),
			}},
		},
		Agent: []fhir.ProvenanceAgent{{
			Type: &fhir.CodeableConcept{
				Coding: []fhir.Coding{{
					System:  ptr(participantTypeSystem),
					Code:    ptr("author"),
					Display: ptr("Author"),
				}},
			},
			Who: fhir.Reference{Reference: ptr(c.agent)},
		}},
	}

	raw, err := prov.MarshalJSON()
	if err != nil {
		return fhir.BundleEntry{}, err
	}

	return fhir.BundleEntry{
		FullUrl:  ptr("urn:uuid:" + id),
		Resource: raw,
	}, nil
}

func ptr[T any](v T) *T {
	return &v
}
