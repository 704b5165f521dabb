package nsp

import (
	"encoding/xml"
	"fmt"
)

// programInfoXML and legalInfoXML are minimal per-content authoring-
// tool documents: spec.md names a `<content_id>.programinfo.xml` and
// `<content_id>.legalinfo.xml` entry (§4.8 step 5) but, unlike the CNMT
// and NACP documents, never defines their field schema — the program-
// info/legal-info payload contexts are only ever named as attributes
// of the NCA context (§3's "content-type-specific payload context"),
// not detailed further. This package emits a minimal, honestly-partial
// document carrying the one fact every caller already has (the
// content ID), following the cnmt/nacp packages' xml.MarshalIndent
// convention rather than inventing an undocumented full schema.
type programInfoXML struct {
	XMLName   xml.Name `xml:"ProgramInfo"`
	ContentId string   `xml:"ContentId"`
}

type legalInfoXML struct {
	XMLName   xml.Name `xml:"LegalInfo"`
	ContentId string   `xml:"ContentId"`
}

func generateProgramInfoXml(contentID [0x10]byte) ([]byte, error) {
	doc := programInfoXML{ContentId: fmt.Sprintf("%x", contentID)}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("nsp.generateProgramInfoXml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func generateLegalInfoXml(contentID [0x10]byte) ([]byte, error) {
	doc := legalInfoXML{ContentId: fmt.Sprintf("%x", contentID)}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("nsp.generateLegalInfoXml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
