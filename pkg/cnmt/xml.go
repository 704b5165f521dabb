package cnmt

import (
	"encoding/xml"
	"fmt"
)

// authoringToolXML is the document structure emitted by
// GenerateAuthoringToolXml (§4.5), a struct-tag-marshalled layout in
// the style of the pack's encoding/xml consumers rather than hand-built
// string concatenation.
type authoringToolXML struct {
	XMLName      xml.Name           `xml:"ContentMeta"`
	Type         string             `xml:"Type"`
	Id           string             `xml:"Id"`
	Version      uint32             `xml:"Version"`
	RequiredDownloadSystemVersion uint32 `xml:"RequiredDownloadSystemVersion"`
	Content      []xmlContentRecord `xml:"Content"`
	Digest       string             `xml:"Digest"`
}

type xmlContentRecord struct {
	Type     string `xml:"Type"`
	Id       string `xml:"Id"`
	Size     uint64 `xml:"Size"`
	Hash     string `xml:"Hash"`
	KeyGeneration int `xml:"KeyGeneration"`
	IdOffset int    `xml:"IdOffset,omitempty"`
}

// contentTypeName maps an NcmContentType byte to the authoring-tool
// XML's textual content-type vocabulary.
func contentTypeName(t byte) string {
	switch t {
	case 0:
		return "Meta"
	case 1:
		return "Program"
	case 2:
		return "Data"
	case 3:
		return "Control"
	case 4:
		return "HtmlDocument"
	case 5:
		return "LegalInformation"
	case 6:
		return "DeltaFragment"
	default:
		return "Unknown"
	}
}

// GenerateAuthoringToolXml emits the AuthoringTool-like XML document
// describing this title, its content records and digest (§4.5
// "generate_authoring_tool_xml"). keyGenerations maps each content
// record's index to the key generation its owning NCA was encrypted
// under, since that's not itself part of the CNMT blob.
func (c *Context) GenerateAuthoringToolXml(keyGenerations []int) ([]byte, error) {
	doc := authoringToolXML{
		Type:    c.Header.ContentMetaType.prefix(),
		Id:      fmt.Sprintf("0x%016x", c.Header.TitleID),
		Version: c.Header.Version,
		RequiredDownloadSystemVersion: c.Header.RequiredDownloadSystemVersion,
		Digest:  fmt.Sprintf("%x", c.Digest),
	}

	for i, ci := range c.Contents {
		gen := 0
		if i < len(keyGenerations) {
			gen = keyGenerations[i]
		}
		doc.Content = append(doc.Content, xmlContentRecord{
			Type:          contentTypeName(ci.ContentType),
			Id:            fmt.Sprintf("%x", ci.ContentID),
			Size:          ci.Size,
			Hash:          fmt.Sprintf("%x", ci.Hash),
			KeyGeneration: gen,
			IdOffset:      int(ci.IDOffset),
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("cnmt.GenerateAuthoringToolXml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// MetaContentIDFilename names the synthesised XML entry in the NSP: the meta
// content's ID with ".cnmt.xml" appended (§4.5).
func MetaContentIDFilename(metaContentID [16]byte) string {
	return fmt.Sprintf("%x.cnmt.xml", metaContentID)
}
