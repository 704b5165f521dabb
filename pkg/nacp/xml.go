package nacp

import (
	"encoding/xml"
	"fmt"
)

// authoringToolXML is the NACP authoring-tool XML layout, using the
// cnmt package's struct-tag-marshalled convention (§4.7
// "generate_authoring_tool_xml"). It holds the fields listed below
// only; rating ages, save-data sizes, local-communication IDs and the
// add-on-content base ID are not part of it.
type authoringToolXML struct {
	XMLName                xml.Name             `xml:"Application"`
	Title                  []xmlTitle           `xml:"Title"`
	Isbn                   string               `xml:"Isbn"`
	StartupUserAccount     string               `xml:"StartupUserAccount"`
	UserAccountSwitchLock  string               `xml:"UserAccountSwitchLock"`
	AddOnContentRegistrationType string        `xml:"AddOnContentRegistrationType"`
	Attribute              string               `xml:"Attribute"`
	SupportedLanguage      []string             `xml:"SupportedLanguage"`
	ParentalControl        string               `xml:"ParentalControl"`
	Screenshot             string               `xml:"Screenshot"`
	VideoCapture           string               `xml:"VideoCapture"`
	DataLossConfirmation   string               `xml:"DataLossConfirmation"`
	PlayLogPolicy          string               `xml:"PlayLogPolicy"`
	PresenceGroupId        string               `xml:"PresenceGroupId"`
	DisplayVersion         string               `xml:"DisplayVersion"`
	Hdcp                   string               `xml:"Hdcp"`
	TitleVersion           uint32               `xml:"TitleVersion"`
	RequiredTitleVersion   uint32               `xml:"RequiredApplicationVersion"`
}

type xmlTitle struct {
	Language  string `xml:"Language,attr"`
	Name      string `xml:"Name"`
	Publisher string `xml:"Publisher"`
}

func boolYesNo(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

func screenshotName(v byte) string {
	if v == ScreenshotDeny {
		return "Deny"
	}
	return "Allow"
}

func videoCaptureName(v byte) string {
	switch v {
	case VideoCaptureDisable:
		return "Disable"
	case VideoCaptureEnable:
		return "Enable"
	default:
		return "Manual"
	}
}

func hdcpName(v byte) string {
	if v == HdcpRequired {
		return "Required"
	}
	return "None"
}

// GenerateAuthoringToolXml emits an XML document of the fields in
// authoringToolXML, using the enum-to-string helpers above (§4.7
// "generate_authoring_tool_xml"), for the given title version and
// required-title-version. Isbn and AddOnContentRegistrationType are
// always written empty.
func (c *Context) GenerateAuthoringToolXml(titleVersion, requiredTitleVersion uint32) ([]byte, error) {
	doc := authoringToolXML{
		Isbn:                  "",
		StartupUserAccount:    boolYesNo(c.raw[offStartupUserAccount] != 0),
		UserAccountSwitchLock: boolYesNo(c.raw[offUserAccountSwitchLock] != 0),
		Attribute:             fmt.Sprintf("%#x", leUint32(c.raw[offAttributeFlag:offAttributeFlag+4])),
		ParentalControl:       fmt.Sprintf("%#x", leUint32(c.raw[offParentalControlFlag:offParentalControlFlag+4])),
		Screenshot:            screenshotName(c.raw[offScreenshot]),
		VideoCapture:          videoCaptureName(c.raw[offVideoCapture]),
		DataLossConfirmation:  boolYesNo(c.raw[offDataLossConfirmation] != 0),
		PlayLogPolicy:         fmt.Sprintf("%d", c.raw[offPlayLogPolicy]),
		PresenceGroupId:       fmt.Sprintf("%#x", leUint64(c.raw[offPresenceGroupID:offPresenceGroupID+8])),
		DisplayVersion:        c.DisplayVersion(),
		Hdcp:                  hdcpName(c.raw[offHdcp]),
		TitleVersion:          titleVersion,
		RequiredTitleVersion:  requiredTitleVersion,
	}

	for _, l := range languageOrder {
		e := c.Title(l)
		if e.Name == "" && e.Publisher == "" {
			continue
		}
		doc.Title = append(doc.Title, xmlTitle{Language: l.String(), Name: e.Name, Publisher: e.Publisher})
	}
	for _, l := range c.SupportedLanguages() {
		doc.SupportedLanguage = append(doc.SupportedLanguage, l.String())
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("nacp.GenerateAuthoringToolXml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
