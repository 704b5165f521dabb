package nacp

// Patch is a byte range inside the 0x4000-byte NACP blob that a
// mutation touched, expressed relative to the start of /control.nacp
// so the caller can translate it into a RomFS-section hash-layer
// patch (offset = file's RomFS data_offset + Patch.Offset) and hand
// it to nca.Context.AddHashLayerPatch (§4.7 "produces a hash-layer
// patch for the Control NCA's RomFS section").
type Patch struct {
	Offset int64
	Data   []byte
}

// startupUserAccountOptionFlag bit layout (nacp.h
// NacpStartupUserAccountOptionFlag): bit 0 is is_optional, which
// governs the linked-account requirement.
const startupUserAccountOptionIsOptionalBit = 1 << 0

// saveDataOwnerRequirement bit layout: bit 0 of the byte immediately
// following startup_user_account_option_flag gates the
// "save data owner must match" validation the original performs in
// its nacpValidateAndPatch equivalent (SPEC_FULL.md C.5).
const saveDataOwnerRequirementBit = 1 << 0

// DisableLinkedAccountRequirement clears the corresponding bit in
// startup_user_account_option_flag (§4.7 mutation i).
func (c *Context) DisableLinkedAccountRequirement() Patch {
	off := offStartupUserAccountOptionFlag
	c.raw[off] &^= startupUserAccountOptionIsOptionalBit
	return Patch{Offset: int64(off), Data: []byte{c.raw[off]}}
}

// EnableScreenshots sets screenshot to Allow (§4.7 mutation ii).
func (c *Context) EnableScreenshots() Patch {
	c.raw[offScreenshot] = ScreenshotAllow
	return Patch{Offset: offScreenshot, Data: []byte{ScreenshotAllow}}
}

// EnableVideoCapture sets video_capture to Enable (§4.7 mutation iii).
func (c *Context) EnableVideoCapture() Patch {
	c.raw[offVideoCapture] = VideoCaptureEnable
	return Patch{Offset: offVideoCapture, Data: []byte{VideoCaptureEnable}}
}

// DisableHdcp sets hdcp to None (§4.7 mutation iv).
func (c *Context) DisableHdcp() Patch {
	c.raw[offHdcp] = HdcpNone
	return Patch{Offset: offHdcp, Data: []byte{HdcpNone}}
}

// DisableSaveDataOwnerRequirement clears the save-data-owner
// validation bit, the fifth, optional mutation SPEC_FULL.md C.5 adds
// beyond spec.md's four.
func (c *Context) DisableSaveDataOwnerRequirement() Patch {
	off := offStartupUserAccountOptionFlag + 1
	c.raw[off] &^= saveDataOwnerRequirementBit
	return Patch{Offset: int64(off), Data: []byte{c.raw[off]}}
}
