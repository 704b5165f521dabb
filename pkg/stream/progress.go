package stream

import "github.com/schollz/progressbar/v3"

// NewProgressBar builds a Session.Progress callback backed by a
// terminal progress bar (SPEC_FULL.md ambient stack "Progress / UX":
// long streaming transfers report progress through
// schollz/progressbar/v3 when a progress sink is attached). Purely
// cosmetic: it never gates correctness, matching §4.9's "optional"
// wording.
func NewProgressBar(description string, total int64) func(written, total2 int64) {
	bar := progressbar.DefaultBytes(total, description)
	var last int64
	return func(written, _ int64) {
		_ = bar.Add64(written - last)
		last = written
	}
}
