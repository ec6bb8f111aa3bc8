package ingest

import "regexp"

// ansiPattern matches CSI sequences (colours, cursor movement), OSC
// sequences terminated by BEL or ST, and two-byte escapes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[@-Z\\-_]`)

// StripANSI removes terminal escape sequences from pasted text.
func StripANSI(b []byte) []byte {
	return ansiPattern.ReplaceAll(b, nil)
}
