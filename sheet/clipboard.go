package sheet

// Clipboard holds at most one serialized range, overwritten on every copy
// or cut. The payload is ordinary range-save text (version, copiedfrom,
// cells and compacted style tables), so it is sheet-independent and can be
// exported or loaded wholesale with loadclipboard.
type Clipboard struct {
	SaveText string
}

// Load replaces the clipboard contents.
func (cb *Clipboard) Load(savetext string) { cb.SaveText = savetext }

// Clear empties the clipboard.
func (cb *Clipboard) Clear() { cb.SaveText = "" }

// Empty reports whether anything is held.
func (cb *Clipboard) Empty() bool { return cb.SaveText == "" }
