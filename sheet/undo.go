package sheet

// ChangeRecord is one undoable unit: the forward command fragments as
// executed and the reverse fragments that restore the prior state when
// replayed in reverse emission order.
type ChangeRecord struct {
	Name    string
	Command []string
	Undo    []string
}

// UndoStack is an ordered list of change records with a top-of-stack
// pointer distinct from the list length: records above the pointer are
// redoable until the next push truncates them.
//
// MaxRedo caps total retained records (oldest whole records are dropped).
// MaxUndo caps how many records keep their reverse lists; exceeding it
// strips only the oldest record's Undo list, leaving the record replayable
// for redo and audit. Zero means unlimited.
type UndoStack struct {
	MaxRedo int
	MaxUndo int

	stack []*ChangeRecord
	tos   int
}

func NewUndoStack() *UndoStack {
	return &UndoStack{tos: -1}
}

// PushChange starts a new record, discarding any redoable records above
// the pointer.
func (u *UndoStack) PushChange(name string) {
	u.stack = u.stack[:u.tos+1]
	u.stack = append(u.stack, &ChangeRecord{Name: name, Undo: []string{}})
	u.tos = len(u.stack) - 1

	if u.MaxRedo > 0 {
		for len(u.stack) > u.MaxRedo {
			u.stack = u.stack[1:]
			u.tos--
		}
	}
	if u.MaxUndo > 0 {
		kept := 0
		for i := u.tos; i >= 0; i-- {
			if u.stack[i].Undo == nil {
				continue
			}
			kept++
			if kept > u.MaxUndo {
				u.stack[i].Undo = nil
			}
		}
	}
}

// AddDo appends a forward fragment to the current record.
func (u *UndoStack) AddDo(cmd string) {
	if u.tos >= 0 {
		r := u.stack[u.tos]
		r.Command = append(r.Command, cmd)
	}
}

// AddUndo appends a reverse fragment to the current record.
func (u *UndoStack) AddUndo(cmd string) {
	if u.tos >= 0 {
		r := u.stack[u.tos]
		r.Undo = append(r.Undo, cmd)
	}
}

// Undo moves the pointer back and returns the record whose reverse list
// should be replayed, or nil when nothing is undoable (empty stack or the
// oldest record's reverse list was trimmed away).
func (u *UndoStack) Undo() *ChangeRecord {
	if u.tos < 0 || u.stack[u.tos].Undo == nil {
		return nil
	}
	r := u.stack[u.tos]
	u.tos--
	return r
}

// Redo moves the pointer forward and returns the record whose forward list
// should be replayed, or nil when nothing is redoable.
func (u *UndoStack) Redo() *ChangeRecord {
	if u.tos+1 >= len(u.stack) {
		return nil
	}
	u.tos++
	return u.stack[u.tos]
}

// TOS returns the current record, or nil.
func (u *UndoStack) TOS() *ChangeRecord {
	if u.tos < 0 {
		return nil
	}
	return u.stack[u.tos]
}

// Len is the number of retained records, redoable ones included.
func (u *UndoStack) Len() int { return len(u.stack) }
