package sheet

// Cell datatypes. Blank cells are usually absent from the map entirely;
// a present cell with DataType "" is equivalent to a blank.
const (
	CellTypeValue    = "v"
	CellTypeText     = "t"
	CellTypeFormula  = "f"
	CellTypeConstant = "c"
	CellTypeBlank    = ""
)

// Cell is one grid position. Style fields are indices into the sheet's
// style tables; 0 always means "use default". ParseInfo and DisplayString
// are caches: any edit clears them and consumers must regenerate.
type Cell struct {
	DataType  string
	DataNum   float64
	DataStr   string
	ValueType string
	Formula   string

	ParseInfo     []Token
	DisplayString string
	Errors        string

	Bt, Br, Bb, Bl     int
	Layout             int
	Font               int
	Color              int
	Bgcolor            int
	CellFormat         int
	NontextValueFormat int
	TextValueFormat    int

	Colspan, Rowspan int // 0 = unset, treated as 1

	Cssc string
	Csss string

	Mod     bool
	Comment string
}

// Clone returns a deep copy. Caches are copied as-is; they are invalidated
// on the next edit of either copy.
func (c *Cell) Clone() *Cell {
	n := *c
	if c.ParseInfo != nil {
		n.ParseInfo = make([]Token, len(c.ParseInfo))
		copy(n.ParseInfo, c.ParseInfo)
	}
	return &n
}

// IsBlank reports whether the cell carries no content and no formatting,
// meaning it can be dropped from the map.
func (c *Cell) IsBlank() bool {
	return c.DataType == CellTypeBlank &&
		c.Bt == 0 && c.Br == 0 && c.Bb == 0 && c.Bl == 0 &&
		c.Layout == 0 && c.Font == 0 && c.Color == 0 && c.Bgcolor == 0 &&
		c.CellFormat == 0 && c.NontextValueFormat == 0 && c.TextValueFormat == 0 &&
		c.Colspan <= 1 && c.Rowspan <= 1 &&
		c.Cssc == "" && c.Csss == "" && !c.Mod && c.Comment == ""
}

// Value packs the stored value for comparison and evaluation.
func (c *Cell) Value() Value {
	if c == nil || c.DataType == CellTypeBlank {
		return Value{Type: "b"}
	}
	return Value{Num: c.DataNum, Str: c.DataStr, Type: c.ValueType}
}

// SetValue stores a computed value and invalidates the display cache.
func (c *Cell) SetValue(v Value) {
	c.DataNum = v.Num
	c.DataStr = v.Str
	c.ValueType = v.Type
	c.DisplayString = ""
}

// invalidateCaches drops derived state after any edit.
func (c *Cell) invalidateCaches() {
	c.ParseInfo = nil
	c.DisplayString = ""
}

// clearContent removes value/formula state but keeps formatting.
func (c *Cell) clearContent() {
	c.DataType = CellTypeBlank
	c.DataNum = 0
	c.DataStr = ""
	c.ValueType = ""
	c.Formula = ""
	c.Errors = ""
	c.invalidateCaches()
}

// clearFormats resets every style field to the defaults.
func (c *Cell) clearFormats() {
	c.Bt, c.Br, c.Bb, c.Bl = 0, 0, 0, 0
	c.Layout, c.Font, c.Color, c.Bgcolor, c.CellFormat = 0, 0, 0, 0, 0
	c.NontextValueFormat, c.TextValueFormat = 0, 0
	c.Colspan, c.Rowspan = 0, 0
	c.Cssc, c.Csss = "", ""
	c.Mod = false
	c.Comment = ""
	c.DisplayString = ""
}
