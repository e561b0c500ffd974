package columnar

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// ColumnKind identifies the physical storage of a column's cells.
type ColumnKind uint8

const (
	KindBool ColumnKind = iota
	KindInt32
	KindInt64
	KindFloat64
	KindString
)

// String returns the string representation of ColumnKind.
func (k ColumnKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Column is one typed vector of a page. Null positions are tracked in a
// roaring bitmap; the corresponding cell holds the kind's zero value.
type Column struct {
	Kind     ColumnKind
	Bools    []bool
	Int32s   []int32
	Int64s   []int64
	Float64s []float64
	Strings  []string
	Nulls    *roaring.Bitmap
}

// NewColumn creates an empty column of the given kind.
func NewColumn(kind ColumnKind) *Column {
	return &Column{Kind: kind}
}

// Len returns the number of positions in the column.
func (c *Column) Len() int {
	switch c.Kind {
	case KindBool:
		return len(c.Bools)
	case KindInt32:
		return len(c.Int32s)
	case KindInt64:
		return len(c.Int64s)
	case KindFloat64:
		return len(c.Float64s)
	case KindString:
		return len(c.Strings)
	default:
		return 0
	}
}

// IsNull reports whether the cell at position is null.
func (c *Column) IsNull(position int) bool {
	return c.Nulls != nil && c.Nulls.Contains(uint32(position))
}

// AppendNull appends a null cell.
func (c *Column) AppendNull() {
	position := uint32(c.Len())
	switch c.Kind {
	case KindBool:
		c.Bools = append(c.Bools, false)
	case KindInt32:
		c.Int32s = append(c.Int32s, 0)
	case KindInt64:
		c.Int64s = append(c.Int64s, 0)
	case KindFloat64:
		c.Float64s = append(c.Float64s, 0)
	case KindString:
		c.Strings = append(c.Strings, "")
	}
	if c.Nulls == nil {
		c.Nulls = roaring.New()
	}
	c.Nulls.Add(position)
}

func (c *Column) AppendBool(v bool) {
	c.Bools = append(c.Bools, v)
}

func (c *Column) AppendInt32(v int32) {
	c.Int32s = append(c.Int32s, v)
}

func (c *Column) AppendInt64(v int64) {
	c.Int64s = append(c.Int64s, v)
}

func (c *Column) AppendFloat64(v float64) {
	c.Float64s = append(c.Float64s, v)
}

func (c *Column) AppendString(v string) {
	c.Strings = append(c.Strings, v)
}

// Equal reports whether two columns hold the same kind, cells, and nulls.
func (c *Column) Equal(other *Column) bool {
	if c.Kind != other.Kind || c.Len() != other.Len() {
		return false
	}
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) != other.IsNull(i) {
			return false
		}
		if c.IsNull(i) {
			continue
		}
		switch c.Kind {
		case KindBool:
			if c.Bools[i] != other.Bools[i] {
				return false
			}
		case KindInt32:
			if c.Int32s[i] != other.Int32s[i] {
				return false
			}
		case KindInt64:
			if c.Int64s[i] != other.Int64s[i] {
				return false
			}
		case KindFloat64:
			if c.Float64s[i] != other.Float64s[i] {
				return false
			}
		case KindString:
			if c.Strings[i] != other.Strings[i] {
				return false
			}
		}
	}
	return true
}

// Page is one columnar batch of rows exchanged between stages: a fixed set
// of channels, each with the same position count.
type Page struct {
	Columns []*Column
}

// NewPage builds a page from its columns, validating equal lengths.
func NewPage(columns ...*Column) (*Page, error) {
	for i := 1; i < len(columns); i++ {
		if columns[i].Len() != columns[0].Len() {
			return nil, fmt.Errorf("column %d has %d positions, expected %d", i, columns[i].Len(), columns[0].Len())
		}
	}
	return &Page{Columns: columns}, nil
}

// ChannelCount returns the number of columns in the page.
func (p *Page) ChannelCount() int {
	return len(p.Columns)
}

// PositionCount returns the number of rows in the page.
func (p *Page) PositionCount() int {
	if len(p.Columns) == 0 {
		return 0
	}
	return p.Columns[0].Len()
}

// Equal reports whether two pages hold identical values in identical order.
func (p *Page) Equal(other *Page) bool {
	if p.ChannelCount() != other.ChannelCount() {
		return false
	}
	for i, column := range p.Columns {
		if !column.Equal(other.Columns[i]) {
			return false
		}
	}
	return true
}
