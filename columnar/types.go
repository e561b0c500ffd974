package columnar

import (
	"fmt"
)

// Type maps a raw column cell to a host-level value. The type, not the
// column, decides the mapping: integer cells widen to int64, varchar cells
// decode to string, and so on. Null cells map to nil for every type.
type Type interface {
	Name() string
	Kind() ColumnKind
	Value(column *Column, position int) (interface{}, error)
}

type booleanType struct{}

func (booleanType) Name() string     { return "boolean" }
func (booleanType) Kind() ColumnKind { return KindBool }

func (t booleanType) Value(column *Column, position int) (interface{}, error) {
	if err := checkCell(t, column, position); err != nil {
		return nil, err
	}
	if column.IsNull(position) {
		return nil, nil
	}
	return column.Bools[position], nil
}

type integerType struct{}

func (integerType) Name() string     { return "integer" }
func (integerType) Kind() ColumnKind { return KindInt32 }

// Value widens 32-bit cells to int64 so callers see one integer width.
func (t integerType) Value(column *Column, position int) (interface{}, error) {
	if err := checkCell(t, column, position); err != nil {
		return nil, err
	}
	if column.IsNull(position) {
		return nil, nil
	}
	return int64(column.Int32s[position]), nil
}

type bigintType struct{}

func (bigintType) Name() string     { return "bigint" }
func (bigintType) Kind() ColumnKind { return KindInt64 }

func (t bigintType) Value(column *Column, position int) (interface{}, error) {
	if err := checkCell(t, column, position); err != nil {
		return nil, err
	}
	if column.IsNull(position) {
		return nil, nil
	}
	return column.Int64s[position], nil
}

type doubleType struct{}

func (doubleType) Name() string     { return "double" }
func (doubleType) Kind() ColumnKind { return KindFloat64 }

func (t doubleType) Value(column *Column, position int) (interface{}, error) {
	if err := checkCell(t, column, position); err != nil {
		return nil, err
	}
	if column.IsNull(position) {
		return nil, nil
	}
	return column.Float64s[position], nil
}

type varcharType struct{}

func (varcharType) Name() string     { return "varchar" }
func (varcharType) Kind() ColumnKind { return KindString }

func (t varcharType) Value(column *Column, position int) (interface{}, error) {
	if err := checkCell(t, column, position); err != nil {
		return nil, err
	}
	if column.IsNull(position) {
		return nil, nil
	}
	return column.Strings[position], nil
}

var (
	Boolean Type = booleanType{}
	Integer Type = integerType{}
	Bigint  Type = bigintType{}
	Double  Type = doubleType{}
	Varchar Type = varcharType{}
)

// TypeFromName resolves a type by its schema name.
func TypeFromName(name string) (Type, error) {
	switch name {
	case "boolean":
		return Boolean, nil
	case "integer":
		return Integer, nil
	case "bigint":
		return Bigint, nil
	case "double":
		return Double, nil
	case "varchar":
		return Varchar, nil
	default:
		return nil, fmt.Errorf("unknown type: %s", name)
	}
}

func checkCell(t Type, column *Column, position int) error {
	if column.Kind != t.Kind() {
		return fmt.Errorf("type %s cannot read %s column", t.Name(), column.Kind)
	}
	if position < 0 || position >= column.Len() {
		return fmt.Errorf("position %d out of range, column has %d positions", position, column.Len())
	}
	return nil
}
