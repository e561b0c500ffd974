package plan

import (
	"fmt"
	"sync"

	"github.com/parquet-go/parquet-go"

	"gridsql/core"
)

// TableMetadata describes one registered table: where its Parquet data
// lives, its schema in channel order, and the row count of each row group
// (the unit split enumeration works in).
type TableMetadata struct {
	Name         string
	Path         string
	Columns      []Column
	RowGroupRows []int64
}

// RowCount returns the total number of rows across all row groups.
func (tm TableMetadata) RowCount() int64 {
	var total int64
	for _, rows := range tm.RowGroupRows {
		total += rows
	}
	return total
}

// Catalog maps table names to their Parquet-backed metadata. It stands in
// for the metastore the planner resolves tables against.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]TableMetadata
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tables: make(map[string]TableMetadata)}
}

// RegisterTable opens the Parquet object at path, infers the table schema
// from its file schema, and registers it under name.
func (c *Catalog) RegisterTable(name, path string) error {
	pf, closer, err := core.OpenParquetFile(path)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	columns := make([]Column, 0, len(pf.Schema().Fields()))
	for _, field := range pf.Schema().Fields() {
		typeName, err := typeNameForParquetKind(field.Type().Kind())
		if err != nil {
			return fmt.Errorf("table %s column %s: %w", name, field.Name(), err)
		}
		columns = append(columns, Column{Name: field.Name(), Type: typeName})
	}

	rowGroupRows := make([]int64, 0, len(pf.RowGroups()))
	for _, rowGroup := range pf.RowGroups() {
		rowGroupRows = append(rowGroupRows, rowGroup.NumRows())
	}

	c.RegisterTableMetadata(TableMetadata{
		Name:         name,
		Path:         path,
		Columns:      columns,
		RowGroupRows: rowGroupRows,
	})
	return nil
}

// RegisterTableMetadata registers a table with explicit metadata.
func (c *Catalog) RegisterTableMetadata(meta TableMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[meta.Name] = meta
}

// Table resolves a registered table by name.
func (c *Catalog) Table(name string) (TableMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, exists := c.tables[name]
	return meta, exists
}

// Tables returns the names of all registered tables.
func (c *Catalog) Tables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	return names
}

func typeNameForParquetKind(kind parquet.Kind) (string, error) {
	switch kind {
	case parquet.Boolean:
		return "boolean", nil
	case parquet.Int32:
		return "integer", nil
	case parquet.Int64:
		return "bigint", nil
	case parquet.Float, parquet.Double:
		return "double", nil
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return "varchar", nil
	default:
		return "", fmt.Errorf("unsupported parquet kind: %v", kind)
	}
}
