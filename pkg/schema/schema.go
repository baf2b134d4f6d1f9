// pkg/schema/schema.go
// Package schema manages the catalog: a B+tree (rooted at the header's
// schema_root) holding one serialized entry per table or index, keyed by a
// sequential id. The catalog is just another tree in the same file, so a
// catalog insert can split pages and move the root; every mutation writes
// the root back to the header.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"keel/pkg/btree"
	"keel/pkg/pager"
)

var (
	ErrNotInitialized = errors.New("schema catalog not initialized")
	ErrTableExists    = errors.New("table already exists")
	ErrIndexExists    = errors.New("index already exists")
)

// ColumnDef names a column when creating a table.
type ColumnDef struct {
	Name string
	Type string
}

// Initialize creates the catalog tree in a new database, records its root
// in the file header, and flushes.
func Initialize(p *pager.Pager) (uint32, error) {
	root, err := btree.Create(p)
	if err != nil {
		return 0, err
	}
	p.HeaderMut().SchemaRoot = root
	if err := p.FlushAll(); err != nil {
		return 0, err
	}
	return root, nil
}

// CreateTable registers a new table and returns the root page of its data
// tree. Names are compared case-insensitively.
func CreateTable(p *pager.Pager, tableName string, columns []ColumnDef, sql string) (uint32, error) {
	if p.Header().SchemaRoot == 0 {
		return 0, ErrNotInitialized
	}

	existing, err := FindTable(p, tableName)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, fmt.Errorf("%w: %q", ErrTableExists, tableName)
	}

	tableRoot, err := btree.Create(p)
	if err != nil {
		return 0, err
	}

	cols := make([]ColumnInfo, len(columns))
	for i, c := range columns {
		cols[i] = ColumnInfo{Name: c.Name, DataType: c.Type, Index: uint32(i)}
	}

	entry := &SchemaEntry{
		ObjectType: ObjectTable,
		Name:       tableName,
		TableName:  tableName,
		RootPage:   tableRoot,
		SQL:        sql,
		Columns:    cols,
	}
	if err := insertEntry(p, entry); err != nil {
		return 0, err
	}
	return tableRoot, nil
}

// CreateIndex registers a new index over one column and returns the root
// page of its tree. columnIndex is the column's position in the table.
func CreateIndex(p *pager.Pager, indexName, tableName, columnName string, columnIndex uint32, sql string) (uint32, error) {
	if p.Header().SchemaRoot == 0 {
		return 0, ErrNotInitialized
	}

	existing, err := FindIndex(p, indexName)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, fmt.Errorf("%w: %q", ErrIndexExists, indexName)
	}

	indexRoot, err := btree.Create(p)
	if err != nil {
		return 0, err
	}

	entry := &SchemaEntry{
		ObjectType: ObjectIndex,
		Name:       indexName,
		TableName:  tableName,
		RootPage:   indexRoot,
		SQL:        sql,
		Columns:    []ColumnInfo{{Name: columnName, Index: columnIndex}},
	}
	if err := insertEntry(p, entry); err != nil {
		return 0, err
	}
	return indexRoot, nil
}

// FindTable returns the table entry matching name case-insensitively, or
// nil when no such table exists.
func FindTable(p *pager.Pager, name string) (*SchemaEntry, error) {
	return findByName(p, ObjectTable, name)
}

// FindIndex returns the index entry matching name case-insensitively, or
// nil when no such index exists.
func FindIndex(p *pager.Pager, name string) (*SchemaEntry, error) {
	return findByName(p, ObjectIndex, name)
}

// ListTables returns every table entry in id order.
func ListTables(p *pager.Pager) ([]*SchemaEntry, error) {
	return listByType(p, ObjectTable)
}

// ListIndexes returns every index entry in id order.
func ListIndexes(p *pager.Pager) ([]*SchemaEntry, error) {
	return listByType(p, ObjectIndex)
}

func insertEntry(p *pager.Pager, entry *SchemaEntry) error {
	id, err := nextID(p)
	if err != nil {
		return err
	}
	entry.ID = id

	payload, err := entry.Encode()
	if err != nil {
		return err
	}

	tree := btree.New(p, p.Header().SchemaRoot)
	if err := tree.Insert(id, payload); err != nil {
		return err
	}

	// The insert may have split the catalog root.
	p.HeaderMut().SchemaRoot = tree.RootPage()
	return nil
}

func findByName(p *pager.Pager, objectType ObjectType, name string) (*SchemaEntry, error) {
	entries, err := listEntries(p)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.ObjectType == objectType && strings.EqualFold(entry.Name, name) {
			return entry, nil
		}
	}
	return nil, nil
}

func listByType(p *pager.Pager, objectType ObjectType) ([]*SchemaEntry, error) {
	entries, err := listEntries(p)
	if err != nil {
		return nil, err
	}
	filtered := make([]*SchemaEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.ObjectType == objectType {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

func listEntries(p *pager.Pager) ([]*SchemaEntry, error) {
	root := p.Header().SchemaRoot
	if root == 0 {
		return nil, nil
	}

	tree := btree.New(p, root)
	records, err := tree.ScanAll()
	if err != nil {
		return nil, err
	}

	entries := make([]*SchemaEntry, 0, len(records))
	for _, record := range records {
		entry, err := DecodeEntry(record.Payload)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", record.Key, err)
		}
		entry.ID = record.Key
		entries = append(entries, entry)
	}
	return entries, nil
}

// nextID returns max existing key + 1, starting at 1 for an empty catalog.
func nextID(p *pager.Pager) (int64, error) {
	tree := btree.New(p, p.Header().SchemaRoot)
	records, err := tree.ScanAll()
	if err != nil {
		return 0, err
	}

	var maxID int64
	for _, record := range records {
		if record.Key > maxID {
			maxID = record.Key
		}
	}
	return maxID + 1, nil
}
