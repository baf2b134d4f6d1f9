// pkg/schema/entry.go
package schema

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ObjectType classifies a schema entry.
type ObjectType uint8

const (
	ObjectTable ObjectType = 0
	ObjectIndex ObjectType = 1
)

// String returns the object type name.
func (ot ObjectType) String() string {
	switch ot {
	case ObjectTable:
		return "table"
	case ObjectIndex:
		return "index"
	default:
		return "unknown"
	}
}

var (
	ErrEntryTruncated = errors.New("truncated schema entry")
	ErrEntryInvalid   = errors.New("invalid schema entry")
	ErrEntryNotUTF8   = errors.New("schema entry string is not valid UTF-8")
	ErrStringTooLong  = errors.New("schema entry string too long")
	ErrTooManyColumns = errors.New("too many columns in schema entry")
)

// ColumnInfo is the column metadata stored with a table entry. Index is
// the column's 0-based position in its table.
type ColumnInfo struct {
	Name     string
	DataType string
	Index    uint32
}

// SchemaEntry describes one database object. The ID is the entry's key in
// the catalog tree and is assigned on insert.
type SchemaEntry struct {
	ID         int64
	ObjectType ObjectType
	Name       string
	TableName  string // for indexes: the indexed table; for tables: the table itself
	RootPage   uint32
	SQL        string
	Columns    []ColumnInfo
}

// Serialization format (all integers big-endian):
//
//	object_type  u8 (0 = table, 1 = index)
//	root_page    u32
//	name         u16 length + UTF-8 bytes
//	table_name   u16 length + UTF-8 bytes
//	sql          u16 length + UTF-8 bytes
//	column_count u16
//	per column:  name string, data_type string, column_index u32

// Encode serializes the entry. The ID is not stored; it lives in the
// B+tree key.
func (e *SchemaEntry) Encode() ([]byte, error) {
	var buf []byte

	buf = append(buf, byte(e.ObjectType))

	var pageBytes [4]byte
	binary.BigEndian.PutUint32(pageBytes[:], e.RootPage)
	buf = append(buf, pageBytes[:]...)

	var err error
	if buf, err = appendString(buf, e.Name); err != nil {
		return nil, err
	}
	if buf, err = appendString(buf, e.TableName); err != nil {
		return nil, err
	}
	if buf, err = appendString(buf, e.SQL); err != nil {
		return nil, err
	}

	if len(e.Columns) > 0xFFFF {
		return nil, ErrTooManyColumns
	}
	var countBytes [2]byte
	binary.BigEndian.PutUint16(countBytes[:], uint16(len(e.Columns)))
	buf = append(buf, countBytes[:]...)

	for _, col := range e.Columns {
		if buf, err = appendString(buf, col.Name); err != nil {
			return nil, err
		}
		if buf, err = appendString(buf, col.DataType); err != nil {
			return nil, err
		}
		var idxBytes [4]byte
		binary.BigEndian.PutUint32(idxBytes[:], col.Index)
		buf = append(buf, idxBytes[:]...)
	}

	return buf, nil
}

// DecodeEntry deserializes an entry. Bounds and UTF-8 validity are checked
// strictly; the ID is left for the caller to fill from the tree key.
func DecodeEntry(data []byte) (*SchemaEntry, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrEntryTruncated)
	}

	pos := 0
	objectType := ObjectType(data[pos])
	pos++
	if objectType != ObjectTable && objectType != ObjectIndex {
		return nil, fmt.Errorf("%w: unknown object type %d", ErrEntryInvalid, objectType)
	}

	rootPage, err := readU32(data, &pos)
	if err != nil {
		return nil, err
	}
	name, err := readString(data, &pos)
	if err != nil {
		return nil, err
	}
	tableName, err := readString(data, &pos)
	if err != nil {
		return nil, err
	}
	sql, err := readString(data, &pos)
	if err != nil {
		return nil, err
	}

	colCount, err := readU16(data, &pos)
	if err != nil {
		return nil, err
	}
	columns := make([]ColumnInfo, 0, colCount)
	for i := 0; i < int(colCount); i++ {
		colName, err := readString(data, &pos)
		if err != nil {
			return nil, err
		}
		colType, err := readString(data, &pos)
		if err != nil {
			return nil, err
		}
		colIndex, err := readU32(data, &pos)
		if err != nil {
			return nil, err
		}
		columns = append(columns, ColumnInfo{Name: colName, DataType: colType, Index: colIndex})
	}

	return &SchemaEntry{
		ObjectType: objectType,
		Name:       name,
		TableName:  tableName,
		RootPage:   rootPage,
		SQL:        sql,
		Columns:    columns,
	}, nil
}

func appendString(buf []byte, s string) ([]byte, error) {
	if len(s) > 0xFFFF {
		return nil, fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
	}
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(s)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, s...), nil
}

func readU16(data []byte, pos *int) (uint16, error) {
	if *pos+2 > len(data) {
		return 0, ErrEntryTruncated
	}
	v := binary.BigEndian.Uint16(data[*pos:])
	*pos += 2
	return v, nil
}

func readU32(data []byte, pos *int) (uint32, error) {
	if *pos+4 > len(data) {
		return 0, ErrEntryTruncated
	}
	v := binary.BigEndian.Uint32(data[*pos:])
	*pos += 4
	return v, nil
}

func readString(data []byte, pos *int) (string, error) {
	length, err := readU16(data, pos)
	if err != nil {
		return "", err
	}
	if *pos+int(length) > len(data) {
		return "", fmt.Errorf("%w: string runs past payload", ErrEntryTruncated)
	}
	raw := data[*pos : *pos+int(length)]
	if !utf8.Valid(raw) {
		return "", ErrEntryNotUTF8
	}
	*pos += int(length)
	return string(raw), nil
}
