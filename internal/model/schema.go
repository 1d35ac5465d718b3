package model

// Column describes one table column as reported by the catalog.
type Column struct {
	Name     string `json:"name" db:"column_name"`
	DataType string `json:"data_type" db:"data_type"`
	Nullable bool   `json:"nullable" db:"nullable"`
}

// TableSchema is the column layout of a schema-qualified table.
type TableSchema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}
