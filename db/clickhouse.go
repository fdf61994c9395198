package db

import (
	"context"
	"fmt"
	"log"
	"reflect"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/luminastats/lumina-core/structs"
)

// ClickHouse wraps the native connection and executes built queries
type ClickHouse struct {
	conn driver.Conn
}

// Connect establishes a connection to ClickHouse
func Connect(ctx context.Context, addr, database, username, password string) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Debug: false,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	log.Printf("connected to ClickHouse at %s", addr)

	return &ClickHouse{conn: conn}, nil
}

// Ping checks connection health
func (c *ClickHouse) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close closes the ClickHouse connection
func (c *ClickHouse) Close() error {
	return c.conn.Close()
}

// Execute runs a built query, binding its named parameters, and scans every
// result row into a generic map keyed by output column alias. Parameter
// values never touch the SQL text; they travel as typed named arguments.
func (c *ClickHouse) Execute(ctx context.Context, query structs.BuiltQuery) ([]structs.Row, error) {
	args := make([]any, 0, len(query.Params))
	for name, value := range query.Params {
		args = append(args, clickhouse.Named(name, value))
	}

	rows, err := c.conn.Query(ctx, query.SQL, args...)
	if err != nil {
		return nil, &structs.StoreError{SQL: query.SQL, Params: query.Params, Err: err}
	}
	defer rows.Close()

	columns := rows.Columns()
	types := rows.ColumnTypes()

	var result []structs.Row
	for rows.Next() {
		dest := make([]any, len(types))
		for i, t := range types {
			dest[i] = reflect.New(t.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, &structs.StoreError{SQL: query.SQL, Params: query.Params, Err: fmt.Errorf("scan failed: %w", err)}
		}

		row := make(structs.Row, len(columns))
		for i, col := range columns {
			row[col] = reflect.ValueOf(dest[i]).Elem().Interface()
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, &structs.StoreError{SQL: query.SQL, Params: query.Params, Err: fmt.Errorf("row iteration failed: %w", err)}
	}

	if result == nil {
		result = []structs.Row{}
	}

	return result, nil
}
