// Package database provides the SQL connection manager backing the `db`
// native module.
package database

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	// Database drivers scripts can open connections with.
	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Manager tracks named SQL connections opened by scripts.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// Connection is one open database handle.
type Connection struct {
	ID         string
	Driver     string
	DB         *sql.DB
	LastAccess time.Time
}

func NewManager() *Manager {
	return &Manager{conns: make(map[string]*Connection)}
}

// driverName maps the script-facing type names to registered drivers.
func driverName(kind string) (string, bool) {
	switch kind {
	case "sqlite":
		return "sqlite", true
	case "mysql":
		return "mysql", true
	case "postgres":
		return "postgres", true
	case "sqlserver":
		return "sqlserver", true
	}
	return "", false
}

// Connect opens and pings a connection under id.
func (m *Manager) Connect(id, kind, dsn string) error {
	driver, ok := driverName(kind)
	if !ok {
		return fmt.Errorf("unknown database type %q", kind)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return pkgerrors.Wrapf(err, "open %s", kind)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return pkgerrors.Wrapf(err, "ping %s", kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, exists := m.conns[id]; exists {
		old.DB.Close()
	}
	m.conns[id] = &Connection{ID: id, Driver: driver, DB: db, LastAccess: time.Now()}
	return nil
}

func (m *Manager) get(id string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[id]
	if !ok {
		return nil, fmt.Errorf("no open connection %q", id)
	}
	conn.LastAccess = time.Now()
	return conn, nil
}

// Exec runs a statement and reports the affected row count.
func (m *Manager) Exec(id, query string, args ...interface{}) (int64, error) {
	conn, err := m.get(id)
	if err != nil {
		return 0, err
	}
	result, err := conn.DB.Exec(query, args...)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "exec")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

// Query runs a query and materializes the rows as column-name maps.
func (m *Manager) Query(id, query string, args ...interface{}) ([]map[string]interface{}, error) {
	conn, err := m.get(id)
	if err != nil {
		return nil, err
	}
	rows, err := conn.DB.Query(query, args...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "query")
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "columns")
	}
	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		scan := make([]interface{}, len(cols))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, pkgerrors.Wrap(err, "scan")
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Close closes one connection.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	if !ok {
		return fmt.Errorf("no open connection %q", id)
	}
	delete(m.conns, id)
	return conn.DB.Close()
}

// CloseAll closes every open connection, for VM teardown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, conn := range m.conns {
		conn.DB.Close()
		delete(m.conns, id)
	}
}
