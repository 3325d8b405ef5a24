// Package store persists sheet saves in a SQL database. Both sqlite3 and
// mysql drivers are registered; the driver name picks one at Open time.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Store is a sheet-save repository over database/sql.
type Store struct {
	db *sql.DB
}

// Open connects and makes sure the schema exists. driver is "sqlite3" or
// "mysql".
func Open(driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %v", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("reaching %s database: %v", driver, err)
	}
	st := &Store{db: db}
	if err := st.init(); err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

func (st *Store) init() error {
	_, err := st.db.Exec(`CREATE TABLE IF NOT EXISTS sheets (
		name VARCHAR(255) NOT NULL PRIMARY KEY,
		savetext TEXT NOT NULL,
		updated BIGINT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating sheets table: %v", err)
	}
	return nil
}

// SaveSheet stores a sheet's save text under a name, replacing any prior
// version. Delete-then-insert keeps the statement portable across both
// drivers.
func (st *Store) SaveSheet(name, savetext string) error {
	tx, err := st.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM sheets WHERE name = ?", name); err != nil {
		tx.Rollback()
		return err
	}
	_, err = tx.Exec("INSERT INTO sheets (name, savetext, updated) VALUES (?, ?, ?)",
		name, savetext, time.Now().Unix())
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// LoadSheet returns the save text stored under a name.
func (st *Store) LoadSheet(name string) (string, error) {
	rows, err := st.db.Query("SELECT savetext FROM sheets WHERE name = ?", name)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	if !rows.Next() {
		return "", fmt.Errorf("no sheet named %q", name)
	}
	var savetext string
	if err := rows.Scan(&savetext); err != nil {
		return "", err
	}
	return savetext, nil
}

// ListSheets returns the stored sheet names, most recently updated first.
func (st *Store) ListSheets() ([]string, error) {
	rows, err := st.db.Query("SELECT name FROM sheets ORDER BY updated DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteSheet removes a stored sheet. Deleting a missing sheet is not an
// error.
func (st *Store) DeleteSheet(name string) error {
	_, err := st.db.Exec("DELETE FROM sheets WHERE name = ?", name)
	return err
}

func (st *Store) Close() error { return st.db.Close() }
