// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/log"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Persistence struct {
	db *sqlx.DB
	l  *logrus.Logger
}

func NewPersistence(datasource string) (*Persistence, error) {
	db, err := sqlx.Connect("sqlite3", withForeignKeys(datasource))
	if err != nil {
		return nil, storeErr("could not open db", err)
	}
	// sqlite allows a single writer, a single connection also keeps
	// :memory: databases alive for the lifetime of the pool
	db.SetMaxOpenConns(1)

	l := log.Logger(log.LOG_PERSISTENCE)
	l.WithField("file", datasource).Info("Connected")

	_, err = db.Exec(`PRAGMA journal_mode=WAL`)
	if err != nil {
		return nil, fmt.Errorf("could not set journal mode: %w", err)
	}
	_, err = db.Exec(`PRAGMA synchronous=normal`)
	if err != nil {
		return nil, fmt.Errorf("could not set synchronous mode: %w", err)
	}

	migrationSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrations,
		Root:       "migrations",
	}
	appliedMigrations, err := migrate.Exec(db.DB, "sqlite3", migrationSource, migrate.Up)
	if err != nil {
		return nil, fmt.Errorf("could not migrate to newest version: %w", err)
	}

	l.WithField("migrations", appliedMigrations).Debug("Executed migrations")

	return &Persistence{
		db: db,
		l:  l,
	}, nil
}

func (p *Persistence) Close() error {
	err := p.db.Close()
	if err != nil {
		return fmt.Errorf("could not close db: %w", err)
	}
	p.l.Info("Disconnected")
	return nil
}

func withForeignKeys(datasource string) string {
	if strings.Contains(datasource, "_foreign_keys") {
		return datasource
	}
	if strings.Contains(datasource, "?") {
		return datasource + "&_foreign_keys=on"
	}
	return datasource + "?_foreign_keys=on"
}

// storeErr marks err as a storage failure so callers can test for
// domain.ErrStoreUnavailable.
func storeErr(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, domain.ErrStoreUnavailable, err)
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func txEnd(tx *sqlx.Tx, err error) error {
	if err == nil {
		err = tx.Commit()
		if err != nil {
			return storeErr("could not commit tx", err)
		}
	} else {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil {
			return fmt.Errorf("%w, could not rollback tx: %w", err, rollbackErr)
		} else {
			return err
		}
	}

	return nil
}
