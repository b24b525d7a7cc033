// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/CrawX/go-imap-phishguard/domain"

	"github.com/sirupsen/logrus"
)

type accountRow struct {
	Id            int64        `db:"id"`
	UserId        int64        `db:"user_id"`
	Address       string       `db:"address"`
	Host          string       `db:"host"`
	Port          int          `db:"port"`
	TLS           bool         `db:"tls"`
	Username      string       `db:"username"`
	CredentialRef string       `db:"credential_ref"`
	Active        bool         `db:"active"`
	LastSyncAt    sql.NullTime `db:"last_sync_at"`
}

func (r *accountRow) account() *domain.Account {
	a := &domain.Account{
		Id:            r.Id,
		UserId:        r.UserId,
		Address:       r.Address,
		Host:          r.Host,
		Port:          r.Port,
		TLS:           r.TLS,
		Username:      r.Username,
		CredentialRef: r.CredentialRef,
		Active:        r.Active,
	}
	if r.LastSyncAt.Valid {
		t := r.LastSyncAt.Time
		a.LastSyncAt = &t
	}
	return a
}

const accountColumns = `id, user_id, address, host, port, tls, username, credential_ref, active, last_sync_at`

// UpsertAccount registers an account keyed by owner and address. Existing
// accounts get their connection settings updated, last_sync_at is kept.
func (p *Persistence) UpsertAccount(ctx context.Context, a domain.Account) (*domain.Account, error) {
	_, err := p.db.NamedExecContext(
		ctx,
		`INSERT INTO accounts (user_id, address, host, port, tls, username, credential_ref, active)
		VALUES (:user_id, :address, :host, :port, :tls, :username, :credential_ref, :active)
		ON CONFLICT (user_id, address) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			tls = excluded.tls,
			username = excluded.username,
			credential_ref = excluded.credential_ref,
			active = excluded.active`,
		&accountRow{
			UserId:        a.UserId,
			Address:       a.Address,
			Host:          a.Host,
			Port:          a.Port,
			TLS:           a.TLS,
			Username:      a.Username,
			CredentialRef: a.CredentialRef,
			Active:        a.Active,
		},
	)
	if err != nil {
		return nil, storeErr("could not save account", err)
	}

	row := accountRow{}
	err = p.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE user_id = ? AND address = ?`, a.UserId, a.Address)
	if err != nil {
		return nil, storeErr("could not query db", err)
	}

	p.l.WithFields(logrus.Fields{"account": row.Address, "id": row.Id}).Info("Persisted account")
	return row.account(), nil
}

func (p *Persistence) Account(ctx context.Context, id int64) (*domain.Account, error) {
	row := accountRow{}
	err := p.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	if notFound(err) {
		return nil, fmt.Errorf("account %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("could not query db", err)
	}
	return row.account(), nil
}

func (p *Persistence) ActiveAccounts(ctx context.Context) ([]*domain.Account, error) {
	rows := []accountRow{}
	err := p.db.SelectContext(ctx, &rows, `SELECT `+accountColumns+` FROM accounts WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, storeErr("could not query db", err)
	}

	accounts := make([]*domain.Account, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, rows[i].account())
	}
	return accounts, nil
}

func (p *Persistence) DeleteAccount(ctx context.Context, id int64) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return storeErr("could not delete account", err)
	}
	return nil
}

func (p *Persistence) TouchAccountSync(ctx context.Context, accountId int64, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE accounts SET last_sync_at = ? WHERE id = ?`, at.UTC(), accountId)
	if err != nil {
		return storeErr("could not update last sync", err)
	}
	return nil
}

type mailboxRow struct {
	Id          int64  `db:"id"`
	AccountId   int64  `db:"account_id"`
	Name        string `db:"name"`
	Delimiter   string `db:"delimiter"`
	UidValidity uint32 `db:"uid_validity"`
	LastUid     uint32 `db:"last_uid"`
}

func (r *mailboxRow) mailbox() *domain.Mailbox {
	return &domain.Mailbox{
		Id:          r.Id,
		AccountId:   r.AccountId,
		Name:        r.Name,
		Delimiter:   r.Delimiter,
		UidValidity: r.UidValidity,
		LastUid:     r.LastUid,
	}
}

func (p *Persistence) UpsertMailbox(ctx context.Context, accountId int64, name, delimiter string) (*domain.Mailbox, error) {
	_, err := p.db.ExecContext(
		ctx,
		`INSERT INTO mailboxes (account_id, name, delimiter) VALUES (?, ?, ?)
		ON CONFLICT (account_id, name) DO UPDATE SET delimiter = excluded.delimiter`,
		accountId, name, delimiter,
	)
	if err != nil {
		return nil, storeErr("could not save mailbox", err)
	}

	row := mailboxRow{}
	err = p.db.GetContext(
		ctx,
		&row,
		`SELECT id, account_id, name, delimiter, uid_validity, last_uid FROM mailboxes WHERE account_id = ? AND name = ?`,
		accountId, name,
	)
	if err != nil {
		return nil, storeErr("could not query db", err)
	}

	return row.mailbox(), nil
}

// ResetMailbox starts a new uid validity epoch: every uid mapping of the
// mailbox is discarded and last_uid falls back to zero.
func (p *Persistence) ResetMailbox(ctx context.Context, mailboxId int64, uidValidity uint32) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("could not start transaction", err)
	}

	unmapped, err := tx.ExecContext(ctx, `UPDATE messages SET uid = NULL WHERE mailbox_id = ?`, mailboxId)
	if err != nil {
		return txEnd(tx, storeErr("could not discard uids", err))
	}

	result, err := tx.ExecContext(ctx, `UPDATE mailboxes SET uid_validity = ?, last_uid = 0 WHERE id = ?`, uidValidity, mailboxId)
	if err != nil {
		return txEnd(tx, storeErr("could not reset mailbox", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return txEnd(tx, storeErr("could not get num of affected rows", err))
	}
	if affected != 1 {
		return txEnd(tx, fmt.Errorf("mailbox %d: %w", mailboxId, domain.ErrNotFound))
	}

	err = txEnd(tx, nil)
	if err != nil {
		return err
	}

	count, _ := unmapped.RowsAffected()
	p.l.WithFields(logrus.Fields{"mailbox": mailboxId, "uidvalidity": uidValidity, "unmapped": count}).Info("Reset mailbox")
	return nil
}
