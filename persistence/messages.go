// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"

	"github.com/CrawX/go-imap-phishguard/domain"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const listPageSize = 100

type messageRow struct {
	Id           int64         `db:"id"`
	AccountId    int64         `db:"account_id"`
	UserId       int64         `db:"user_id"`
	MailboxId    int64         `db:"mailbox_id"`
	Uid          sql.NullInt64 `db:"uid"`
	MessageId    string        `db:"message_id"`
	Subject      string        `db:"subject"`
	Sender       string        `db:"sender"`
	Recipients   string        `db:"recipients"`
	Size         int64         `db:"size"`
	ReceivedAt   sql.NullTime  `db:"received_at"`
	Seen         bool          `db:"seen"`
	Flagged      bool          `db:"flagged"`
	Answered     bool          `db:"answered"`
	Deleted      bool          `db:"deleted"`
	Draft        bool          `db:"draft"`
	TextBody     string        `db:"text_body"`
	HtmlBody     string        `db:"html_body"`
	Headers      string        `db:"headers"`
	Status       string        `db:"status"`
	Level        string        `db:"level"`
	Score        float64       `db:"score"`
	Reason       string        `db:"reason"`
	ClassifiedAt sql.NullTime  `db:"classified_at"`
}

const messageColumns = `m.id, m.account_id, a.user_id, m.mailbox_id, m.uid, m.message_id, m.subject, m.sender,
	m.recipients, m.size, m.received_at, m.seen, m.flagged, m.answered, m.deleted, m.draft, m.text_body,
	m.html_body, m.headers, m.status, m.level, m.score, m.reason, m.classified_at`

const messageFrom = ` FROM messages m JOIN accounts a ON a.id = m.account_id `

func (r *messageRow) message() *domain.Message {
	m := &domain.Message{
		Id:        r.Id,
		AccountId: r.AccountId,
		UserId:    r.UserId,
		MailboxId: r.MailboxId,
		MessageMeta: domain.MessageMeta{
			MessageId: r.MessageId,
			Subject:   r.Subject,
			Sender:    r.Sender,
			Size:      uint32(r.Size),
			Flags:     r.flags(),
			TextBody:  r.TextBody,
			HtmlBody:  r.HtmlBody,
		},
		Classification: domain.Classification{
			Status: domain.Status(r.Status),
			Level:  domain.Level(r.Level),
			Score:  r.Score,
			Reason: r.Reason,
		},
	}
	if r.Uid.Valid {
		uid := uint32(r.Uid.Int64)
		m.Uid = &uid
		m.MessageMeta.Uid = uid
	}
	if r.Recipients != "" {
		m.Recipients = strings.Split(r.Recipients, ", ")
	}
	if r.ReceivedAt.Valid {
		m.ReceivedAt = r.ReceivedAt.Time
	}
	if r.ClassifiedAt.Valid {
		t := r.ClassifiedAt.Time
		m.Classification.ClassifiedAt = &t
	}
	if r.Headers != "" {
		headers := map[string]string{}
		if err := json.Unmarshal([]byte(r.Headers), &headers); err == nil {
			m.Headers = headers
		}
	}
	return m
}

func (r *messageRow) flags() domain.Flags {
	return domain.Flags{Seen: r.Seen, Flagged: r.Flagged, Answered: r.Answered, Deleted: r.Deleted, Draft: r.Draft}
}

func (p *Persistence) Message(ctx context.Context, id int64) (*domain.Message, error) {
	row := messageRow{}
	err := p.db.GetContext(ctx, &row, `SELECT `+messageColumns+messageFrom+`WHERE m.id = ?`, id)
	if notFound(err) {
		return nil, fmt.Errorf("message %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("could not query db", err)
	}
	return row.message(), nil
}

// UpsertMessage stores a single fetched mail, see UpsertMessages.
func (p *Persistence) UpsertMessage(ctx context.Context, mailboxId int64, meta domain.MessageMeta) (*domain.Message, bool, error) {
	results, err := p.UpsertMessages(ctx, mailboxId, []domain.MessageMeta{meta})
	if err != nil {
		return nil, false, err
	}
	return results[0].Message, results[0].IsNew, nil
}

// UpsertMessages persists one fetched page in ascending uid order and
// advances last_uid of the mailbox within the same transaction.
//
// A known (mailbox, uid) only gets its flags refreshed, a known
// (account, message-id) is remapped to the new uid. Classification columns
// are never touched for existing messages.
func (p *Persistence) UpsertMessages(ctx context.Context, mailboxId int64, metas []domain.MessageMeta) ([]domain.UpsertResult, error) {
	sorted := make([]domain.MessageMeta, len(metas))
	copy(sorted, metas)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Uid < sorted[j].Uid })

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, storeErr("could not start transaction", err)
	}

	mailbox := mailboxRow{}
	err = tx.GetContext(ctx, &mailbox, `SELECT id, account_id, name, delimiter, uid_validity, last_uid FROM mailboxes WHERE id = ?`, mailboxId)
	if notFound(err) {
		return nil, txEnd(tx, fmt.Errorf("mailbox %d: %w", mailboxId, domain.ErrNotFound))
	}
	if err != nil {
		return nil, txEnd(tx, storeErr("could not query mailbox", err))
	}

	results := make([]domain.UpsertResult, 0, len(sorted))
	maxUid := uint32(0)
	for _, meta := range sorted {
		result, err := upsertMessageTx(ctx, tx, &mailbox, meta)
		if err != nil {
			return nil, txEnd(tx, err)
		}
		results = append(results, result)
		if meta.Uid > maxUid {
			maxUid = meta.Uid
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE mailboxes SET last_uid = MAX(last_uid, ?) WHERE id = ?`, maxUid, mailboxId)
	if err != nil {
		return nil, txEnd(tx, storeErr("could not advance last uid", err))
	}

	err = txEnd(tx, nil)
	if err != nil {
		return nil, err
	}

	newMails := 0
	for _, r := range results {
		if r.IsNew {
			newMails++
		}
	}
	p.l.WithFields(logrus.Fields{"mailbox": mailbox.Name, "mails": len(results), "new": newMails, "lastuid": maxUid}).Debug("Persisted mails")

	return results, nil
}

func upsertMessageTx(ctx context.Context, tx *sqlx.Tx, mailbox *mailboxRow, meta domain.MessageMeta) (domain.UpsertResult, error) {
	if meta.MessageId == "" {
		meta.MessageId = fmt.Sprintf("<missing-%d-%d>", mailbox.Id, meta.Uid)
	}

	existing := messageRow{}
	err := tx.GetContext(ctx, &existing, `SELECT `+messageColumns+messageFrom+`WHERE m.mailbox_id = ? AND m.uid = ?`, mailbox.Id, meta.Uid)
	if err == nil {
		if existing.flags() != meta.Flags {
			err = updateFlagsTx(ctx, tx, existing.Id, meta.Flags)
			if err != nil {
				return domain.UpsertResult{}, err
			}
		}
		msg := existing.message()
		msg.Flags = meta.Flags
		return domain.UpsertResult{Message: msg, IsNew: false}, nil
	}
	if !notFound(err) {
		return domain.UpsertResult{}, storeErr("could not query message by uid", err)
	}

	err = tx.GetContext(ctx, &existing, `SELECT `+messageColumns+messageFrom+`WHERE m.account_id = ? AND m.message_id = ?`, mailbox.AccountId, meta.MessageId)
	if err == nil {
		_, err = tx.ExecContext(ctx, `UPDATE messages SET mailbox_id = ?, uid = ? WHERE id = ?`, mailbox.Id, meta.Uid, existing.Id)
		if err != nil {
			return domain.UpsertResult{}, storeErr("could not remap message", err)
		}
		err = updateFlagsTx(ctx, tx, existing.Id, meta.Flags)
		if err != nil {
			return domain.UpsertResult{}, err
		}
		msg := existing.message()
		uid := meta.Uid
		msg.MailboxId, msg.Uid, msg.MessageMeta.Uid, msg.Flags = mailbox.Id, &uid, uid, meta.Flags
		return domain.UpsertResult{Message: msg, IsNew: false}, nil
	}
	if !notFound(err) {
		return domain.UpsertResult{}, storeErr("could not query message by message id", err)
	}

	headers, err := json.Marshal(meta.Headers)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("could not serialize headers: %w", err)
	}
	var receivedAt sql.NullTime
	if !meta.ReceivedAt.IsZero() {
		receivedAt = sql.NullTime{Time: meta.ReceivedAt.UTC(), Valid: true}
	}

	row := &messageRow{
		AccountId:  mailbox.AccountId,
		MailboxId:  mailbox.Id,
		Uid:        sql.NullInt64{Int64: int64(meta.Uid), Valid: true},
		MessageId:  meta.MessageId,
		Subject:    meta.Subject,
		Sender:     meta.Sender,
		Recipients: strings.Join(meta.Recipients, ", "),
		Size:       int64(meta.Size),
		ReceivedAt: receivedAt,
		Seen:       meta.Flags.Seen,
		Flagged:    meta.Flags.Flagged,
		Answered:   meta.Flags.Answered,
		Deleted:    meta.Flags.Deleted,
		Draft:      meta.Flags.Draft,
		TextBody:   meta.TextBody,
		HtmlBody:   meta.HtmlBody,
		Headers:    string(headers),
		Status:     string(domain.StatusPending),
		Level:      string(domain.LevelNormal),
	}
	result, err := tx.NamedExecContext(
		ctx,
		`INSERT INTO messages (account_id, mailbox_id, uid, message_id, subject, sender, recipients, size, received_at,
			seen, flagged, answered, deleted, draft, text_body, html_body, headers, status, level)
		VALUES (:account_id, :mailbox_id, :uid, :message_id, :subject, :sender, :recipients, :size, :received_at,
			:seen, :flagged, :answered, :deleted, :draft, :text_body, :html_body, :headers, :status, :level)`,
		row,
	)
	if err != nil {
		return domain.UpsertResult{}, storeErr("could not save mail", err)
	}
	row.Id, err = result.LastInsertId()
	if err != nil {
		return domain.UpsertResult{}, storeErr("could not get inserted id", err)
	}

	err = tx.GetContext(ctx, &row.UserId, `SELECT user_id FROM accounts WHERE id = ?`, mailbox.AccountId)
	if err != nil {
		return domain.UpsertResult{}, storeErr("could not query account owner", err)
	}

	return domain.UpsertResult{Message: row.message(), IsNew: true}, nil
}

func updateFlagsTx(ctx context.Context, tx *sqlx.Tx, id int64, f domain.Flags) error {
	_, err := tx.ExecContext(
		ctx,
		`UPDATE messages SET seen = ?, flagged = ?, answered = ?, deleted = ?, draft = ? WHERE id = ?`,
		f.Seen, f.Flagged, f.Answered, f.Deleted, f.Draft, id,
	)
	if err != nil {
		return storeErr("could not update flags", err)
	}
	return nil
}

func (p *Persistence) UpdateClassification(ctx context.Context, messageId int64, c domain.Classification) error {
	classifiedAt := time.Now().UTC()
	if c.ClassifiedAt != nil {
		classifiedAt = c.ClassifiedAt.UTC()
	}
	result, err := p.db.ExecContext(
		ctx,
		`UPDATE messages SET status = ?, level = ?, score = ?, reason = ?, classified_at = ? WHERE id = ?`,
		string(c.Status), string(c.Level), c.Score, c.Reason, classifiedAt, messageId,
	)
	if err != nil {
		return storeErr("could not update classification", err)
	}
	return expectOne(result, messageId)
}

func (p *Persistence) MarkFailed(ctx context.Context, messageId int64, reason string) error {
	result, err := p.db.ExecContext(ctx, `UPDATE messages SET status = ?, reason = ? WHERE id = ?`, string(domain.StatusFailed), reason, messageId)
	if err != nil {
		return storeErr("could not mark message failed", err)
	}
	return expectOne(result, messageId)
}

func expectOne(result sql.Result, messageId int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return storeErr("could not get num of affected rows", err)
	}
	if affected != 1 {
		return fmt.Errorf("message %d: %w", messageId, domain.ErrNotFound)
	}
	return nil
}

// filterClause renders the filter as a WHERE clause on the messages table
// aliased as prefix.
func filterClause(prefix string, f domain.MessageFilter) (string, []interface{}) {
	conditions := []string{"1 = 1"}
	args := []interface{}{}
	if f.UserId != 0 {
		conditions = append(conditions, prefix+"account_id IN (SELECT id FROM accounts WHERE user_id = ?)")
		args = append(args, f.UserId)
	}
	if f.Status != "" {
		conditions = append(conditions, prefix+"status = ?")
		args = append(args, string(f.Status))
	}
	if f.Level != "" {
		conditions = append(conditions, prefix+"level = ?")
		args = append(args, string(f.Level))
	}
	if f.AfterId != 0 {
		conditions = append(conditions, prefix+"id > ?")
		args = append(args, f.AfterId)
	}
	if f.MaxId != 0 {
		conditions = append(conditions, prefix+"id <= ?")
		args = append(args, f.MaxId)
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (p *Persistence) ResetClassification(ctx context.Context, filter domain.MessageFilter) (int64, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, storeErr("could not start transaction", err)
	}

	where, args := filterClause("", filter)
	maxId := int64(0)
	err = tx.GetContext(ctx, &maxId, `SELECT COALESCE(MAX(id), 0) FROM messages`+where, args...)
	if err != nil {
		return 0, txEnd(tx, storeErr("could not query db", err))
	}

	filter.MaxId = maxId
	where, args = filterClause("", filter)
	result, err := tx.ExecContext(ctx, `UPDATE messages SET status = ?`+where, append([]interface{}{string(domain.StatusPending)}, args...)...)
	if err != nil {
		return 0, txEnd(tx, storeErr("could not reset classification", err))
	}

	err = txEnd(tx, nil)
	if err != nil {
		return 0, err
	}

	affected, _ := result.RowsAffected()
	p.l.WithFields(logrus.Fields{"messages": affected, "maxid": maxId}).Info("Reset classification")
	return maxId, nil
}

// ListMessages pages through the matching messages by ascending id. No
// cursor is held open while the consumer handles a message.
func (p *Persistence) ListMessages(ctx context.Context, filter domain.MessageFilter) iter.Seq2[*domain.Message, error] {
	return func(yield func(*domain.Message, error) bool) {
		remaining := filter.Limit
		page := filter
		for {
			pageSize := listPageSize
			if filter.Limit > 0 && remaining < pageSize {
				pageSize = remaining
			}

			where, args := filterClause("m.", page)
			rows := []messageRow{}
			err := p.db.SelectContext(
				ctx,
				&rows,
				`SELECT `+messageColumns+messageFrom+where+` ORDER BY m.id LIMIT ?`,
				append(args, pageSize)...,
			)
			if err != nil {
				yield(nil, storeErr("could not query db", err))
				return
			}

			for i := range rows {
				if !yield(rows[i].message(), nil) {
					return
				}
			}

			if filter.Limit > 0 {
				remaining -= len(rows)
				if remaining <= 0 {
					return
				}
			}
			if len(rows) < pageSize {
				return
			}
			page.AfterId = rows[len(rows)-1].Id
		}
	}
}

func (p *Persistence) Stats(ctx context.Context, userId int64) (domain.Stats, error) {
	where, args := filterClause("", domain.MessageFilter{UserId: userId})
	row := struct {
		Total      int `db:"total"`
		Normal     int `db:"normal"`
		Suspicious int `db:"suspicious"`
		HighRisk   int `db:"high_risk"`
		Pending    int `db:"pending"`
		Completed  int `db:"completed"`
		Failed     int `db:"failed"`
	}{}
	err := p.db.GetContext(
		ctx,
		&row,
		`SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN level = 'NORMAL' THEN 1 ELSE 0 END), 0) AS normal,
			COALESCE(SUM(CASE WHEN level = 'SUSPICIOUS' THEN 1 ELSE 0 END), 0) AS suspicious,
			COALESCE(SUM(CASE WHEN level = 'HIGH_RISK' THEN 1 ELSE 0 END), 0) AS high_risk,
			COALESCE(SUM(CASE WHEN status = 'PENDING' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = 'COMPLETED' THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END), 0) AS failed
		FROM messages`+where,
		args...,
	)
	if err != nil {
		return domain.Stats{}, storeErr("could not query db", err)
	}

	return domain.Stats{
		Total:      row.Total,
		Normal:     row.Normal,
		Suspicious: row.Suspicious,
		HighRisk:   row.HighRisk,
		Pending:    row.Pending,
		Completed:  row.Completed,
		Failed:     row.Failed,
	}, nil
}
