// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()
	log.InitLogging("error")
	p, err := NewPersistence(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func loadMailbox(ctx context.Context, p *Persistence, id int64) (*domain.Mailbox, error) {
	row := mailboxRow{}
	err := p.db.GetContext(ctx, &row, `SELECT id, account_id, name, delimiter, uid_validity, last_uid FROM mailboxes WHERE id = ?`, id)
	if notFound(err) {
		return nil, fmt.Errorf("mailbox %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return row.mailbox(), nil
}

func seedMailbox(t *testing.T, p *Persistence) (*domain.Account, *domain.Mailbox) {
	t.Helper()
	ctx := context.Background()
	account, err := p.UpsertAccount(ctx, domain.Account{UserId: 1, Address: "student@example.com", Host: "imap.example.com", Port: 993, TLS: true, Active: true})
	require.NoError(t, err)
	mailbox, err := p.UpsertMailbox(ctx, account.Id, "INBOX", "/")
	require.NoError(t, err)
	return account, mailbox
}

func meta(uid uint32, messageId string) domain.MessageMeta {
	return domain.MessageMeta{
		Uid:        uid,
		MessageId:  messageId,
		Subject:    "subject " + messageId,
		Sender:     "sender@example.com",
		Recipients: []string{"student@example.com", "other@example.com"},
		Size:       100,
		ReceivedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		TextBody:   "hello",
		Headers:    map[string]string{"Subject": "subject " + messageId},
	}
}

func countMessages(t *testing.T, p *Persistence) int {
	t.Helper()
	count := 0
	require.NoError(t, p.db.Get(&count, `SELECT COUNT(*) FROM messages`))
	return count
}

func TestUpsertAccount(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	a, err := p.UpsertAccount(ctx, domain.Account{UserId: 1, Address: "a@example.com", Host: "h1", Port: 993, Active: true})
	require.NoError(t, err)
	b, err := p.UpsertAccount(ctx, domain.Account{UserId: 1, Address: "a@example.com", Host: "h2", Port: 143, Active: true})
	require.NoError(t, err)
	assert.Equal(t, a.Id, b.Id)
	assert.Equal(t, "h2", b.Host)

	_, err = p.UpsertAccount(ctx, domain.Account{UserId: 2, Address: "b@example.com", Host: "h", Active: false})
	require.NoError(t, err)

	active, err := p.ActiveAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a@example.com", active[0].Address)
	assert.Nil(t, active[0].LastSyncAt)

	now := time.Now()
	require.NoError(t, p.TouchAccountSync(ctx, a.Id, now))
	loaded, err := p.Account(ctx, a.Id)
	require.NoError(t, err)
	require.NotNil(t, loaded.LastSyncAt)
	assert.WithinDuration(t, now, *loaded.LastSyncAt, time.Second)

	_, err = p.Account(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpsertMessages_Idempotent(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	_, mailbox := seedMailbox(t, p)

	results, err := p.UpsertMessages(ctx, mailbox.Id, []domain.MessageMeta{meta(3, "<c>"), meta(1, "<a>"), meta(2, "<b>")})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.True(t, r.IsNew)
		assert.Equal(t, uint32(i+1), *r.Message.Uid, "persisted in ascending uid order")
		assert.Equal(t, domain.StatusPending, r.Message.Classification.Status)
		assert.Equal(t, int64(1), r.Message.UserId)
	}

	results, err = p.UpsertMessages(ctx, mailbox.Id, []domain.MessageMeta{meta(1, "<a>"), meta(2, "<b>"), meta(3, "<c>")})
	require.NoError(t, err)
	for _, r := range results {
		assert.False(t, r.IsNew)
	}
	assert.Equal(t, 3, countMessages(t, p))

	reloaded, err := loadMailbox(ctx, p, mailbox.Id)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), reloaded.LastUid)
}

func TestUpsertMessages_FlagsOnly(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	_, mailbox := seedMailbox(t, p)

	msg, isNew, err := p.UpsertMessage(ctx, mailbox.Id, meta(1, "<a>"))
	require.NoError(t, err)
	require.True(t, isNew)
	require.NoError(t, p.UpdateClassification(ctx, msg.Id, domain.Classification{Status: domain.StatusCompleted, Level: domain.LevelHighRisk, Score: 0.9, Reason: "rules"}))

	changed := meta(1, "<a>")
	changed.Flags = domain.Flags{Seen: true, Flagged: true}
	changed.Subject = "ignored"
	msg, isNew, err = p.UpsertMessage(ctx, mailbox.Id, changed)
	require.NoError(t, err)
	assert.False(t, isNew)

	loaded, err := p.Message(ctx, msg.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.Flags{Seen: true, Flagged: true}, loaded.Flags)
	assert.Equal(t, "subject <a>", loaded.Subject)
	assert.Equal(t, domain.StatusCompleted, loaded.Classification.Status)
	assert.Equal(t, domain.LevelHighRisk, loaded.Classification.Level)
	assert.Equal(t, 0.9, loaded.Classification.Score)
	assert.Equal(t, []string{"student@example.com", "other@example.com"}, loaded.Recipients)
	assert.Equal(t, "subject <a>", loaded.Headers["Subject"])
}

func TestUpsertMessages_LastUidOnlyAdvances(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	_, mailbox := seedMailbox(t, p)

	_, err := p.UpsertMessages(ctx, mailbox.Id, []domain.MessageMeta{meta(10, "<a>")})
	require.NoError(t, err)
	_, err = p.UpsertMessages(ctx, mailbox.Id, []domain.MessageMeta{meta(4, "<b>")})
	require.NoError(t, err)

	reloaded, err := loadMailbox(ctx, p, mailbox.Id)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), reloaded.LastUid)
}

func TestUpsertMessages_AtomicPage(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	_, mailbox := seedMailbox(t, p)

	_, err := p.UpsertMessages(ctx, mailbox.Id+100, []domain.MessageMeta{meta(1, "<a>")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, countMessages(t, p))

	reloaded, err := loadMailbox(ctx, p, mailbox.Id)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), reloaded.LastUid)
}

func TestResetMailbox_Remap(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	_, mailbox := seedMailbox(t, p)
	require.NoError(t, p.ResetMailbox(ctx, mailbox.Id, 100))

	metas := []domain.MessageMeta{}
	for uid := uint32(1); uid <= 50; uid++ {
		metas = append(metas, meta(uid, fmt.Sprintf("<%d>", uid)))
	}
	_, err := p.UpsertMessages(ctx, mailbox.Id, metas)
	require.NoError(t, err)

	require.NoError(t, p.ResetMailbox(ctx, mailbox.Id, 200))
	reloaded, err := loadMailbox(ctx, p, mailbox.Id)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), reloaded.LastUid)
	assert.Equal(t, uint32(200), reloaded.UidValidity)

	unmapped := 0
	require.NoError(t, p.db.Get(&unmapped, `SELECT COUNT(*) FROM messages WHERE uid IS NULL`))
	assert.Equal(t, 50, unmapped)

	// the same mail under a new uid is remapped, not duplicated
	results, err := p.UpsertMessages(ctx, mailbox.Id, []domain.MessageMeta{meta(7, "<1>")})
	require.NoError(t, err)
	assert.False(t, results[0].IsNew)
	assert.Equal(t, uint32(7), *results[0].Message.Uid)
	assert.Equal(t, 50, countMessages(t, p))

	assert.ErrorIs(t, p.ResetMailbox(ctx, 999, 1), domain.ErrNotFound)
}

func TestClassification(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	_, mailbox := seedMailbox(t, p)

	msg, _, err := p.UpsertMessage(ctx, mailbox.Id, meta(1, "<a>"))
	require.NoError(t, err)

	require.NoError(t, p.UpdateClassification(ctx, msg.Id, domain.Classification{Status: domain.StatusCompleted, Level: domain.LevelSuspicious, Score: 0.7, Reason: "model"}))
	require.NoError(t, p.MarkFailed(ctx, msg.Id, "scorer unavailable"))

	loaded, err := p.Message(ctx, msg.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, loaded.Classification.Status)
	assert.Equal(t, domain.LevelSuspicious, loaded.Classification.Level, "failed keeps the last known level")
	assert.Equal(t, 0.7, loaded.Classification.Score)
	assert.NotNil(t, loaded.Classification.ClassifiedAt)

	assert.ErrorIs(t, p.UpdateClassification(ctx, 999, domain.Classification{Status: domain.StatusCompleted}), domain.ErrNotFound)
	assert.ErrorIs(t, p.MarkFailed(ctx, 999, "x"), domain.ErrNotFound)
}

func TestResetClassificationAndList(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	_, mailbox := seedMailbox(t, p)

	metas := []domain.MessageMeta{}
	for uid := uint32(1); uid <= 250; uid++ {
		metas = append(metas, meta(uid, fmt.Sprintf("<%d>", uid)))
	}
	results, err := p.UpsertMessages(ctx, mailbox.Id, metas)
	require.NoError(t, err)
	for _, r := range results {
		require.NoError(t, p.UpdateClassification(ctx, r.Message.Id, domain.Classification{Status: domain.StatusCompleted, Level: domain.LevelNormal}))
	}

	maxId, err := p.ResetClassification(ctx, domain.MessageFilter{})
	require.NoError(t, err)
	assert.Equal(t, results[len(results)-1].Message.Id, maxId)

	ids := []int64{}
	for m, err := range p.ListMessages(ctx, domain.MessageFilter{Status: domain.StatusPending, MaxId: maxId}) {
		require.NoError(t, err)
		ids = append(ids, m.Id)
	}
	assert.Len(t, ids, 250)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}

	limited := 0
	for _, err := range p.ListMessages(ctx, domain.MessageFilter{Limit: 120}) {
		require.NoError(t, err)
		limited++
	}
	assert.Equal(t, 120, limited)

	early := 0
	for range p.ListMessages(ctx, domain.MessageFilter{}) {
		early++
		if early == 3 {
			break
		}
	}
	assert.Equal(t, 3, early)

	other := 0
	for range p.ListMessages(ctx, domain.MessageFilter{UserId: 2}) {
		other++
	}
	assert.Equal(t, 0, other)
}

func TestStats(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	_, mailbox := seedMailbox(t, p)

	stats, err := p.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{}, stats)

	levels := []domain.Level{domain.LevelNormal, domain.LevelSuspicious, domain.LevelHighRisk, domain.LevelHighRisk}
	for i, l := range levels {
		msg, _, err := p.UpsertMessage(ctx, mailbox.Id, meta(uint32(i+1), fmt.Sprintf("<%d>", i)))
		require.NoError(t, err)
		require.NoError(t, p.UpdateClassification(ctx, msg.Id, domain.Classification{Status: domain.StatusCompleted, Level: l}))
	}
	msg, _, err := p.UpsertMessage(ctx, mailbox.Id, meta(10, "<failed>"))
	require.NoError(t, err)
	require.NoError(t, p.MarkFailed(ctx, msg.Id, "x"))
	_, _, err = p.UpsertMessage(ctx, mailbox.Id, meta(11, "<pending>"))
	require.NoError(t, err)

	stats, err = p.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{Total: 6, Normal: 3, Suspicious: 1, HighRisk: 2, Pending: 1, Completed: 4, Failed: 1}, stats)

	stats, err = p.Stats(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestDeleteAccountCascades(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	account, mailbox := seedMailbox(t, p)
	_, _, err := p.UpsertMessage(ctx, mailbox.Id, meta(1, "<a>"))
	require.NoError(t, err)

	require.NoError(t, p.DeleteAccount(ctx, account.Id))
	assert.Equal(t, 0, countMessages(t, p))
	_, err = loadMailbox(ctx, p, mailbox.Id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRulesAndSettings(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	settings, err := p.Settings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.LongUrlDetection)

	require.NoError(t, p.SaveSettings(ctx, domain.Settings{LongUrlDetection: false}))
	settings, err = p.Settings(ctx)
	require.NoError(t, err)
	assert.False(t, settings.LongUrlDetection)

	require.NoError(t, p.AddWhitelistRule(ctx, domain.WhitelistRule{Scope: domain.ScopeSender, Match: domain.MatchSuffix, Value: "qq.com"}))
	_, err = p.db.Exec(`INSERT INTO whitelist_rules (scope, match_type, value) VALUES ('URL', 'DOMAIN-KEYWORD', 'Example'), ('URL', 'REGEX', 'x')`)
	require.NoError(t, err)

	rules, err := p.WhitelistRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.WhitelistRule{
		{Scope: domain.ScopeSender, Match: domain.MatchSuffix, Value: "qq.com"},
		{Scope: domain.ScopeUrl, Match: domain.MatchKeyword, Value: "example"},
	}, rules)
}

func TestStoreUnavailable(t *testing.T) {
	p := newTestPersistence(t)
	require.NoError(t, p.db.Close())

	_, err := p.ActiveAccounts(context.Background())
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	_, err = p.UpsertMessages(context.Background(), 1, []domain.MessageMeta{meta(1, "<a>")})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
