// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/log"
	"github.com/CrawX/go-imap-phishguard/mail"

	"github.com/sirupsen/logrus"
)

const Inbox = "INBOX"

// Synchronizer mirrors the mailboxes of an account into the store and hands
// every newly stored message to the enqueuer.
type Synchronizer struct {
	store       domain.SyncStore
	dialer      domain.ImapDialer
	credentials domain.Credentials
	enqueuer    domain.Enqueuer

	configuration *configuration
	states        *states
	now           func() time.Time

	l *logrus.Logger
}

func NewSynchronizer(store domain.SyncStore, dialer domain.ImapDialer, credentials domain.Credentials, enqueuer domain.Enqueuer, configFunc ...ConfigFunc) (*Synchronizer, error) {
	config := defaultConfiguration()
	for _, f := range configFunc {
		err := f(config)
		if err != nil {
			return nil, fmt.Errorf("error applying configuration: %w", err)
		}
	}

	return &Synchronizer{
		store:         store,
		dialer:        dialer,
		credentials:   credentials,
		enqueuer:      enqueuer,
		configuration: config,
		states:        newStates(),
		now:           time.Now,
		l:             log.Logger(log.LOG_SYNC),
	}, nil
}

// SyncAccount runs one cycle. Transient failures restart the cycle after a
// backoff until MaxAttempts is reached, authentication failures do not.
func (s *Synchronizer) SyncAccount(ctx context.Context, account *domain.Account) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = s.cycle(ctx, account)
		if err == nil {
			s.states.set(account.Id, account.Address, StateIdle, "")
			return nil
		}
		if ctx.Err() != nil || !errors.Is(err, domain.ErrTransientNetwork) || attempt >= s.configuration.MaxAttempts {
			break
		}

		delay := s.configuration.backoff(attempt)
		s.states.fail(account.Id, account.Address, err)
		s.l.WithFields(logrus.Fields{"account": account.Address, "attempt": attempt, "delay": delay, "error": err}).Warn("Sync failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.states.fail(account.Id, account.Address, ctx.Err())
			return fmt.Errorf("could not sync %s: %w", account.Address, ctx.Err())
		case <-timer.C:
		}
		s.states.set(account.Id, account.Address, StateIdle, "")
	}

	s.states.fail(account.Id, account.Address, err)
	if errors.Is(err, domain.ErrAuth) {
		s.l.WithFields(logrus.Fields{"account": account.Address, "error": err}).Error("Login rejected, waiting for a user triggered sync")
	} else {
		s.l.WithFields(logrus.Fields{"account": account.Address, "error": err}).Error("Sync abandoned")
	}
	return err
}

func (s *Synchronizer) operation(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.configuration.OperationTimeout)
}

func (s *Synchronizer) cycle(ctx context.Context, account *domain.Account) error {
	start := time.Now()
	s.states.set(account.Id, account.Address, StateConnecting, "")

	password, err := s.credentials.Password(ctx, account)
	if err != nil {
		return fmt.Errorf("could not get credentials of %s: %w", account.Address, err)
	}

	dialCtx, cancel := s.operation(ctx)
	conn, err := s.dialer.Dial(dialCtx, account, password)
	cancel()
	if err != nil {
		return fmt.Errorf("could not connect %s: %w", account.Address, err)
	}
	defer func() {
		err := conn.Close()
		if err != nil {
			s.l.WithFields(logrus.Fields{"account": account.Address, "error": err}).Debug("Could not close connection")
		}
	}()
	s.states.set(account.Id, account.Address, StateAuthenticated, "")

	s.states.set(account.Id, account.Address, StateListing, "")
	mailboxes, err := s.mailboxes(ctx, conn)
	if err != nil {
		return fmt.Errorf("could not list mailboxes of %s: %w", account.Address, err)
	}

	failed, newMails := 0, 0
	var transient error
	for _, remote := range mailboxes {
		s.states.set(account.Id, account.Address, StateSyncing, remote.Name)
		n, err := s.syncMailbox(ctx, conn, account, remote)
		newMails += n
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("could not sync %s: %w", remote.Name, ctx.Err())
			}
			failed++
			if errors.Is(err, domain.ErrTransientNetwork) {
				transient = err
			}
			s.l.WithFields(logrus.Fields{"account": account.Address, "mailbox": remote.Name, "error": err}).Warn("Could not sync mailbox")
		}
	}

	if transient != nil {
		return fmt.Errorf("could not sync %d of %d mailboxes: %w", failed, len(mailboxes), transient)
	}
	if failed > 0 {
		return fmt.Errorf("could not sync %d of %d mailboxes", failed, len(mailboxes))
	}

	err = s.store.TouchAccountSync(ctx, account.Id, s.now())
	if err != nil {
		return fmt.Errorf("could not update last sync of %s: %w", account.Address, err)
	}

	s.l.WithFields(logrus.Fields{"account": account.Address, "mailboxes": len(mailboxes), "newmails": newMails, "duration": time.Since(start)}).Info("Synced account")
	return nil
}

// mailboxes lists the selectable mailboxes, INBOX if the server lists none.
func (s *Synchronizer) mailboxes(ctx context.Context, conn domain.ImapConnector) ([]domain.RemoteMailbox, error) {
	opCtx, cancel := s.operation(ctx)
	defer cancel()

	listed, err := conn.ListMailboxes(opCtx)
	if err != nil {
		return nil, err
	}

	mailboxes := []domain.RemoteMailbox{}
	for _, m := range listed {
		if m.NoSelect {
			s.l.WithFields(logrus.Fields{"mailbox": m.Name}).Debug("Skipping not selectable mailbox")
			continue
		}
		mailboxes = append(mailboxes, m)
	}
	if len(mailboxes) == 0 {
		s.l.Debug("Server listed no mailboxes, falling back to INBOX")
		mailboxes = append(mailboxes, domain.RemoteMailbox{Name: Inbox})
	}

	return mailboxes, nil
}

func (s *Synchronizer) syncMailbox(ctx context.Context, conn domain.ImapConnector, account *domain.Account, remote domain.RemoteMailbox) (int, error) {
	stored, err := s.store.UpsertMailbox(ctx, account.Id, remote.Name, remote.Delimiter)
	if err != nil {
		return 0, fmt.Errorf("could not save mailbox: %w", err)
	}

	opCtx, cancel := s.operation(ctx)
	status, err := conn.Select(opCtx, remote.Name)
	cancel()
	if err != nil {
		return 0, err
	}

	neverSynced := stored.UidValidity == 0
	if stored.UidValidity != status.UidValidity {
		if !neverSynced {
			s.l.WithFields(logrus.Fields{"mailbox": remote.Name, "old": stored.UidValidity, "new": status.UidValidity, "lastuid": stored.LastUid}).Info("Uid validity changed, resyncing mailbox")
		}
		err = s.store.ResetMailbox(ctx, stored.Id, status.UidValidity)
		if err != nil {
			return 0, fmt.Errorf("could not reset mailbox: %w", err)
		}
		stored.UidValidity, stored.LastUid = status.UidValidity, 0
	}

	opCtx, cancel = s.operation(ctx)
	uids, err := conn.UidsAbove(opCtx, stored.LastUid)
	cancel()
	if err != nil {
		return 0, err
	}
	if neverSynced && s.configuration.InitialWindow > 0 && len(uids) > int(s.configuration.InitialWindow) {
		s.l.WithFields(logrus.Fields{"mailbox": remote.Name, "mails": len(uids), "window": s.configuration.InitialWindow}).Info("Restricting first sync to the newest mails")
		uids = uids[len(uids)-int(s.configuration.InitialWindow):]
	}
	if len(uids) == 0 {
		s.l.WithFields(logrus.Fields{"mailbox": remote.Name, "lastuid": stored.LastUid}).Debug("Mailbox contains no new mails")
		return 0, nil
	}

	pages := partitionUids(uids, s.configuration.PageSize)
	if s.configuration.MaxPages > 0 && len(pages) > s.configuration.MaxPages {
		s.l.WithFields(logrus.Fields{"mailbox": remote.Name, "pages": len(pages), "maxpages": s.configuration.MaxPages}).Info("Backlog exceeds page limit, continuing next cycle")
		pages = pages[:s.configuration.MaxPages]
	}
	s.l.WithFields(logrus.Fields{"mailbox": remote.Name, "newmails": len(uids), "pages": len(pages)}).Debug("Found mails to sync")

	newMails := 0
	for _, page := range pages {
		n, err := s.syncPage(ctx, conn, stored, page)
		newMails += n
		if err != nil {
			return newMails, err
		}
	}

	return newMails, nil
}

func (s *Synchronizer) syncPage(ctx context.Context, conn domain.ImapConnector, mailbox *domain.Mailbox, page []uint32) (int, error) {
	start := time.Now()

	opCtx, cancel := s.operation(ctx)
	rawMails, err := conn.FetchMails(opCtx, page)
	cancel()
	if err != nil {
		return 0, err
	}
	if len(rawMails) == 0 {
		s.l.WithFields(logrus.Fields{"mailbox": mailbox.Name, "uids": len(page)}).Warn("Server returned no mails for page")
		return 0, nil
	}

	metas := make([]domain.MessageMeta, 0, len(rawMails))
	for _, raw := range rawMails {
		metas = append(metas, s.meta(mailbox, raw))
	}

	results, err := s.store.UpsertMessages(ctx, mailbox.Id, metas)
	if err != nil {
		return 0, fmt.Errorf("could not save mails: %w", err)
	}

	// only committed messages are enqueued
	newMails := 0
	for _, r := range results {
		if !r.IsNew {
			continue
		}
		newMails++
		s.enqueuer.Enqueue(r.Message.Id)
	}

	s.l.WithFields(logrus.Fields{"mailbox": mailbox.Name, "duration": time.Since(start), "pagesize": len(metas), "new": newMails}).Debug("Synced page")
	return newMails, nil
}

// meta converts a fetched mail. Mails that cannot be parsed are stored with
// their envelope only so that last_uid still advances past them.
func (s *Synchronizer) meta(mailbox *domain.Mailbox, raw *domain.RawImapMail) domain.MessageMeta {
	meta := domain.MessageMeta{
		Uid:        raw.Uid,
		Size:       raw.Size,
		ReceivedAt: raw.InternalDate,
		Flags:      raw.Flags,
	}
	if meta.Size == 0 {
		meta.Size = uint32(len(raw.RawMail))
	}

	parsed, err := mail.Parse(raw.RawMail)
	if err != nil {
		s.l.WithFields(logrus.Fields{"mailbox": mailbox.Name, "uid": raw.Uid, "error": err}).Warn("Could not parse mail, storing envelope only")
		return meta
	}

	meta.MessageId = parsed.MessageId
	meta.Subject = parsed.Subject
	meta.Sender = parsed.Sender
	meta.Recipients = parsed.Recipients
	meta.TextBody = parsed.TextBody
	meta.HtmlBody = parsed.HtmlBody
	meta.Headers = parsed.Headers
	if meta.ReceivedAt.IsZero() {
		meta.ReceivedAt = parsed.Date
	}

	s.l.WithFields(logrus.Fields{"mailbox": mailbox.Name, "uid": raw.Uid, "subject": mail.ShortSubject(meta.Subject)}).Trace("Parsed mail")
	return meta
}

// State returns the last observed state of an account.
func (s *Synchronizer) State(accountId int64) (AccountState, bool) {
	return s.states.get(accountId)
}

func (s *Synchronizer) States() []AccountState {
	return s.states.all()
}

// taken from https://github.com/golang/go/wiki/SliceTricks
func partitionUids(uids []uint32, partitionSize int) [][]uint32 {
	batches := make([][]uint32, 0, (len(uids)+partitionSize-1)/partitionSize)

	for partitionSize < len(uids) {
		uids, batches = uids[partitionSize:], append(batches, uids[0:partitionSize:partitionSize])
	}
	batches = append(batches, uids)

	return batches
}
