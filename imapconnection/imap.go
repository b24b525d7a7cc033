// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/log"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTLSPort   = 993
	DefaultPlainPort = 143
)

// Dialer opens authenticated sessions. Every command of a session is bounded
// by the operation timeout.
type Dialer struct {
	dialTimeout      time.Duration
	operationTimeout time.Duration
	tlsConfig        *tls.Config

	l *logrus.Logger
}

func NewDialer(dialTimeout, operationTimeout time.Duration) *Dialer {
	return &Dialer{
		dialTimeout:      dialTimeout,
		operationTimeout: operationTimeout,
		l:                log.Logger(log.LOG_IMAP),
	}
}

func address(account *domain.Account) string {
	port := account.Port
	if port == 0 {
		port = DefaultPlainPort
		if account.TLS {
			port = DefaultTLSPort
		}
	}
	return net.JoinHostPort(account.Host, strconv.Itoa(port))
}

func (d *Dialer) Dial(ctx context.Context, account *domain.Account, password string) (domain.ImapConnector, error) {
	dialer := &net.Dialer{Timeout: d.dialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	addr := address(account)
	var imapClient *client.Client
	var err error
	if account.TLS {
		tlsConfig := d.tlsConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: account.Host}
		}
		imapClient, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
	} else {
		imapClient, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("could not dial to imap %s: %w: %w", addr, domain.ErrTransientNetwork, err)
	}
	imapClient.Timeout = d.operationTimeout

	conn := &ImapConnection{
		connection: imapClient,
		server:     addr,
		l:          d.l,
	}

	err = conn.run(ctx, func() error {
		return imapClient.Login(account.Login(), password)
	})
	if err != nil {
		_ = imapClient.Terminate()
		if isTransient(err) || ctx.Err() != nil {
			return nil, fmt.Errorf("could not login to imap %s: %w: %w", addr, domain.ErrTransientNetwork, err)
		}
		return nil, fmt.Errorf("could not login to imap %s as %s: %w: %w", addr, account.Login(), domain.ErrAuth, err)
	}

	d.l.WithFields(logrus.Fields{"server": addr, "user": account.Login()}).Debug("Logged in to server")
	return conn, nil
}

// ImapConnection is one read-only session, mailboxes are selected with
// EXAMINE semantics and bodies are fetched with PEEK.
type ImapConnection struct {
	connection *client.Client
	server     string

	selectedMailbox string

	l *logrus.Logger
}

// run executes one command and terminates the connection if ctx ends first.
func (ic *ImapConnection) run(ctx context.Context, command func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ic.l.WithFields(logrus.Fields{"server": ic.server, "error": ctx.Err()}).Debug("Terminating connection")
			_ = ic.connection.Terminate()
		case <-stop:
		}
	}()

	err := command()
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

func isTransient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded)
}

func wrap(msg string, err error) error {
	if isTransient(err) {
		return fmt.Errorf("%s: %w: %w", msg, domain.ErrTransientNetwork, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func (ic *ImapConnection) ListMailboxes(ctx context.Context) ([]domain.RemoteMailbox, error) {
	infos := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	mailboxes := []domain.RemoteMailbox{}
	err := ic.run(ctx, func() error {
		go func() {
			done <- ic.connection.List("", "*", infos)
		}()
		for info := range infos {
			mailboxes = append(mailboxes, domain.RemoteMailbox{
				Name:      info.Name,
				Delimiter: info.Delimiter,
				NoSelect:  slices.ContainsFunc(info.Attributes, isNoSelect),
			})
		}
		return <-done
	})
	if err != nil {
		return nil, wrap("could not list mailboxes", err)
	}

	return mailboxes, nil
}

func isNoSelect(attribute string) bool {
	return strings.EqualFold(attribute, imap.NoSelectAttr)
}

func (ic *ImapConnection) Select(ctx context.Context, name string) (*domain.MailboxStatus, error) {
	var status *imap.MailboxStatus
	err := ic.run(ctx, func() error {
		var err error
		status, err = ic.connection.Select(name, true)
		return err
	})
	if err != nil {
		return nil, wrap(fmt.Sprintf("could not select mailbox %s", name), err)
	}

	ic.selectedMailbox = name
	return &domain.MailboxStatus{
		Name:        name,
		UidValidity: status.UidValidity,
		UidNext:     status.UidNext,
		Messages:    status.Messages,
	}, nil
}

func (ic *ImapConnection) UidsAbove(ctx context.Context, uid uint32) ([]uint32, error) {
	seqset := &imap.SeqSet{}
	seqset.AddRange(uid+1, 0)
	criteria := imap.NewSearchCriteria()
	criteria.Uid = seqset

	var ids []uint32
	err := ic.run(ctx, func() error {
		var err error
		ids, err = ic.connection.UidSearch(criteria)
		return err
	})
	if err != nil {
		return nil, wrap(fmt.Sprintf("could not search mailbox %s", ic.selectedMailbox), err)
	}

	// UID n:* always matches the highest UID, even below n
	above := []uint32{}
	for _, id := range ids {
		if id > uid {
			above = append(above, id)
		}
	}
	slices.Sort(above)
	return above, nil
}

func (ic *ImapConnection) FetchMails(ctx context.Context, uids []uint32) ([]*domain.RawImapMail, error) {
	if len(uids) == 0 {
		return []*domain.RawImapMail{}, nil
	}

	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)

	fullBodySection := &imap.BodySectionName{
		Peek: true,
	}
	fetchItems := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchFlags,
		imap.FetchRFC822Size,
		imap.FetchInternalDate,
		fullBodySection.FetchItem(),
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	mails := []*domain.RawImapMail{}
	var readErr error
	err := ic.run(ctx, func() error {
		go func() {
			done <- ic.connection.UidFetch(seqset, fetchItems, messages)
		}()
		// the channel is drained completely, UidFetch blocks otherwise
		for msg := range messages {
			if readErr != nil {
				continue
			}
			r := msg.GetBody(fullBodySection)
			if r == nil {
				ic.l.WithFields(logrus.Fields{"mailbox": ic.selectedMailbox, "uid": msg.Uid}).Warn("Server returned no body, skipping mail")
				continue
			}
			rawBody, err := io.ReadAll(r)
			if err != nil {
				readErr = fmt.Errorf("could not read mail body of uid %d: %w", msg.Uid, err)
				continue
			}

			mails = append(mails, &domain.RawImapMail{
				Uid:          msg.Uid,
				Flags:        Flags(msg.Flags),
				Size:         msg.Size,
				InternalDate: msg.InternalDate,
				RawMail:      rawBody,
			})
		}
		return <-done
	})
	if err != nil {
		return nil, wrap(fmt.Sprintf("could not fetch mails from %s", ic.selectedMailbox), err)
	}
	if readErr != nil {
		return nil, readErr
	}

	slices.SortFunc(mails, func(a, b *domain.RawImapMail) int {
		return int(int64(a.Uid) - int64(b.Uid))
	})
	return mails, nil
}

// Flags maps the system flags of a message, keywords are ignored.
func Flags(flags []string) domain.Flags {
	f := domain.Flags{}
	for _, flag := range flags {
		switch imap.CanonicalFlag(flag) {
		case imap.SeenFlag:
			f.Seen = true
		case imap.FlaggedFlag:
			f.Flagged = true
		case imap.AnsweredFlag:
			f.Answered = true
		case imap.DeletedFlag:
			f.Deleted = true
		case imap.DraftFlag:
			f.Draft = true
		}
	}
	return f
}

func (ic *ImapConnection) Close() error {
	err := ic.connection.Logout()
	if err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
		return fmt.Errorf("could not logout: %w", err)
	}
	return nil
}
