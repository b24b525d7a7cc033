// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/CrawX/go-imap-phishguard/domain"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMail = "From: Support <support@example.org>\r\n" +
	"To: me@example.org\r\n" +
	"Subject: Verify your account\r\n" +
	"Message-Id: <verify@example.org>\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Please visit https://example.org/login\r\n"

// memoryServer serves the go-imap memory backend, which knows the user
// "username" with the password "password" and one mail in INBOX.
func memoryServer(t *testing.T) *domain.Account {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	go func() {
		_ = s.Serve(listener)
	}()
	t.Cleanup(func() {
		_ = s.Close()
	})

	host, port, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	return &domain.Account{
		Id:       1,
		UserId:   1,
		Address:  "username@example.org",
		Host:     host,
		Port:     p,
		Username: "username",
	}
}

func appendMails(t *testing.T, account *domain.Account, mailbox string, date time.Time, count int) {
	t.Helper()

	c, err := client.Dial(address(account))
	require.NoError(t, err)
	defer c.Logout()
	require.NoError(t, c.Login("username", "password"))

	for i := 0; i < count; i++ {
		require.NoError(t, c.Append(mailbox, []string{imap.FlaggedFlag}, date, bytes.NewBufferString(testMail)))
	}
}

func dial(t *testing.T, account *domain.Account) domain.ImapConnector {
	t.Helper()

	conn, err := NewDialer(time.Second, 5*time.Second).Dial(context.Background(), account, "password")
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, conn.Close())
	})
	return conn
}

func TestSyncSession(t *testing.T) {
	account := memoryServer(t)
	date := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	appendMails(t, account, "INBOX", date, 2)

	ctx := context.Background()
	conn := dial(t, account)

	mailboxes, err := conn.ListMailboxes(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, mailboxes)
	assert.Equal(t, "INBOX", mailboxes[0].Name)
	assert.False(t, mailboxes[0].NoSelect)

	status, err := conn.Select(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, "INBOX", status.Name)
	assert.Equal(t, u32(3), status.Messages)
	assert.NotZero(t, status.UidValidity)

	all, err := conn.UidsAbove(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.IsIncreasing(t, all)

	above, err := conn.UidsAbove(ctx, all[0])
	require.NoError(t, err)
	assert.Equal(t, all[1:], above)

	none, err := conn.UidsAbove(ctx, all[2])
	require.NoError(t, err)
	assert.Empty(t, none)

	// the order of the request must not matter
	mails, err := conn.FetchMails(ctx, []uint32{all[2], all[1]})
	require.NoError(t, err)
	require.Len(t, mails, 2)
	assert.Equal(t, all[1], mails[0].Uid)
	assert.Equal(t, all[2], mails[1].Uid)
	for _, m := range mails {
		assert.Equal(t, testMail, string(m.RawMail))
		assert.Equal(t, u32(len(testMail)), m.Size)
		assert.True(t, m.InternalDate.Equal(date))
		assert.True(t, m.Flags.Flagged)
		assert.False(t, m.Flags.Seen)
	}

	// the preloaded mail of the memory backend is seen already
	mails, err = conn.FetchMails(ctx, all[:1])
	require.NoError(t, err)
	require.Len(t, mails, 1)
	assert.True(t, mails[0].Flags.Seen)

	mails, err = conn.FetchMails(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, mails)
}

func TestFetchKeepsMailsUnseen(t *testing.T) {
	account := memoryServer(t)
	appendMails(t, account, "INBOX", time.Now(), 1)

	ctx := context.Background()
	conn := dial(t, account)

	_, err := conn.Select(ctx, "INBOX")
	require.NoError(t, err)
	uids, err := conn.UidsAbove(ctx, 0)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		mails, err := conn.FetchMails(ctx, uids[1:])
		require.NoError(t, err)
		require.Len(t, mails, 1)
		assert.False(t, mails[0].Flags.Seen)
	}
}

func TestListMailboxes(t *testing.T) {
	account := memoryServer(t)

	c, err := client.Dial(address(account))
	require.NoError(t, err)
	require.NoError(t, c.Login("username", "password"))
	require.NoError(t, c.Create("Archive"))
	require.NoError(t, c.Logout())

	conn := dial(t, account)
	mailboxes, err := conn.ListMailboxes(context.Background())
	require.NoError(t, err)

	names := []string{}
	for _, m := range mailboxes {
		names = append(names, m.Name)
	}
	assert.ElementsMatch(t, []string{"INBOX", "Archive"}, names)
}

func TestSelectUnknownMailbox(t *testing.T) {
	account := memoryServer(t)
	conn := dial(t, account)

	_, err := conn.Select(context.Background(), "Missing")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrTransientNetwork)
}

func TestDialWrongPassword(t *testing.T) {
	account := memoryServer(t)

	_, err := NewDialer(time.Second, time.Second).Dial(context.Background(), account, "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.NotErrorIs(t, err, domain.ErrTransientNetwork)
}

func TestDialUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().(*net.TCPAddr)
	require.NoError(t, listener.Close())

	account := &domain.Account{Host: "127.0.0.1", Port: addr.Port, Username: "username"}
	_, err = NewDialer(time.Second, time.Second).Dial(context.Background(), account, "password")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientNetwork)
	assert.NotErrorIs(t, err, domain.ErrAuth)
}

func TestCancelledContext(t *testing.T) {
	account := memoryServer(t)
	conn := dial(t, account)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conn.Select(ctx, "INBOX")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "imap.example.org:993", address(&domain.Account{Host: "imap.example.org", TLS: true}))
	assert.Equal(t, "imap.example.org:143", address(&domain.Account{Host: "imap.example.org"}))
	assert.Equal(t, "imap.example.org:1143", address(&domain.Account{Host: "imap.example.org", Port: 1143, TLS: true}))
}

func TestFlags(t *testing.T) {
	f := Flags([]string{"\\Seen", "\\flagged", "$Junk", imap.DraftFlag})
	assert.Equal(t, domain.Flags{Seen: true, Flagged: true, Draft: true}, f)
	assert.Equal(t, domain.Flags{}, Flags(nil))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"net op error", &net.OpError{Op: "read", Err: assert.AnError}, true},
		{"closed", net.ErrClosed, true},
		{"deadline", context.DeadlineExceeded, true},
		{"server response", assert.AnError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}
