// SPDX-License-Identifier: GPL-3.0-or-later
package spamassassin

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/CrawX/go-imap-phishguard/classifier/scorer"
	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/mail"

	"github.com/teamwork/spamc"
)

const (
	Backend             = "spamassassin"
	SpamAssassinTimeout = 20 * time.Second
)

// Loader connects to spamd. Loading again checks that spamd still answers.
type Loader struct {
	host      string
	threshold float64
	scale     float64
}

func NewLoader(host string, threshold, scale float64) *Loader {
	return &Loader{host: host, threshold: threshold, scale: scale}
}

func (l *Loader) Backend() string {
	return Backend
}

func (l *Loader) Load(ctx context.Context) (scorer.Model, string, error) {
	client := spamc.New(l.host, &net.Dialer{
		Timeout: SpamAssassinTimeout,
	})
	err := client.Ping(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("could not ping SpamAssassin: %w", err)
	}

	return &SpamAssassin{client: client, threshold: l.threshold, scale: l.scale}, "spamd@" + l.host, nil
}

type SpamAssassin struct {
	client    *spamc.Client
	threshold float64
	scale     float64
}

func (sa *SpamAssassin) Score(ctx context.Context, in domain.ScoreInput) (float64, error) {
	rawMail, err := mail.Compose(in.Subject, in.Sender, in.Headers, in.TextBody, in.HtmlBody)
	if err != nil {
		return 0, fmt.Errorf("could not compose mail for SpamAssassin: %w", err)
	}

	out, err := sa.client.Process(ctx, bytes.NewReader(rawMail), nil)
	if err != nil {
		return 0, fmt.Errorf("could not check SpamAssassin: %w", err)
	}
	err = out.Message.Close()
	if err != nil {
		return 0, fmt.Errorf("could not close response: %w", err)
	}

	return Probability(out.Score, sa.threshold, sa.scale), nil
}

// Probability maps a spam score onto [0,1], the threshold maps to 0.5.
func Probability(score, threshold, scale float64) float64 {
	return scorer.Logistic((score - threshold) / scale)
}
