// SPDX-License-Identifier: GPL-3.0-or-later
package rspamd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/CrawX/go-imap-phishguard/classifier/scorer"
	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/mail"
)

const (
	Backend       = "rspamd"
	RspamdTimeout = 20 * time.Second
)

// gathered via trial&error and the source-code of various rspamd modules. These are caused by misconfiguration on the
// sender's side and not by the dns server being slow to respond for example.
var okFailSymbols = regexp.MustCompile(`^(R_DKIM_PERMFAIL|DMARC_POLICY_SOFTFAIL|R_SPF_SOFTFAIL|DMARC_DNSFAIL|R_SPF_FAIL)$`)

type Loader struct {
	host     string
	password string
	scale    float64
}

func NewLoader(host, password string, scale float64) *Loader {
	return &Loader{host: strings.TrimSuffix(host, "/"), password: password, scale: scale}
}

func (l *Loader) Backend() string {
	return Backend
}

func (l *Loader) Load(ctx context.Context) (scorer.Model, string, error) {
	rspamd := &Rspamd{
		client: &http.Client{
			Timeout: RspamdTimeout,
		},
		host:     l.host,
		password: l.password,
		scale:    l.scale,
	}
	err := rspamd.Ping(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("could not ping rspamd: %w", err)
	}

	return rspamd, "rspamd@" + l.host, nil
}

type Rspamd struct {
	client   *http.Client
	host     string
	password string
	scale    float64
}

func (rs *Rspamd) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rs.host+"/ping", nil)
	if err != nil {
		return fmt.Errorf("could not create ping request: %w", err)
	}
	resp, err := rs.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not ping rspamd: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from rspamd, expected 200", resp.StatusCode)
	}

	return nil
}

type checkResponse struct {
	IsSkipped     bool    `json:"is_skipped"`
	Score         float64 `json:"score"`
	RequiredScore float64 `json:"required_score"`
	Symbols       map[string]struct {
		Name  string
		Score float64
	} `json:"symbols"`
	Action string `json:"action"`
}

func (rs *Rspamd) Score(ctx context.Context, in domain.ScoreInput) (float64, error) {
	rawMail, err := mail.Compose(in.Subject, in.Sender, in.Headers, in.TextBody, in.HtmlBody)
	if err != nil {
		return 0, fmt.Errorf("could not compose mail for rspamd: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rs.host+"/checkv2", bytes.NewReader(rawMail))
	if err != nil {
		return 0, fmt.Errorf("could not create check request: %w", err)
	}

	resp, err := rs.doAuthenticated(req)
	if err != nil {
		return 0, fmt.Errorf("could not perform check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d from rspamd, expected 200", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("could not read rspamd response: %w", err)
	}

	checkResponse := &checkResponse{}
	err = json.Unmarshal(body, checkResponse)
	if err != nil {
		return 0, fmt.Errorf("could not deserialize rspamd response: %w", err)
	}

	if checkResponse.IsSkipped {
		return 0, fmt.Errorf("rspamd skipped the check")
	}
	if len(checkResponse.Symbols) == 0 {
		return 0, fmt.Errorf("could not find any symbols in rspamd response")
	}

	for symbol := range checkResponse.Symbols {
		if strings.HasSuffix(symbol, "FAIL") && !okFailSymbols.MatchString(symbol) {
			return 0, fmt.Errorf("unexpected FAIL symbol %s in rspamd response", symbol)
		}
	}

	return scorer.Logistic((checkResponse.Score - checkResponse.RequiredScore) / rs.scale), nil
}

func (rs *Rspamd) doAuthenticated(req *http.Request) (*http.Response, error) {
	req.Header.Set("Password", rs.password)
	resp, err := rs.client.Do(req)

	if err != nil {
		return nil, fmt.Errorf("could not send request to rspamd: %w", err)
	}

	return resp, nil
}
