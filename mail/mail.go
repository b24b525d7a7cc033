// SPDX-License-Identifier: GPL-3.0-or-later
package mail

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"mime"
	stdmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// MaxBodySize caps the bytes kept per text part.
const MaxBodySize = 512 * 1024

// headers kept on the message record and handed to the scorer
var keptHeaders = []string{
	"From",
	"Reply-To",
	"Return-Path",
	"To",
	"Subject",
	"Date",
	"Message-Id",
	"Authentication-Results",
	"Received-Spf",
	"X-Mailer",
	"Content-Type",
}

type Parsed struct {
	MessageId  string
	Subject    string
	Sender     string
	Recipients []string
	Date       time.Time
	TextBody   string
	HtmlBody   string
	Headers    map[string]string
}

// Parse decodes a raw RFC 5322 mail. Unknown charsets are tolerated, the
// affected parts are kept undecoded.
func Parse(raw []byte) (*Parsed, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("could not parse mail: %w", err)
	}
	defer mr.Close()

	p := &Parsed{Headers: map[string]string{}}
	h := mr.Header

	p.Subject, err = h.Subject()
	if err != nil {
		p.Subject = h.Get("Subject")
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		p.Sender = strings.ToLower(from[0].Address)
	} else {
		p.Sender = strings.ToLower(strings.Trim(strings.TrimSpace(h.Get("From")), "<>"))
	}
	for _, key := range []string{"To", "Cc"} {
		if list, err := h.AddressList(key); err == nil {
			for _, a := range list {
				p.Recipients = append(p.Recipients, strings.ToLower(a.Address))
			}
		}
	}
	if date, err := h.Date(); err == nil {
		p.Date = date
	}
	for _, key := range keptHeaders {
		if v := h.Get(key); v != "" {
			p.Headers[key] = v
		}
	}

	p.MessageId, err = h.MessageID()
	if err != nil || p.MessageId == "" {
		p.MessageId, err = fallbackMessageId(raw)
		if err != nil {
			return nil, err
		}
	} else {
		p.MessageId = "<" + p.MessageId + ">"
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			// keep what was decoded so far, a broken trailing part must not
			// hide the mail from classification
			break
		}
		if part == nil {
			break
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := inline.ContentType()
		body, err := io.ReadAll(io.LimitReader(part.Body, MaxBodySize))
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(mediaType, "text/html"):
			p.HtmlBody = appendPart(p.HtmlBody, string(body))
		case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
			p.TextBody = appendPart(p.TextBody, string(body))
		}
	}

	return p, nil
}

func appendPart(existing, part string) string {
	if existing == "" {
		return part
	}
	return existing + "\n" + part
}

// fallbackMessageId derives a stable id for mails without Message-Id from the
// Received chain, date and subject.
func fallbackMessageId(rawMail []byte) (string, error) {
	msg, err := stdmail.ReadMessage(bytes.NewReader(rawMail))
	if err != nil {
		return "", fmt.Errorf("could not parse mail: %w", err)
	}

	dec := &mime.WordDecoder{
		CharsetReader: charset.Reader,
	}
	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		subject = msg.Header.Get("Subject")
	}

	mailIdHash, err := hash([][]string{msg.Header["Received"], {msg.Header.Get("Date"), msg.Header.Get("From"), subject}})
	if err != nil {
		return "", fmt.Errorf("could not hash headers: %w", err)
	}

	return "<" + mailIdHash + "@phishguard.invalid>", nil
}

// Compose renders a minimal mail for backends that need RFC 5322 input.
func Compose(subject, sender string, headers map[string]string, textBody, htmlBody string) ([]byte, error) {
	buffer := &bytes.Buffer{}

	header := mail.Header{}
	for k, v := range headers {
		if k == "Content-Type" {
			continue
		}
		header.Set(k, v)
	}
	header.SetSubject(subject)
	if sender != "" {
		header.SetAddressList("From", []*mail.Address{{Address: sender}})
	}

	mailWriter, err := mail.CreateWriter(buffer, header)
	if err != nil {
		return nil, fmt.Errorf("could not create mail writer: %w", err)
	}
	textPart, err := mailWriter.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("could not create mail text part: %w", err)
	}

	parts := []struct{ contentType, body string }{{"text/plain", textBody}, {"text/html", htmlBody}}
	for _, part := range parts {
		if part.body == "" {
			continue
		}
		inlineHeader := mail.InlineHeader{}
		inlineHeader.SetContentType(part.contentType, map[string]string{"charset": "utf-8"})
		w, err := textPart.CreatePart(inlineHeader)
		if err != nil {
			return nil, fmt.Errorf("could not create %s part: %w", part.contentType, err)
		}
		_, err = io.WriteString(w, part.body)
		if err != nil {
			return nil, fmt.Errorf("could not write %s part: %w", part.contentType, err)
		}
		err = w.Close()
		if err != nil {
			return nil, fmt.Errorf("could not close %s part: %w", part.contentType, err)
		}
	}

	err = textPart.Close()
	if err != nil {
		return nil, fmt.Errorf("could not close text part: %w", err)
	}
	err = mailWriter.Close()
	if err != nil {
		return nil, fmt.Errorf("could not close mail writer: %w", err)
	}

	return buffer.Bytes(), nil
}

// Domain returns the lower-cased domain of an address.
func Domain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(address[at+1:], "> "))
}

func ShortSubject(subject string) string {
	if (len(subject)) > 30 {
		subject = subject[:30] + "..."
	}
	return subject
}

func hash(input [][]string) (string, error) {
	sha := sha256.New()
	for _, i := range input {
		for _, ii := range i {
			_, err := sha.Write([]byte(ii))
			if err != nil {
				return "", fmt.Errorf("could not hash: %w", err)
			}
		}
	}

	return fmt.Sprintf("%x", sha.Sum(nil)), nil
}
