// SPDX-License-Identifier: GPL-3.0-or-later
package rules

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/CrawX/go-imap-phishguard/domain"

	"golang.org/x/net/publicsuffix"
)

var domainLikeText = regexp.MustCompile(`^(?i)(www\.)?[\w\-]+(\.[\w\-]+)*\.[a-z]{2,}$`)

var shortenerHosts = map[string]bool{
	"bit.ly":      true,
	"t.co":        true,
	"tinyurl.com": true,
	"goo.gl":      true,
	"ow.ly":       true,
	"is.gd":       true,
	"buff.ly":     true,
	"rebrand.ly":  true,
	"cutt.ly":     true,
	"t.cn":        true,
	"dwz.cn":      true,
	"suo.im":      true,
	"url.cn":      true,
	"rb.gy":       true,
	"shorturl.at": true,
}

type Options struct {
	// LongUrlDetection enables the url length heuristics.
	LongUrlDetection    bool
	HighRiskUrlLength   int
	SuspiciousUrlLength int
	// SuspiciousScore is the score of a SUSPICIOUS verdict.
	SuspiciousScore float64
}

type Verdict struct {
	Level   domain.Level
	Score   float64
	Reasons []string
}

// EvaluateLinks applies the link heuristics. The most severe finding
// determines the level; every finding contributes a reason.
func EvaluateLinks(links []Link, o Options) Verdict {
	v := Verdict{Level: domain.LevelNormal}
	raise := func(level domain.Level, reason string) {
		v.Level = domain.MoreSevere(v.Level, level)
		v.Reasons = append(v.Reasons, reason)
	}

	for _, link := range links {
		if o.LongUrlDetection {
			switch length := len(link.Url); {
			case length > o.HighRiskUrlLength:
				raise(domain.LevelHighRisk, fmt.Sprintf("url of %d characters to %s", length, link.Host))
			case length > o.SuspiciousUrlLength:
				raise(domain.LevelSuspicious, fmt.Sprintf("url of %d characters to %s", length, link.Host))
			}
		}

		if disguised(link) {
			raise(domain.LevelSuspicious, fmt.Sprintf("link text %s points to %s", link.Text, link.Host))
		}
		if shortenerHosts[strings.TrimPrefix(link.Host, "www.")] {
			raise(domain.LevelSuspicious, fmt.Sprintf("shortened url via %s", link.Host))
		}
		if _, err := netip.ParseAddr(link.Host); err == nil {
			raise(domain.LevelSuspicious, fmt.Sprintf("url to ip address %s", link.Host))
		}
		if link.Userinfo {
			raise(domain.LevelSuspicious, fmt.Sprintf("url with userinfo before host %s", link.Host))
		}
		if hasPunycodeLabel(link.Host) {
			raise(domain.LevelSuspicious, fmt.Sprintf("punycode host %s", link.Host))
		}
	}

	switch v.Level {
	case domain.LevelHighRisk:
		v.Score = 1.0
	case domain.LevelSuspicious:
		v.Score = o.SuspiciousScore
	}
	return v
}

// disguised reports anchor texts that read like a domain other than the one
// the link leads to.
func disguised(link Link) bool {
	text := strings.ToLower(strings.TrimSuffix(link.Text, "/"))
	if text == "" || !domainLikeText.MatchString(text) {
		return false
	}
	return registrableDomain(text) != registrableDomain(link.Host)
}

func registrableDomain(host string) string {
	host = strings.TrimPrefix(host, "www.")
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld1
}

func hasPunycodeLabel(host string) bool {
	for _, label := range strings.Split(host, ".") {
		if strings.HasPrefix(label, "xn--") {
			return true
		}
	}
	return false
}
