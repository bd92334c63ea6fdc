// Package normalize holds the text and URL normalization shared by
// acquisition and verification.
package normalize

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true, "gclid": true, "fbclid": true,
}

// Fold lowercases s, strips diacritics and collapses everything that is not
// a letter or digit into single spaces.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

// Tokens returns the folded words of s, skipping words shorter than minLen
func Tokens(s string, minLen int) []string {
	var out []string
	for _, w := range strings.Fields(Fold(s)) {
		if len([]rune(w)) >= minLen {
			out = append(out, w)
		}
	}
	return out
}

// Digits returns only the digits of s
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneKey returns the trailing significant digits of a phone number, which
// survive country-code and formatting differences. Returns "" for numbers
// too short to match on.
func PhoneKey(phone string) string {
	d := Digits(phone)
	if len(d) < 7 {
		return ""
	}
	if len(d) > 10 {
		d = d[len(d)-10:]
	}
	return d
}

// phoneSpan matches a run of digits held together by phone punctuation.
// Words between numbers end the span.
var phoneSpan = regexp.MustCompile(`\+?\d[\d \t().\-]{5,18}\d`)

// PhoneKeys returns the PhoneKey of every phone-shaped span in text
func PhoneKeys(text string) []string {
	var keys []string
	for _, span := range phoneSpan.FindAllString(text, -1) {
		if k := PhoneKey(span); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// SamePhone reports whether two phone keys name the same number. A local
// number without its area code matches on the trailing seven digits.
func SamePhone(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) < len(b) {
		a, b = b, a
	}
	return strings.HasSuffix(a, b)
}

// StreetLine returns the first comma-separated part of an address
func StreetLine(address string) string {
	line, _, _ := strings.Cut(address, ",")
	return strings.TrimSpace(line)
}

// URL normalizes a website URL: adds a scheme, lowercases the host, drops
// fragments, tracking parameters and a trailing slash. ok is false for
// anything that is not an http(s) URL with a host.
func URL(raw string) (normalized string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	lower := strings.ToLower(raw)
	for _, p := range []string{"mailto:", "tel:", "javascript:", "data:"} {
		if strings.HasPrefix(lower, p) {
			return "", false
		}
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		if trackingParams[strings.ToLower(k)] {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()

	if u.Path == "/" && u.RawQuery == "" {
		u.Path = ""
	}

	return u.String(), true
}

// Host returns the lowercased hostname of a URL without a leading www.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// RegistrableDomain returns eTLD+1 of a URL's host, e.g. "yelp.co.uk" for
// "https://m.yelp.co.uk/biz/x".
func RegistrableDomain(raw string) string {
	host := Host(raw)
	if host == "" {
		return ""
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}
