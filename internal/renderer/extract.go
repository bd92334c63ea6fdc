package renderer

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mcnijman/go-emailaddress"
	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/normalize"
)

// Extraction holds the contact markers and text stats of a rendered page
type Extraction struct {
	Title      string
	Emails     []string
	Phones     []string
	TextLength int
}

// HasContact returns true if any phone or email marker was found
func (e *Extraction) HasContact() bool {
	return len(e.Emails) > 0 || len(e.Phones) > 0
}

var phonePattern = regexp.MustCompile(`(?:\+?\d{1,3}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`)

// Extract parses rendered HTML for its title, tel:/mailto: links, free-text
// emails and phone numbers.
func Extract(html string) (*Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "renderer: parse html")
	}

	doc.Find("script, style, noscript").Remove()

	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	out := &Extraction{
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		TextLength: len(text),
	}

	out.Emails = docEmailExtractor(doc)
	if len(out.Emails) == 0 {
		out.Emails = regexEmailExtractor([]byte(text))
	}
	out.Emails = filterInvalidEmails(out.Emails)

	out.Phones = docPhoneExtractor(doc)
	if len(out.Phones) == 0 {
		out.Phones = textPhoneExtractor(text)
	}

	return out, nil
}

func docEmailExtractor(doc *goquery.Document) []string {
	seen := map[string]bool{}

	var emails []string

	doc.Find("a[href^='mailto:']").Each(func(_ int, s *goquery.Selection) {
		mailto, exists := s.Attr("href")
		if !exists {
			return
		}
		value := strings.TrimPrefix(mailto, "mailto:")
		if i := strings.IndexByte(value, '?'); i >= 0 {
			value = value[:i]
		}
		if email, err := getValidEmail(value); err == nil && !seen[email] {
			emails = append(emails, email)
			seen[email] = true
		}
	})

	return emails
}

func regexEmailExtractor(body []byte) []string {
	seen := map[string]bool{}

	var emails []string

	for _, addr := range emailaddress.Find(body, false) {
		s := addr.String()
		if !seen[s] {
			emails = append(emails, s)
			seen[s] = true
		}
	}

	return emails
}

func getValidEmail(s string) (string, error) {
	email, err := emailaddress.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}

	return email.String(), nil
}

func docPhoneExtractor(doc *goquery.Document) []string {
	seen := map[string]bool{}

	var phones []string

	doc.Find("a[href^='tel:']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		key := normalize.PhoneKey(strings.TrimPrefix(href, "tel:"))
		if key != "" && !seen[key] {
			phones = append(phones, key)
			seen[key] = true
		}
	})

	return phones
}

func textPhoneExtractor(text string) []string {
	seen := map[string]bool{}

	var phones []string

	for _, m := range phonePattern.FindAllString(text, 20) {
		key := normalize.PhoneKey(m)
		if key != "" && !seen[key] {
			phones = append(phones, key)
			seen[key] = true
		}
	}

	return phones
}

// invalidEmailPatterns match placeholder, protected and false-positive addresses
var invalidEmailPatterns = []*regexp.Regexp{
	regexp.MustCompile(`@sentry\.wixpress\.com$`),
	regexp.MustCompile(`@sentry-next\.wixpress\.com$`),
	regexp.MustCompile(`@example\.(com|org|net)$`),
	regexp.MustCompile(`@(my|your)?domain\.com$`),
	regexp.MustCompile(`@your(site|company)\.com$`),
	regexp.MustCompile(`@(sample|test|website|email)\.com$`),
	regexp.MustCompile(`^(noreply|no-reply|donotreply|do-not-reply)@`),
	regexp.MustCompile(`^[a-f0-9]{32,}@`),
	regexp.MustCompile(`\.(png|jpg|jpeg|gif|svg|webp)$`),
}

func filterInvalidEmails(emails []string) []string {
	var valid []string

	for _, email := range emails {
		if isValidBusinessEmail(email) {
			valid = append(valid, email)
		}
	}

	return valid
}

func isValidBusinessEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))

	for _, pattern := range invalidEmailPatterns {
		if pattern.MatchString(email) {
			return false
		}
	}

	return !strings.Contains(email, "placeholder")
}
