package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Café Crème", "cafe creme"},
		{"  Joe's   Plumbing & Heating!! ", "joe s plumbing heating"},
		{"ÅSE-BÄCKEREI", "ase backerei"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Fold(tt.in))
		})
	}
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"joe", "plumbing"}, Tokens("Joe's Plumbing", 3))
}

func TestPhoneKey(t *testing.T) {
	assert.Equal(t, "3035550101", PhoneKey("+1 (303) 555-0101"))
	assert.Equal(t, "3035550101", PhoneKey("303.555.0101"))
	assert.Equal(t, "", PhoneKey("555"))
}

func TestPhoneKeys(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{"formatted", "Call us at (303) 555-1234 today", []string{"3035551234"}},
		{"international", "tel:+1.303.555.1234", []string{"3035551234"}},
		{"two numbers", "Office 303-555-1234, fax 303 555 9999", []string{"3035551234", "3035559999"}},
		{"scattered digits", "Rated by 303 customers, 555 reviews, suite 12, open 34 years.", nil},
		{"year", "Top 10 contractors 2024", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PhoneKeys(tt.text))
		})
	}
}

func TestSamePhone(t *testing.T) {
	assert.True(t, SamePhone("3035551234", "3035551234"))
	assert.True(t, SamePhone("3035551234", "5551234"))
	assert.False(t, SamePhone("3035551234", "3035551235"))
	assert.False(t, SamePhone("", "5551234"))
}

func TestStreetLine(t *testing.T) {
	assert.Equal(t, "100 Main St", StreetLine("100 Main St, Denver, CO 80202"))
	assert.Equal(t, "Somewhere", StreetLine("Somewhere"))
}

func TestURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "adds scheme", in: "example.com", want: "https://example.com", ok: true},
		{name: "lowercases host", in: "https://WWW.Example.COM/Menu", want: "https://www.example.com/Menu", ok: true},
		{name: "strips tracking", in: "http://example.com/?utm_source=gmb&id=3#top", want: "http://example.com/?id=3", ok: true},
		{name: "strips root slash", in: "https://example.com/", want: "https://example.com", ok: true},
		{name: "rejects mailto", in: "mailto:a@b.com", ok: false},
		{name: "rejects empty", in: "  ", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := URL(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRegistrableDomain(t *testing.T) {
	assert.Equal(t, "yelp.co.uk", RegistrableDomain("https://m.yelp.co.uk/biz/x"))
	assert.Equal(t, "facebook.com", RegistrableDomain("https://www.facebook.com/rosas"))
	assert.Equal(t, "example.com", RegistrableDomain("http://example.com:8080/a"))
	assert.Equal(t, "", RegistrableDomain("::"))
}
