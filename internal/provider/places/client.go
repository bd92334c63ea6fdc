// Package places is a client for Google Places Text Search (New) with a
// circular location bias.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/resilience"
)

const (
	defaultBaseURL = "https://places.googleapis.com"
	pageSize       = 20
	service        = "places"
)

const fieldMask = "places.id,places.displayName,places.formattedAddress,places.shortFormattedAddress," +
	"places.addressComponents,places.nationalPhoneNumber,places.internationalPhoneNumber," +
	"places.websiteUri,places.location,places.rating,places.userRatingCount," +
	"places.primaryType,places.primaryTypeDisplayName,places.businessStatus,nextPageToken"

// Client searches for businesses around a point
type Client interface {
	SearchNearby(ctx context.Context, q Query) (*Page, error)
}

// Query is one text search biased to a circle
type Query struct {
	Text      string
	Lat       float64
	Lon       float64
	RadiusM   int
	PageToken string
}

// Page is one page of results
type Page struct {
	Places        []Place
	NextPageToken string
}

// Place is a place returned by the API. Any field may be missing.
type Place struct {
	ID                       string             `json:"id"`
	DisplayName              LocalizedText      `json:"displayName"`
	FormattedAddress         string             `json:"formattedAddress"`
	ShortFormattedAddress    string             `json:"shortFormattedAddress"`
	AddressComponents        []AddressComponent `json:"addressComponents"`
	NationalPhoneNumber      string             `json:"nationalPhoneNumber"`
	InternationalPhoneNumber string             `json:"internationalPhoneNumber"`
	WebsiteURI               string             `json:"websiteUri"`
	Location                 *LatLng            `json:"location"`
	Rating                   float64            `json:"rating"`
	UserRatingCount          int                `json:"userRatingCount"`
	PrimaryType              string             `json:"primaryType"`
	PrimaryTypeDisplayName   LocalizedText      `json:"primaryTypeDisplayName"`
	BusinessStatus           string             `json:"businessStatus"`

	// Raw is the undecoded JSON object for this place
	Raw json.RawMessage `json:"-"`
}

// LocalizedText is a text with language code
type LocalizedText struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// AddressComponent is one structured address part
type AddressComponent struct {
	LongText  string   `json:"longText"`
	ShortText string   `json:"shortText"`
	Types     []string `json:"types"`
}

// LatLng is a coordinate pair
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Locality returns the locality address component, if present
func (p *Place) Locality() string {
	for _, c := range p.AddressComponents {
		for _, t := range c.Types {
			if t == "locality" || t == "postal_town" {
				return c.LongText
			}
		}
	}
	return ""
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Places client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type searchTextRequest struct {
	TextQuery    string        `json:"textQuery"`
	PageSize     int           `json:"pageSize"`
	PageToken    string        `json:"pageToken,omitempty"`
	LocationBias *locationBias `json:"locationBias,omitempty"`
}

type locationBias struct {
	Circle circle `json:"circle"`
}

type circle struct {
	Center LatLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type searchTextResponse struct {
	Places        []json.RawMessage `json:"places"`
	NextPageToken string            `json:"nextPageToken"`
}

func (c *httpClient) SearchNearby(ctx context.Context, q Query) (*Page, error) {
	reqBody := searchTextRequest{
		TextQuery: q.Text,
		PageSize:  pageSize,
		PageToken: q.PageToken,
	}
	if q.RadiusM > 0 {
		reqBody.LocationBias = &locationBias{Circle: circle{
			Center: LatLng{Latitude: q.Lat, Longitude: q.Lon},
			Radius: float64(q.RadiusM),
		}}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, eris.Wrap(err, "places: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.ClassifyTransport(service, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.ClassifyTransport(service, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.ClassifyHTTP(service, resp.StatusCode, string(respBody))
	}

	var raw searchTextResponse
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal response")
	}

	page := &Page{NextPageToken: raw.NextPageToken, Places: make([]Place, 0, len(raw.Places))}
	for _, r := range raw.Places {
		var p Place
		// malformed entries are kept with only Raw set; the scraper rejects them
		_ = json.Unmarshal(r, &p)
		p.Raw = r
		page.Places = append(page.Places, p)
	}

	return page, nil
}
