package location

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultNominatimURL is the public OpenStreetMap reverse geocoding service
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// Nominatim implements Resolver with OpenStreetMap reverse geocoding
type Nominatim struct {
	baseURL    string
	userAgent  string
	positioner Positioner
	client     *http.Client
}

// NewNominatim creates a Nominatim resolver. An empty baseURL uses the public service.
func NewNominatim(baseURL, userAgent string, positioner Positioner) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if userAgent == "" {
		userAgent = "return-pocket"
	}
	return &Nominatim{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		positioner: positioner,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type nominatimAddress struct {
	Shop     string `json:"shop"`
	Road     string `json:"road"`
	City     string `json:"city"`
	Town     string `json:"town"`
	Village  string `json:"village"`
	Suburb   string `json:"suburb"`
	Postcode string `json:"postcode"`
}

type nominatimResponse struct {
	Address *nominatimAddress `json:"address"`
}

// Resolve looks up the current position and returns its formatted address
func (n *Nominatim) Resolve(ctx context.Context) (string, error) {
	coords, err := n.positioner.Position(ctx)
	if err != nil {
		return Unknown, fmt.Errorf("getting position: %w", err)
	}
	return n.ReverseGeocode(ctx, coords)
}

// ReverseGeocode converts coordinates to "shop, road, locality, postcode", skipping
// missing parts. A response without an address yields Unknown.
func (n *Nominatim) ReverseGeocode(ctx context.Context, c Coordinates) (string, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(c.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.Longitude, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return Unknown, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return Unknown, fmt.Errorf("calling nominatim: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Unknown, fmt.Errorf("nominatim error (status %d): %s", resp.StatusCode, string(body))
	}

	var res nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Unknown, fmt.Errorf("decoding response: %w", err)
	}
	if res.Address == nil {
		return Unknown, nil
	}
	return res.Address.format(), nil
}

func (a *nominatimAddress) format() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Shop, a.Road, firstNonEmpty(a.City, a.Town, a.Village, a.Suburb), a.Postcode} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return Unknown
	}
	return strings.Join(parts, ", ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
