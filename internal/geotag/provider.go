package geotag

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPProvider reads the current fix from a companion GPS endpoint (the site
// tablet runs a small agent exposing /position). The high-accuracy preference
// is passed as a query flag; agents that cannot honor it ignore it.
type HTTPProvider struct {
	URL    string
	Client *http.Client
}

func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{
		URL:    url,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

type positionResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Denied    bool    `json:"denied"`
}

func (p *HTTPProvider) Position(ctx context.Context) (float64, float64, error) {
	const op = "geotag.HTTPProvider.Position"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL+"?accuracy=high", nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("%s: agent returned %s", op, resp.Status)
	}

	var pos positionResponse
	if err := json.NewDecoder(resp.Body).Decode(&pos); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	if pos.Denied {
		return 0, 0, fmt.Errorf("%s: location permission denied", op)
	}
	return pos.Latitude, pos.Longitude, nil
}
