package httputil

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

type Clients struct {
	Scraping *http.Client // target sites, redirects handled manually
	Plain    *http.Client // everything else
}

func NewClients() *Clients {
	scraping := &http.Client{
		Timeout: 15 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Clients{
		Scraping: scraping,
		Plain:    &http.Client{Timeout: 30 * time.Second},
	}
}

// NewRequest builds a GET request with the browser user agent target sites
// expect.
func NewRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en;q=0.5")
	return req, nil
}

// FollowRedirects walks Location headers manually so the full chain of
// intermediate URLs is available to callers. Returns the final response,
// the ordered chain of URLs visited (request URL first, terminal URL last),
// or an error once maxHops is exceeded. The caller owns the response body.
func FollowRedirects(ctx context.Context, client *http.Client, url string, maxHops int) (*http.Response, []string, error) {
	chain := []string{url}
	current := url

	for hop := 0; ; hop++ {
		req, err := NewRequest(ctx, current)
		if err != nil {
			return nil, chain, err
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, chain, err
		}

		if resp.StatusCode < 300 || resp.StatusCode >= 400 {
			return resp, chain, nil
		}

		loc, err := resp.Location()
		resp.Body.Close()
		if err != nil {
			return nil, chain, fmt.Errorf("redirect without location from %s", current)
		}

		if hop+1 >= maxHops {
			return nil, chain, fmt.Errorf("redirect chain exceeded %d hops at %s", maxHops, current)
		}

		current = loc.String()
		chain = append(chain, current)
	}
}
