package bins

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"regexp"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/net/html"
)

// Collection is one upcoming kerbside collection.
type Collection struct {
	Type string    `json:"type"`
	Date time.Time `json:"date"`
}

// Fetcher retrieves the upcoming collection schedule.
type Fetcher interface {
	Collections(ctx context.Context) ([]Collection, error)
}

// councilFetcher scrapes the council's bin collection page. The page loads
// its schedule asynchronously behind a session cookie, so the fetcher
// establishes a session and then polls the page_loading endpoint until the
// service panels appear.
type councilFetcher struct {
	url    string
	client *http.Client
	clock  clockwork.Clock

	attempts  int
	pollDelay time.Duration
}

// NewCouncilFetcher builds a Fetcher for the council bin collection page.
func NewCouncilFetcher(url string, clock clockwork.Clock) Fetcher {
	jar, _ := cookiejar.New(nil)
	return &councilFetcher{
		url:       url,
		client:    &http.Client{Timeout: 30 * time.Second, Jar: jar},
		clock:     clock,
		attempts:  15,
		pollDelay: 2 * time.Second,
	}
}

func (f *councilFetcher) Collections(ctx context.Context) ([]Collection, error) {
	// First request establishes the session; its body rarely carries the
	// schedule yet.
	if _, err := f.get(ctx, f.url); err != nil {
		return nil, fmt.Errorf("open council session: %w", err)
	}

	loadingURL := f.url + "?page_loading=1"
	var lastErr error
	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-f.clock.After(f.pollDelay):
			}
		}

		doc, err := f.get(ctx, loadingURL)
		if err != nil {
			lastErr = err
			continue
		}
		collections := parseCollections(doc, f.clock.Now())
		if len(collections) > 0 {
			return collections, nil
		}
		lastErr = fmt.Errorf("schedule not loaded yet")
	}
	return nil, fmt.Errorf("council page never produced a schedule: %w", lastErr)
}

func (f *councilFetcher) get(ctx context.Context, url string) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return html.Parse(resp.Body)
}

// parseCollections extracts (service, next collection date) pairs from the
// council page DOM. Each service is an h3 with the waste-service-name class
// followed by a definition list whose "Next collection" entry holds the
// date. Bulky waste is an on-demand service and is not a collection.
func parseCollections(doc *html.Node, now time.Time) []Collection {
	var out []Collection
	service := ""

	var walk func(n *html.Node)
	var pending bool // saw a "Next collection" dt, waiting for its dd
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h3":
				if hasClass(n, "waste-service-name") {
					service = strings.TrimSpace(nodeText(n))
					pending = false
				}
			case "dt":
				pending = strings.EqualFold(strings.TrimSpace(nodeText(n)), "Next collection")
			case "dd":
				if pending && service != "" && !strings.Contains(service, "Bulky") {
					if date, err := parseCollectionDate(nodeText(n), now); err == nil {
						out = append(out, Collection{Type: service, Date: date})
					}
				}
				pending = false
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

var (
	ordinalRe     = regexp.MustCompile(`(\d+)(st|nd|rd|th)`)
	parentheticRe = regexp.MustCompile(`\(.*?\)`)
)

var dateLayouts = []string{"Monday 2 January 2006", "Monday 2 Jan 2006"}

// parseCollectionDate turns the council's free-text date ("Tuesday 3rd
// June (in 5 days)") into a concrete day. The page omits the year, so the
// current year is assumed and rolled forward when the result would sit in
// the past. A 48 hour allowance keeps "yesterday's" entry, still shown on
// the page on collection morning, in the current year.
func parseCollectionDate(raw string, now time.Time) (time.Time, error) {
	cleaned := parentheticRe.ReplaceAllString(raw, "")
	cleaned = ordinalRe.ReplaceAllString(cleaned, "$1")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return time.Time{}, fmt.Errorf("empty date text")
	}

	withYear := fmt.Sprintf("%s %d", cleaned, now.Year())
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, withYear)
		if err != nil {
			continue
		}
		if parsed.Before(now.Add(-48 * time.Hour)) {
			parsed = parsed.AddDate(1, 0, 0)
		}
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}
