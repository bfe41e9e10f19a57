package mcpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultFetchTimeout bounds a fetch request.
	DefaultFetchTimeout = 30 * time.Second

	// MaxFetchChars caps the returned content.
	MaxFetchChars = 100_000

	// maxFetchBytes caps how much of a response body is read.
	maxFetchBytes = 5 << 20

	fetchUserAgent = "notesmcp-fetch/1.0"
)

// Fetcher retrieves web pages for the fetch tool.
type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a Fetcher. When insecure is set, TLS certificates are
// not verified.
func NewFetcher(timeout time.Duration, insecure bool) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via MCP_INSECURE_SKIP_VERIFY
	}
	return &Fetcher{client: &http.Client{Timeout: timeout, Transport: transport}}
}

// Fetch GETs rawURL and returns its content. HTML bodies are converted to
// Markdown; other bodies are returned verbatim. Content is capped at
// [MaxFetchChars] runes.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if rawURL == "" {
		return "", errors.New("url é obrigatória")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return "", errors.New("url deve começar com http:// ou https://")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("fetch: read body: %w", err)
	}
	content := string(body)
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "�")
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		content, err = htmlToMarkdown(content)
		if err != nil {
			return "", fmt.Errorf("fetch: convert html: %w", err)
		}
	}
	return capContent(content), nil
}

// htmlToMarkdown converts the page body to Markdown.
func htmlToMarkdown(page string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	body, err := doc.Find("body").Html()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(body) == "" {
		body = page
	}
	converter := md.NewConverter("", true, nil)
	return converter.ConvertString(body)
}

func capContent(s string) string {
	if utf8.RuneCountInString(s) <= MaxFetchChars {
		return s
	}
	n := 0
	for i := range s {
		if n == MaxFetchChars {
			return s[:i] + fmt.Sprintf("\n\n[conteúdo truncado em %d caracteres]", MaxFetchChars)
		}
		n++
	}
	return s
}
