// Package prompt resolves the three prompt fragments the Dispatch Service
// composes per call (spec.md §6, §4.9): a deployment-wide base prompt, each
// agent's own prompt, and a default fallback — any of which may be given as
// inline text, a local file path, or an http(s) URL.
package prompt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/cubicler/cubicler/pkg/httpclient"
)

// Provider resolves a prompt reference to its final text.
type Provider interface {
	// Resolve returns ref verbatim if it looks like inline text, or the
	// contents of the file/URL it names otherwise.
	Resolve(ctx context.Context, ref string) (string, error)
}

// FileProvider is the default Provider: file paths are read from disk,
// http(s) URLs are fetched with the shared retrying client, and anything
// else is treated as already-resolved inline text.
type FileProvider struct {
	client *httpclient.Client
}

// New constructs a FileProvider. A default httpclient.Client is created if
// client is nil.
func New(client *httpclient.Client) *FileProvider {
	if client == nil {
		client = httpclient.New()
	}
	return &FileProvider{client: client}
}

// Resolve implements Provider.
func (p *FileProvider) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil
	}

	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return p.resolveURL(ctx, ref)
	case looksLikeFilePath(ref):
		data, err := os.ReadFile(ref)
		if err != nil {
			// Not every ref that looks like a path actually is one —
			// fall back to treating it as inline text, per spec.md §6
			// ("prompts may be inline text, a file path, or a URL").
			return ref, nil
		}
		return string(data), nil
	default:
		return ref, nil
	}
}

func (p *FileProvider) resolveURL(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build prompt request for %s: %w", url, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch prompt from %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch prompt from %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read prompt body from %s: %w", url, err)
	}
	return string(data), nil
}

// looksLikeFilePath is a conservative heuristic: a ref is only treated as a
// candidate file path when it resembles one (a path separator, or a known
// text-file suffix) and contains no whitespace or newlines — anything else
// is ordinary inline prompt text and must never hit the filesystem.
func looksLikeFilePath(ref string) bool {
	if strings.ContainsAny(ref, "\n\r\t ") {
		return false
	}
	if strings.HasSuffix(ref, ".md") || strings.HasSuffix(ref, ".txt") {
		return true
	}
	return strings.ContainsRune(ref, '/') || strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../")
}

// Compose assembles the final agent prompt per spec.md §6:
// basePrompt ∥ (agent prompt or default prompt) ∥ invocation context.
// Empty fragments are skipped; fragments are joined with a blank line.
func Compose(fragments ...string) string {
	var nonEmpty []string
	for _, f := range fragments {
		f = strings.TrimSpace(f)
		if f != "" {
			nonEmpty = append(nonEmpty, f)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}
