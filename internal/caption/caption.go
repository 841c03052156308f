// Package caption generates post captions through an OpenAI-compatible
// chat completions endpoint. Generation is best-effort: any failure
// degrades to a fixed placeholder so publishing is never blocked on it.
package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "github.com/torgash1221/ig-autoposter/pkg/logx"
)

// Placeholder is used whenever generation is disabled or fails.
const Placeholder = "✨"

const (
	defaultAPIURL   = "https://api.openai.com/v1"
	defaultModel    = "gpt-4o-mini"
	defaultMaxChars = 1800
)

type Config struct {
	Enabled  bool
	APIKey   string
	APIURL   string
	Model    string
	MaxChars int
}

// Brand is the caption context for one brand.
type Brand struct {
	Name     string
	Language string
	Tone     string
	Hashtags []string
}

// Generator produces a caption for a media URL. Implementations never
// fail; they fall back to Placeholder.
type Generator interface {
	Generate(ctx context.Context, brand Brand, mediaURL string) string
}

// Static always returns a fixed caption. Used when generation is off.
type Static string

func (s Static) Generate(context.Context, Brand, string) string { return string(s) }

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

// New returns a Generator for cfg. Disabled config yields the
// placeholder generator.
func New(cfg Config, log logx.Logger) Generator {
	if !cfg.Enabled {
		return Static(Placeholder)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultMaxChars
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 60 * time.Second},
		log:  log,
	}
}

func (c *Client) Generate(ctx context.Context, brand Brand, mediaURL string) string {
	text, err := c.complete(ctx, brand, mediaURL)
	if err != nil {
		c.log.Warn("caption generation failed; using placeholder",
			logx.String("brand", brand.Name), logx.Err(err))
		return Placeholder
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Placeholder
	}
	return Truncate(text, c.cfg.MaxChars)
}

// Truncate caps s at max runes without splitting a rune.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// BuildPrompt renders the instruction for the model from brand context.
func BuildPrompt(brand Brand) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write an Instagram caption in %s.\n", languageName(brand.Language))
	fmt.Fprintf(&b, "Brand: %s\n", brand.Name)
	if brand.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", brand.Tone)
	}
	b.WriteString("Rules:\n- No invented facts\n- Natural style\n- Soft CTA\n")
	if len(brand.Hashtags) > 0 {
		fmt.Fprintf(&b, "- Hashtags at end: %s\n", strings.Join(brand.Hashtags, " "))
	}
	return b.String()
}

func languageName(code string) string {
	switch {
	case strings.HasPrefix(code, "uk"):
		return "Ukrainian"
	case strings.HasPrefix(code, "ru"):
		return "Russian"
	case strings.HasPrefix(code, "en"), code == "":
		return "English"
	default:
		return code
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, brand Brand, mediaURL string) (string, error) {
	parts := []contentPart{{Type: "text", Text: BuildPrompt(brand)}}
	if mediaURL != "" {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: mediaURL}})
	}
	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: parts}},
		Temperature: 0.8,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("response has no choices")
	}
	return cr.Choices[0].Message.Content, nil
}
