package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/torgash1221/ig-autoposter/internal/sink"
	logx "github.com/torgash1221/ig-autoposter/pkg/logx"
)

const (
	defaultAPIVersion = "v20.0"
	defaultBaseURL    = "https://graph.facebook.com"
)

type Config struct {
	UserID      string
	AccessToken string
	APIVersion  string
	BaseURL     string // overridable for tests
}

// Client publishes media through the Instagram Graph API. A publish is
// two sequential calls (create container, then publish); both must
// succeed for the delivery to count, and either failing fails the whole
// logical delivery step.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.UserID) == "" || strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("instagram user id and access token are required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 60 * time.Second},
		// The Graph API throttles per app-user; keep well under it.
		// Burst 2 lets one delivery's container+publish pair go through
		// without an artificial gap in between.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 2),
		log:     log,
	}, nil
}

var _ sink.Sink = (*Client)(nil)

// Deliver creates a media container for the item and publishes it.
func (c *Client) Deliver(ctx context.Context, item sink.Item) (string, error) {
	if item.MediaURL == "" {
		return "", errors.New("instagram delivery requires a media url")
	}

	containerID, err := c.createContainer(ctx, item)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	mediaID, err := c.publish(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("publish container %s: %w", containerID, err)
	}
	c.log.Debug("instagram media published",
		logx.String("business", item.Business),
		logx.String("media_id", mediaID),
		logx.Bool("story", item.Story))
	return mediaID, nil
}

func (c *Client) createContainer(ctx context.Context, item sink.Item) (string, error) {
	form := url.Values{}
	if item.Video {
		form.Set("video_url", item.MediaURL)
	} else {
		form.Set("image_url", item.MediaURL)
	}
	if item.Story {
		form.Set("media_type", "STORIES")
	}
	if item.Caption != "" && !item.Story {
		form.Set("caption", item.Caption)
	}
	return c.post(ctx, fmt.Sprintf("/%s/media", c.cfg.UserID), form)
}

func (c *Client) publish(ctx context.Context, creationID string) (string, error) {
	form := url.Values{}
	form.Set("creation_id", creationID)
	return c.post(ctx, fmt.Sprintf("/%s/media_publish", c.cfg.UserID), form)
}

type graphResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, form url.Values) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	form.Set("access_token", c.cfg.AccessToken)

	endpoint := fmt.Sprintf("%s/%s%s", c.cfg.BaseURL, c.cfg.APIVersion, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var gr graphResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("graph api: unexpected status %s: %s", resp.Status, truncate(string(body), 300))
	}
	if gr.Error != nil {
		return "", fmt.Errorf("graph api: %s (type=%s code=%d)", gr.Error.Message, gr.Error.Type, gr.Error.Code)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("graph api: unexpected status %s: %s", resp.Status, truncate(string(body), 300))
	}
	if gr.ID == "" {
		return "", fmt.Errorf("graph api: response missing id: %s", truncate(string(body), 300))
	}
	return gr.ID, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
