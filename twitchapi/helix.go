package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultAPIBase = "https://api.twitch.tv/helix"

// HelixClient provides the two Helix calls VOD discovery needs.
type HelixClient struct {
	TokenSource *TokenSource
	ClientID    string
	HTTPClient  *http.Client
	APIBase     string // override for tests; defaults to the Helix base URL
}

// VideoMeta is one archive VOD as reported by Helix.
type VideoMeta struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	CreatedAt    string `json:"created_at"`
	Duration     string `json:"duration"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.APIBase != "" {
		return hc.APIBase
	}
	return defaultAPIBase
}

func (hc *HelixClient) do(ctx context.Context, path string, query map[string]string, out any) error {
	tok, err := hc.TokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+path, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("helix %s: %s: %s", path, resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.do(ctx, "/users", map[string]string{"login": login}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user %q not found", login)
	}
	return body.Data[0].ID, nil
}

// ListVideos lists past-broadcast archive videos for a user, most recent first.
func (hc *HelixClient) ListVideos(ctx context.Context, userID string, first int) ([]VideoMeta, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	if first <= 0 {
		first = 20
	}
	var body struct {
		Data       []VideoMeta `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	err := hc.do(ctx, "/videos", map[string]string{
		"user_id": userID,
		"type":    "archive", // past broadcasts only, not highlights/uploads
		"first":   fmt.Sprintf("%d", first),
	}, &body)
	if err != nil {
		return nil, err
	}
	return body.Data, nil
}

// ListChannelVideos resolves a channel login and lists its archive VODs.
func (hc *HelixClient) ListChannelVideos(ctx context.Context, channel string, first int) ([]VideoMeta, error) {
	userID, err := hc.GetUserID(ctx, channel)
	if err != nil {
		return nil, err
	}
	return hc.ListVideos(ctx, userID, first)
}
