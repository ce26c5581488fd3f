// Package youtubeapi wraps Google OAuth2 client config and the YouTube Data API
// for the single purpose of uploading archived VODs. Tokens are persisted via
// the TokenStore interface so refreshed credentials survive restarts.
package youtubeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	yt "google.golang.org/api/youtube/v3"
)

// YouTube caps titles at 100 characters and descriptions at 5000.
const (
	maxTitleLen       = 100
	maxDescriptionLen = 5000
	gamingCategoryID  = "20"
)

const provider = "youtube"

// TokenStore persists OAuth tokens between runs.
type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, raw string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken, refreshToken string, expiry time.Time, raw string, err error)
}

type Service struct {
	oauth  *oauth2.Config
	tokens TokenStore
}

// New builds a Service from an installed-app client secrets JSON file
// (downloaded from the Google Cloud console) and a token store.
func New(clientSecretsFile string, ts TokenStore) (*Service, error) {
	data, err := os.ReadFile(clientSecretsFile)
	if err != nil {
		return nil, fmt.Errorf("read client secrets %s: %w", clientSecretsFile, err)
	}
	oc, err := google.ConfigFromJSON(data, yt.YoutubeUploadScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	return &Service{oauth: oc, tokens: ts}, nil
}

// AuthCodeURL returns the consent URL for the one-shot auth flow.
func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an auth code for tokens and persists them.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.saveToken(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func (s *Service) saveToken(ctx context.Context, tok *oauth2.Token) error {
	raw, _ := json.Marshal(tok)
	return s.tokens.UpsertOAuthToken(ctx, provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, string(raw))
}

// refreshIfNeeded loads the stored token and refreshes it when less than two
// minutes of validity remain, persisting the result.
func (s *Service) refreshIfNeeded(ctx context.Context) (*oauth2.Token, error) {
	access, refresh, expiry, raw, err := s.tokens.GetOAuthToken(ctx, provider)
	if err != nil {
		return nil, err
	}
	if access == "" && refresh == "" {
		return nil, errors.New("no youtube token stored; run the yt-auth command first")
	}
	var tok oauth2.Token
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &tok)
	}
	if tok.AccessToken == "" {
		tok.AccessToken = access
	}
	tok.RefreshToken = refresh
	tok.Expiry = expiry
	if time.Until(tok.Expiry) > 2*time.Minute {
		return &tok, nil
	}
	newTok, err := s.oauth.TokenSource(ctx, &tok).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh youtube token: %w", err)
	}
	if err := s.saveToken(ctx, newTok); err != nil {
		return nil, err
	}
	return newTok, nil
}

// Refresh exchanges a refresh token for a fresh access token without
// consulting the stored copy. Used by the background refresher.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// Client returns an authenticated YouTube API service.
func (s *Service) Client(ctx context.Context) (*yt.Service, error) {
	tok, err := s.refreshIfNeeded(ctx)
	if err != nil {
		return nil, err
	}
	return yt.New(s.oauth.Client(ctx, tok))
}

// UploadRequest describes one video upload.
type UploadRequest struct {
	Path        string
	Title       string
	Description string
	Privacy     string // public | private | unlisted
	Tags        []string
}

// UploadVideo uploads the file as a resumable media upload and returns the new
// video ID.
func UploadVideo(ctx context.Context, svc *yt.Service, req UploadRequest) (string, error) {
	if svc == nil {
		return "", errors.New("nil youtube service")
	}
	f, err := os.Open(req.Path)
	if err != nil {
		return "", fmt.Errorf("open video file: %w", err)
	}
	defer f.Close()

	title := req.Title
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	description := req.Description
	if len(description) > maxDescriptionLen {
		description = description[:maxDescriptionLen]
	}
	privacy := req.Privacy
	if privacy == "" {
		privacy = "unlisted"
	}
	video := &yt.Video{
		Snippet: &yt.VideoSnippet{
			Title:       title,
			Description: description,
			Tags:        req.Tags,
			CategoryId:  gamingCategoryID,
		},
		Status: &yt.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}
	call := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f).Context(ctx)
	res, err := call.Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload: %w", classifyUploadError(err))
	}
	if res.Id == "" {
		return "", errors.New("youtube upload: empty video id in response")
	}
	return res.Id, nil
}

// classifyUploadError rewrites well-known quota failures into actionable
// messages; anything else passes through unchanged.
func classifyUploadError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "quotaExceeded":
			return fmt.Errorf("daily API quota exceeded, retry tomorrow: %w", err)
		case "uploadLimitExceeded":
			return fmt.Errorf("channel upload limit exceeded: %w", err)
		}
	}
	return err
}
