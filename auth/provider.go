package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrProviderFailed wraps any failure talking to the identity provider.
var ErrProviderFailed = errors.New("identity provider failed")

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// ExternalIdentity is what a provider tells us about the person who just consented.
type ExternalIdentity struct {
	Provider    string
	Subject     string
	DisplayName string
	Email       string
	PictureURL  string
}

// Provider is an OAuth authorization-code identity provider.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (ExternalIdentity, error)
}

// GoogleUserInfo is the body of the v2 userinfo endpoint.
type GoogleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades an authorization code for the user's Google profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (ExternalIdentity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("%w: exchange code: %v", ErrProviderFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("%w: build userinfo request: %v", ErrProviderFailed, err)
	}
	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("%w: fetch userinfo: %v", ErrProviderFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ExternalIdentity{}, fmt.Errorf("%w: userinfo status %d", ErrProviderFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("%w: read userinfo: %v", ErrProviderFailed, err)
	}
	var info GoogleUserInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return ExternalIdentity{}, fmt.Errorf("%w: parse userinfo: %v", ErrProviderFailed, err)
	}
	if info.ID == "" {
		return ExternalIdentity{}, fmt.Errorf("%w: userinfo has no subject", ErrProviderFailed)
	}

	name := info.Name
	if name == "" && (info.GivenName != "" || info.FamilyName != "") {
		name = info.GivenName + " " + info.FamilyName
	}

	return ExternalIdentity{
		Provider:    p.Name(),
		Subject:     info.ID,
		DisplayName: name,
		Email:       info.Email,
		PictureURL:  info.Picture,
	}, nil
}
