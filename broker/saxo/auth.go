package saxo

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Credentials are the OAuth values persisted by the token helper scripts.
// The token lifecycle itself lives outside the engine; here we only build a
// source that refreshes when the access token expires.
type Credentials struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// TokenSource returns a refreshing source when client credentials and a
// refresh token are present, and a static one otherwise.
func TokenSource(ctx context.Context, c Credentials) oauth2.TokenSource {
	tok := &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.Expiry,
	}

	if c.ClientID == "" || c.RefreshToken == "" {
		return oauth2.StaticTokenSource(tok)
	}

	conf := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL + "/authorize",
			TokenURL:  c.AuthURL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return conf.TokenSource(ctx, tok)
}
