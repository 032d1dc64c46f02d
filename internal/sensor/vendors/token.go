package vendors

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

// TokenProvider supplies a bearer token for a vendor call.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a long-lived API key used as a bearer token.
type StaticToken string

// Token returns the key itself.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("api key is not configured")
	}
	return string(s), nil
}

// ClientCredentials obtains tokens with the OAuth2 client-credentials grant
// (client id and secret sent as HTTP basic auth).
type ClientCredentials struct {
	vendor  string
	cfg     *clientcredentials.Config
	client  *http.Client
	source  oauth2.TokenSource
	fetches atomic.Int64
}

// NewClientCredentials creates a provider against tokenURL. When cache is
// true the token is reused until it expires; otherwise every call fetches
// a fresh one.
func NewClientCredentials(vendor, tokenURL, clientID, clientSecret string, client *http.Client, cache bool) *ClientCredentials {
	if client == nil {
		client = http.DefaultClient
	}
	p := &ClientCredentials{
		vendor: vendor,
		cfg: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		client: client,
	}
	if cache {
		base := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		p.source = oauth2.ReuseTokenSource(nil, countingSource{p: p, ctx: base})
	}
	return p
}

// Token returns a valid access token.
func (p *ClientCredentials) Token(ctx context.Context) (string, error) {
	var (
		tok *oauth2.Token
		err error
	)
	if p.source != nil {
		tok, err = p.source.Token()
	} else {
		tok, err = p.fetch(ctx)
	}
	if err != nil {
		return "", p.classify(err)
	}
	return tok.AccessToken, nil
}

// Fetches reports how many tokens were requested from the server.
func (p *ClientCredentials) Fetches() int {
	return int(p.fetches.Load())
}

func (p *ClientCredentials) fetch(ctx context.Context) (*oauth2.Token, error) {
	p.fetches.Add(1)
	return p.cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, p.client))
}

func (p *ClientCredentials) classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		msg := re.ErrorDescription
		if msg == "" {
			msg = errorMessage(re.Body)
		}
		return &sensor.AuthError{Vendor: p.vendor, Status: re.Response.StatusCode, Message: msg}
	}
	return &sensor.RemoteError{Vendor: p.vendor, Message: errors.Wrap(err, "token request").Error()}
}

type countingSource struct {
	p   *ClientCredentials
	ctx context.Context
}

func (s countingSource) Token() (*oauth2.Token, error) {
	return s.p.fetch(s.ctx)
}
