package mygas

import (
	"net/http"
	"time"

	"github.com/levenlabs/go-lflag"
	"golang.org/x/time/rate"

	"github.com/jameshartig/mygas/pkg/common"
	"github.com/jameshartig/mygas/pkg/types"
)

// DefaultBaseURL is the public MyGas API (мойгаз.смородина.онлайн).
const DefaultBaseURL = "https://xn--80afnfom.xn--80ahmohdapg.xn--80asehdb/api/v1"

// HTTPFactory builds Clients that share one http.Client and one rate limiter
// so all entries together stay under the configured request rate.
type HTTPFactory struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

var _ Factory = (*HTTPFactory)(nil)

// Configured registers the client flags and returns a factory that is usable
// after lflag.Configure.
func Configured() *HTTPFactory {
	baseURL := lflag.String("mygas-base-url", DefaultBaseURL, "Base URL of the MyGas API")
	timeout := lflag.Duration("mygas-http-timeout", time.Minute, "Timeout of a single HTTP request to MyGas")
	rateLimit := 2.0
	lflag.JSON(&rateLimit, "mygas-rate-limit", rateLimit, "Maximum requests per second sent to MyGas across all entries")
	rateBurst := 5
	lflag.JSON(&rateBurst, "mygas-rate-burst", rateBurst, "Burst size for requests sent to MyGas")

	f := &HTTPFactory{}
	lflag.Do(func() {
		f.baseURL = *baseURL
		f.client = common.HTTPClient(*timeout)
		f.limiter = rate.NewLimiter(rate.Limit(rateLimit), rateBurst)
	})
	return f
}

// NewHTTPFactory returns a factory without registering flags.
func NewHTTPFactory(client *http.Client, baseURL string, limiter *rate.Limiter) *HTTPFactory {
	return &HTTPFactory{client: client, baseURL: baseURL, limiter: limiter}
}

// New implements Factory.
func (f *HTTPFactory) New(creds types.Credentials) API {
	return &Client{
		client:   f.client,
		baseURL:  f.baseURL,
		limiter:  f.limiter,
		username: creds.Username,
		password: creds.Password,
	}
}
