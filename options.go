package gitpure

import (
	"net/http"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/master-wayne7/gitpure/internal/logging"
)

// Version of the library, sent in the default user agent.
const Version = "0.1.0"

// DefaultUserAgent identifies gitpure to servers.
const DefaultUserAgent = "gitpure/" + Version

// Option configures CloneFrom, Open and Init.
type Option func(*settings)

type settings struct {
	logger          *zap.Logger
	httpClient      *http.Client
	userAgent       string
	checkoutWorkers int
	fs              afero.Fs
}

func newSettings(opts []Option) *settings {
	s := &settings{
		userAgent: DefaultUserAgent,
		fs:        afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

// WithLogger sets the logger. Library code logs at debug level only.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithHTTPClient sets the client used for every request.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		s.httpClient = c
	}
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(s *settings) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// WithCheckoutWorkers bounds the number of files written concurrently
// during checkout.
func WithCheckoutWorkers(n int) Option {
	return func(s *settings) {
		s.checkoutWorkers = n
	}
}

// withFs swaps the filesystem, for tests.
func withFs(fs afero.Fs) Option {
	return func(s *settings) {
		s.fs = fs
	}
}
