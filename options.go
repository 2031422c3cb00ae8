package milky

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rusq/milky/internal/network"
)

// Limits are the API call limits applied to each session.
type Limits struct {
	// RequestsPerMinute is the API request rate towards one endpoint.
	RequestsPerMinute int `toml:"requests_per_minute" validate:"required,min=1"`
	// Burst is the limiter burst in requests per second.
	Burst uint `toml:"burst" validate:"required,min=1"`
	// Retries is the number of attempts for an API call that fails with a
	// transient error.
	Retries int `toml:"retries" validate:"min=0"`
}

// DefLimits are the default limits used when initialising the adapter.
var DefLimits = Limits{
	RequestsPerMinute: network.DefRequestsPerMinute,
	Burst:             5,
	Retries:           3,
}

// Validate checks the limits for sanity.
func (l *Limits) Validate() error {
	return validate.Struct(l)
}

// Apply replaces the limits with the ones given, after validating them.
func (l *Limits) Apply(other Limits) error {
	if err := other.Validate(); err != nil {
		return err
	}
	*l = other
	return nil
}

// options is the set of adapter knobs with usable defaults.
type options struct {
	lg               *slog.Logger
	httpCl           *http.Client
	limits           Limits
	nicknames        []string
	preprocess       bool
	webhookPath      string
	evtBufSz         int
	handshakeTimeout time.Duration
}

func defOptions() options {
	return options{
		lg:               slog.Default(),
		httpCl:           http.DefaultClient,
		limits:           DefLimits,
		preprocess:       true,
		webhookPath:      "/milky",
		evtBufSz:         100,
		handshakeTimeout: 30 * time.Second,
	}
}

// Option is the signature of the option-setting function.
type Option func(*options)

// WithLogger sets the logger to use for the adapter and its sessions.  If
// this option is not given, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.lg = l
		}
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(cl *http.Client) Option {
	return func(o *options) {
		if cl != nil {
			o.httpCl = cl
		}
	}
}

// WithLimits sets the API limits to use for the sessions.  If this option is
// not given, DefLimits are used.  Invalid limits are ignored.
func WithLimits(l Limits) Option {
	return func(o *options) {
		if l.Validate() == nil {
			o.limits = l
		}
	}
}

// WithNicknames sets the bot nicknames recognised by the message
// preprocessor: a message starting with one of them is treated as addressed
// to the bot.
func WithNicknames(names ...string) Option {
	return func(o *options) {
		o.nicknames = names
	}
}

// WithoutPreprocessing disables the reply/mention/nickname enrichment of
// message events before dispatch.
func WithoutPreprocessing() Option {
	return func(o *options) {
		o.preprocess = false
	}
}

// WithWebhookPath sets the path the webhook listener accepts deliveries on.
// Default is "/milky".
func WithWebhookPath(path string) Option {
	return func(o *options) {
		if path != "" {
			o.webhookPath = path
		}
	}
}

// WithEventBuffer sets the size of the inbound event buffer between the
// sessions and the dispatch loop.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.evtBufSz = n
		}
	}
}
