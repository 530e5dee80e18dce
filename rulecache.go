// Package rulecache is an HTTP response cache middleware whose cache keys are
// defined per rule, see the cachekey package for the key format.
package rulecache

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/always-cache/rulecache/cache"
	cachekey "github.com/always-cache/rulecache/pkg/cache-key"
	serializer "github.com/always-cache/rulecache/pkg/response-serializer"
	tee "github.com/always-cache/rulecache/pkg/response-writer-tee"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxBodySize is the largest request body read for keys that use the body.
const DefaultMaxBodySize = 1 << 20

var defaultMethods = []string{http.MethodGet, http.MethodHead}

// Rule selects the requests it applies to and defines their cache key.
type Rule struct {
	// Key defines how the cache key is built.
	Key *cachekey.Rule
	// Methods the rule applies to. GET and HEAD if empty.
	Methods []string
	// Prefix limits the rule to request paths starting with it.
	Prefix string
	// TTL is how long responses are kept. Zero means they are kept
	// until the cache provider evicts them.
	TTL time.Duration
}

func (rule Rule) matches(r *http.Request) bool {
	methods := rule.Methods
	if len(methods) == 0 {
		methods = defaultMethods
	}
	methodOk := false
	for _, m := range methods {
		if strings.EqualFold(m, r.Method) {
			methodOk = true
			break
		}
	}
	return methodOk && strings.HasPrefix(r.URL.Path, rule.Prefix)
}

type Config struct {
	// Storage for cache entries.
	Cache cache.CacheProvider
	// Rules in order of precedence. The first matching rule is used.
	Rules []Rule
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Meter for cache metrics. Metrics are discarded if nil.
	Meter metric.Meter
	// Maximum size of a cache key. Defaults to cachekey.DefaultMaxKeySize.
	MaxKeySize int
	// Maximum size of a request body read into a key. Defaults to DefaultMaxBodySize.
	MaxBodySize int64
	// If set, every built key is written here in printable form.
	KeyTrace io.Writer
}

type RuleCache struct {
	cache       cache.CacheProvider
	rules       []Rule
	builder     *cachekey.Builder
	log         zerolog.Logger
	metrics     *metrics
	group       singleflight.Group
	maxBodySize int64
}

// New creates the cache middleware from config.
// Rules are copied; the configuration can not change afterwards.
func New(config Config) (*RuleCache, error) {
	if config.Cache == nil {
		return nil, errors.New("rulecache: no cache provider")
	}
	for i, rule := range config.Rules {
		if rule.Key == nil {
			return nil, &ConfigError{Field: "Rules", Message: "rule " + strconv.Itoa(i) + " has no key"}
		}
	}

	var logger zerolog.Logger
	if config.Logger == nil {
		logger = log.Logger
	} else {
		logger = *config.Logger
	}
	logger = logger.With().Str("component", "rulecache").Logger()

	m, err := newMetrics(config.Meter)
	if err != nil {
		return nil, err
	}

	opts := []cachekey.Option{cachekey.WithLogger(logger)}
	if config.MaxKeySize > 0 {
		opts = append(opts, cachekey.WithMaxKeySize(config.MaxKeySize))
	}
	if config.KeyTrace != nil {
		opts = append(opts, cachekey.WithTrace(config.KeyTrace))
	}

	maxBodySize := config.MaxBodySize
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}

	return &RuleCache{
		cache:       config.Cache,
		rules:       append([]Rule(nil), config.Rules...),
		builder:     cachekey.NewBuilder(opts...),
		log:         logger,
		metrics:     m,
		maxBodySize: maxBodySize,
	}, nil
}

// Middleware returns a handler serving cached responses of next.
func (c *RuleCache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.serve(w, r, next)
	})
}

func (c *RuleCache) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	logger := c.logger(r)

	rule := c.findRule(r)
	if rule == nil {
		c.bypass(w, r, next, "")
		return
	}
	name := rule.Key.Name()

	var body [][]byte
	if rule.Key.HasBody() && hasKeyedBody(r) {
		var err error
		if body, err = readBody(r, c.maxBodySize); err != nil {
			logger.Debug().Err(err).Str("rule", name).Msg("Request body not used for key")
			c.bypass(w, r, next, "body")
			return
		}
	}

	key, err := c.builder.Build(rule.Key, cachekey.FromHTTP(r, body))
	c.metrics.recordKey(r.Context(), name, len(key), err)
	if err != nil {
		// no key means no caching, but the request itself is fine
		logger.Warn().Err(err).Str("rule", name).Msg("Could not build cache key")
		c.bypass(w, r, next, "key")
		return
	}
	logger.Trace().Str("rule", name).Str("key", key.Printable()).Msg("Looking up cache")

	if res, ok := c.lookup(key, logger); ok {
		c.metrics.recordLookup(r.Context(), name, "hit")
		cs := CacheStatus{}
		cs.Hit()
		c.send(w, res, cs, logger)
		return
	}
	c.metrics.recordLookup(r.Context(), name, "miss")
	c.fill(w, r, next, rule, key, logger)
}

type fillResult struct {
	res    serializer.TimedResponse
	stored bool
}

// fill gets the response from next and stores it. Concurrent misses for the
// same key wait for a single call to next and share its response.
func (c *RuleCache) fill(w http.ResponseWriter, r *http.Request, next http.Handler, rule *Rule, key cachekey.Key, logger *zerolog.Logger) {
	v, _, shared := c.group.Do(string(key), func() (any, error) {
		rs := tee.NewResponseSaver(nil)
		next.ServeHTTP(rs, r)
		res := rs.Response()
		return fillResult{res: res, stored: c.store(rule, key, res, logger)}, nil
	})
	result := v.(fillResult)
	cs := CacheStatus{Stored: result.stored, Collapsed: shared}
	cs.Forward(FwdReasonMiss)
	c.send(w, result.res, cs, logger)
}

func (c *RuleCache) lookup(key cachekey.Key, logger *zerolog.Logger) (serializer.TimedResponse, bool) {
	ce, ok, err := c.cache.Get(key)
	if err != nil {
		logger.Error().Err(err).Msg("Could not retrieve from cache")
		return serializer.TimedResponse{}, false
	}
	if !ok {
		return serializer.TimedResponse{}, false
	}
	res, err := serializer.BytesToStoredResponse(ce.Bytes)
	if err != nil {
		// in case we have a corrupted cache entry, we delete it and serve the request
		logger.Error().Err(err).Str("key", key.Printable()).Msg("Could not read from cache")
		c.cache.Purge(key)
		return serializer.TimedResponse{}, false
	}
	return res, true
}

func (c *RuleCache) store(rule *Rule, key cachekey.Key, res serializer.TimedResponse, logger *zerolog.Logger) bool {
	// only successes are stored
	if res.StatusCode != http.StatusOK {
		return false
	}
	b, err := serializer.StoredResponseToBytes(res)
	if err != nil {
		logger.Error().Err(err).Msg("Could not serialize response")
		return false
	}
	ce := cache.CacheEntry{
		Key:         key,
		RequestedAt: res.RequestTime,
		ReceivedAt:  res.ResponseTime,
		Bytes:       b,
	}
	if rule.TTL > 0 {
		ce.Expires = res.ResponseTime.Add(rule.TTL)
	}
	if err := c.cache.Put(ce); err != nil {
		logger.Error().Err(err).Str("key", key.Printable()).Msg("Could not write to cache")
		return false
	}
	logger.Trace().Str("key", key.Printable()).Time("expires", ce.Expires).Msg("Wrote to cache")
	return true
}

func (c *RuleCache) send(w http.ResponseWriter, res serializer.TimedResponse, cs CacheStatus, logger *zerolog.Logger) {
	w.Header().Add("Cache-Status", cs.String())
	if err := res.Write(w); err != nil {
		logger.Error().Err(err).Msg("Could not write response body to client")
	}
}

func (c *RuleCache) bypass(w http.ResponseWriter, r *http.Request, next http.Handler, detail string) {
	cs := CacheStatus{Detail: detail}
	cs.Forward(FwdReasonBypass)
	w.Header().Add("Cache-Status", cs.String())
	next.ServeHTTP(w, r)
}

func (c *RuleCache) findRule(r *http.Request) *Rule {
	for i := range c.rules {
		if c.rules[i].matches(r) {
			return &c.rules[i]
		}
	}
	return nil
}

// logger returns the request logger set up by hlog, if any.
func (c *RuleCache) logger(r *http.Request) *zerolog.Logger {
	if l := hlog.FromRequest(r); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &c.log
}
