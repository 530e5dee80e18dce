package rulecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/always-cache/rulecache/cache"
	cachekey "github.com/always-cache/rulecache/pkg/cache-key"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newRule(t *testing.T, name, key string, methods ...string) Rule {
	t.Helper()
	k, err := cachekey.ParseRule(name, key)
	if err != nil {
		t.Fatal(err)
	}
	return Rule{Key: k, Methods: methods}
}

func newProvider(t *testing.T) cache.MemCache {
	t.Helper()
	mem, err := cache.NewMemCache(cache.DefaultMemoryConfig())
	if err != nil {
		t.Fatal(err)
	}
	return mem
}

func newRuleCache(t *testing.T, config Config) *RuleCache {
	t.Helper()
	if config.Cache == nil {
		config.Cache = newProvider(t)
	}
	if config.Logger == nil {
		logger := zerolog.Nop()
		config.Logger = &logger
	}
	rc, err := New(config)
	if err != nil {
		t.Fatal(err)
	}
	return rc
}

func countingHandler(count *int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(count, 1)
		w.Header().Set("Content-Type", "text/test")
		fmt.Fprintf(w, "Called %d times", n)
	})
}

func do(h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, body))
	return rr
}

func TestMiddlewareReturnsResponse(t *testing.T) {
	var count int32
	mw := newRuleCache(t, Config{Rules: []Rule{newRule(t, "default", "")}}).Middleware(countingHandler(&count))

	rr := do(mw, "GET", "/", nil)
	if body := rr.Body.String(); body != "Called 1 times" {
		t.Fatalf("Body is %s", body)
	}
	if cs := rr.Header().Get("Cache-Status"); cs != "RuleCache; fwd=miss; stored" {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestMiddlewareReturnsSecondRequestFromCache(t *testing.T) {
	var count int32
	mw := newRuleCache(t, Config{Rules: []Rule{newRule(t, "default", "")}}).Middleware(countingHandler(&count))

	do(mw, "GET", "/", nil)
	rr := do(mw, "GET", "/", nil)

	if count != 1 {
		t.Fatalf("Next handler called %d times", count)
	}
	if body := rr.Body.String(); body != "Called 1 times" {
		t.Fatalf("Body is %s", body)
	}
	if cs := rr.Header().Get("Cache-Status"); cs != "RuleCache; hit" {
		t.Fatalf("Cache-Status is %s", cs)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/test" {
		t.Fatalf("Content-Type header is %s", ct)
	}
}

func TestParamKey(t *testing.T) {
	var count int32
	rule := newRule(t, "lang", "method.host.path.param_lang")
	mw := newRuleCache(t, Config{Rules: []Rule{rule}}).Middleware(countingHandler(&count))

	do(mw, "GET", "/page?lang=en", nil)
	do(mw, "GET", "/page?lang=fr", nil)
	if count != 2 {
		t.Fatalf("Next handler called %d times", count)
	}
	// other query parameters are not part of the key
	rr := do(mw, "GET", "/page?x=1&lang=en", nil)
	if count != 2 || rr.Body.String() != "Called 1 times" {
		t.Fatalf("Next handler called %d times, body %s", count, rr.Body.String())
	}
}

func TestHeaderKey(t *testing.T) {
	var count int32
	rule := newRule(t, "lang", "method.path.header_Accept-Language")
	mw := newRuleCache(t, Config{Rules: []Rule{rule}}).Middleware(countingHandler(&count))

	for _, lang := range []string{"en", "fi", "en", ""} {
		req := httptest.NewRequest("GET", "/", nil)
		if lang != "" {
			req.Header.Set("Accept-Language", lang)
		}
		mw.ServeHTTP(httptest.NewRecorder(), req)
	}
	if count != 3 {
		t.Fatalf("Next handler called %d times", count)
	}
}

func TestUnmatchedRequestBypasses(t *testing.T) {
	var count int32
	rules := []Rule{
		{Key: newRule(t, "api", "").Key, Prefix: "/api"},
	}
	mw := newRuleCache(t, Config{Rules: rules}).Middleware(countingHandler(&count))

	do(mw, "POST", "/api/items", nil)
	do(mw, "GET", "/static/app.js", nil)
	rr := do(mw, "GET", "/static/app.js", nil)
	if count != 3 {
		t.Fatalf("Next handler called %d times", count)
	}
	if cs := rr.Header().Get("Cache-Status"); cs != "RuleCache; fwd=bypass" {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestBodyKey(t *testing.T) {
	var count int32
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	})
	rule := newRule(t, "search", "method.path.body", "POST")
	mw := newRuleCache(t, Config{Rules: []Rule{rule}, MaxKeySize: 1 << 20}).Middleware(echo)

	big := strings.Repeat("q", 3*bodyChunkSize+7)
	for _, body := range []string{"a", "a", "b", big, big} {
		rr := do(mw, "POST", "/search", strings.NewReader(body))
		if rr.Body.String() != body {
			t.Fatalf("Echoed body has %d bytes, want %d", rr.Body.Len(), len(body))
		}
	}
	if count != 3 {
		t.Fatalf("Next handler called %d times", count)
	}
}

func TestBodyTooLargeBypasses(t *testing.T) {
	var count int32
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	})
	rule := newRule(t, "search", "method.path.body", "POST")
	mw := newRuleCache(t, Config{Rules: []Rule{rule}, MaxBodySize: 4}).Middleware(echo)

	rr := do(mw, "POST", "/search", strings.NewReader("hello world"))
	if rr.Body.String() != "hello world" {
		t.Fatalf("Body is %s", rr.Body.String())
	}
	if cs := rr.Header().Get("Cache-Status"); cs != "RuleCache; fwd=bypass; detail=body" {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestKeyBuildFailureBypasses(t *testing.T) {
	var count int32
	rule := newRule(t, "default", "host.uri")
	mw := newRuleCache(t, Config{Rules: []Rule{rule}, MaxKeySize: 4}).Middleware(countingHandler(&count))

	do(mw, "GET", "/", nil)
	rr := do(mw, "GET", "/", nil)
	if count != 2 {
		t.Fatalf("Next handler called %d times", count)
	}
	if cs := rr.Header().Get("Cache-Status"); cs != "RuleCache; fwd=bypass; detail=key" {
		t.Fatalf("Cache-Status is %s", cs)
	}
	if rr.Body.String() != "Called 2 times" {
		t.Fatalf("Body is %s", rr.Body.String())
	}
}

func TestErrorsNotStored(t *testing.T) {
	var count int32
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	mw := newRuleCache(t, Config{Rules: []Rule{newRule(t, "default", "")}}).Middleware(failing)

	do(mw, "GET", "/", nil)
	rr := do(mw, "GET", "/", nil)
	if count != 2 || rr.Code != http.StatusInternalServerError {
		t.Fatalf("Next handler called %d times, status %d", count, rr.Code)
	}
	if cs := rr.Header().Get("Cache-Status"); cs != "RuleCache; fwd=miss" {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestExpiredEntryRefetched(t *testing.T) {
	var count int32
	rule := newRule(t, "default", "")
	rule.TTL = time.Nanosecond
	mw := newRuleCache(t, Config{Rules: []Rule{rule}}).Middleware(countingHandler(&count))

	do(mw, "GET", "/", nil)
	time.Sleep(time.Millisecond)
	do(mw, "GET", "/", nil)
	if count != 2 {
		t.Fatalf("Next handler called %d times", count)
	}
}

func TestCorruptEntryReplaced(t *testing.T) {
	var count int32
	provider := newProvider(t)
	rule := newRule(t, "default", "")
	mw := newRuleCache(t, Config{Cache: provider, Rules: []Rule{rule}}).Middleware(countingHandler(&count))

	req := httptest.NewRequest("GET", "/", nil)
	key, err := cachekey.Build(rule.Key, cachekey.FromHTTP(req, nil))
	if err != nil {
		t.Fatal(err)
	}
	provider.Put(cache.CacheEntry{Key: key, Bytes: []byte("garbage")})

	rr := do(mw, "GET", "/", nil)
	if count != 1 || rr.Body.String() != "Called 1 times" {
		t.Fatalf("Next handler called %d times, body %s", count, rr.Body.String())
	}
	rr = do(mw, "GET", "/", nil)
	if cs := rr.Header().Get("Cache-Status"); cs != "RuleCache; hit" {
		t.Fatalf("Cache-Status is %s", cs)
	}
}

func TestConcurrentMissesCallNextOnce(t *testing.T) {
	var count int32
	entered := make(chan struct{})
	release := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&count, 1) == 1 {
			close(entered)
		}
		<-release
		w.Write([]byte("slow"))
	})
	mw := newRuleCache(t, Config{Rules: []Rule{newRule(t, "default", "")}}).Middleware(slow)

	var wg sync.WaitGroup
	bodies := make([]string, 8)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i > 0 {
				<-entered
			}
			bodies[i] = do(mw, "GET", "/", nil).Body.String()
		}(i)
	}
	<-entered
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if count != 1 {
		t.Fatalf("Next handler called %d times", count)
	}
	for _, body := range bodies {
		if body != "slow" {
			t.Fatalf("Body is %s", body)
		}
	}
}

func TestWithChiRouter(t *testing.T) {
	var count int32
	rc := newRuleCache(t, Config{Rules: []Rule{newRule(t, "items", "method.path")}})
	r := chi.NewRouter()
	r.Use(rc.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.Write([]byte("item " + chi.URLParam(r, "id")))
	})

	do(r, "GET", "/items/1", nil)
	do(r, "GET", "/items/2", nil)
	rr := do(r, "GET", "/items/1", nil)
	if count != 2 || rr.Body.String() != "item 1" {
		t.Fatalf("Next handler called %d times, body %s", count, rr.Body.String())
	}
}

func TestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	var count int32
	mw := newRuleCache(t, Config{Rules: []Rule{newRule(t, "default", "")}, Meter: meter}).Middleware(countingHandler(&count))

	do(mw, "GET", "/", nil)
	do(mw, "GET", "/", nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	if n := sumOf(t, rm, "rulecache.key.builds"); n != 2 {
		t.Fatalf("Key builds is %d", n)
	}
	if n := sumOf(t, rm, "rulecache.lookups"); n != 2 {
		t.Fatalf("Lookups is %d", n)
	}
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("%s not found", name)
	return 0
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("Expected error without provider")
	}
	if _, err := New(Config{Cache: newProvider(t), Rules: []Rule{{}}}); err == nil {
		t.Fatal("Expected error for rule without key")
	}
}
