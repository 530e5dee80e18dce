package main

import (
	"crypto/tls"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// newProxy returns a reverse proxy to origin. If hostHeader is set, it is
// sent as the Host header and used as the TLS server name.
func newProxy(origin *url.URL, hostHeader string) *httputil.ReverseProxy {
	transport := http.DefaultTransport
	if hostHeader != "" {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: hostHeader,
			},
		}
	}
	return &httputil.ReverseProxy{
		Director:  createDirector(origin.Scheme, origin.Host, hostHeader),
		Transport: transport,
	}
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}
