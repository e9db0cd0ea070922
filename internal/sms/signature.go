package sms

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries the Twilio request signature.
const SignatureHeader = "X-Twilio-Signature"

// ComputeSignature returns the Twilio signature of a form POST to fullURL:
// base64(HMAC-SHA1(authToken, fullURL + sorted key/value pairs)).
func ComputeSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidSignature reports whether signature matches any of the candidate URLs.
func ValidSignature(authToken, signature string, params url.Values, candidates ...string) bool {
	if signature == "" {
		return false
	}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		expected := ComputeSignature(authToken, candidate, params)
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return true
		}
	}
	return false
}

// RequestURLs returns the URLs Twilio may have signed for r: the public URL
// seen by a forwarding proxy, then the URL as received.
func RequestURLs(r *http.Request) []string {
	var urls []string
	proto := r.Header.Get("X-Forwarded-Proto")
	host := r.Header.Get("X-Forwarded-Host")
	if proto != "" && host != "" {
		urls = append(urls, proto+"://"+host+r.URL.RequestURI())
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	urls = append(urls, scheme+"://"+r.Host+r.URL.RequestURI())
	return urls
}
