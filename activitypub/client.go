package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	contentTypeActivity = "application/activity+json"
	acceptActivity      = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	userAgent           = "kbin/1.0 ActivityPub"
)

// Fetch error taxonomy. Callers branch on these, never on strings.
var (
	ErrUnreachable        = errors.New("remote unreachable")
	ErrRemoteGone         = errors.New("remote object gone")
	ErrInvalidContentType = errors.New("unexpected content type")
	ErrParse              = errors.New("malformed remote document")
)

// Fetcher retrieves ActivityPub documents. The resolver depends on this
// interface so tests can count and fake fetches.
type Fetcher interface {
	Fetch(ctx context.Context, iri string) ([]byte, error)
}

// PageFetcher retrieves plain web pages, used by the embed sub-flow.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
}

// Poster delivers signed activities to remote inboxes.
type Poster interface {
	Post(ctx context.Context, inboxURI string, activity []byte, key *rsa.PrivateKey, keyId string) error
}

// Client performs all outbound federation HTTP. GETs go through resty with
// a single retry and backoff; signed POSTs are built by hand so the
// signature covers the exact bytes on the wire. No method has side effects
// beyond the network call itself.
type Client struct {
	rest *resty.Client
	http *http.Client
	log  zerolog.Logger
}

func NewClient(log zerolog.Logger) *Client {
	rest := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(2 * time.Second).
		SetHeader("User-Agent", userAgent)

	return &Client{
		rest: rest,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}
}

// Fetch performs an unsigned GET with federation content negotiation.
func (c *Client) Fetch(ctx context.Context, iri string) ([]byte, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Accept", acceptActivity).
		Get(iri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return c.checkResponse(iri, resp.StatusCode(), resp.Header().Get("Content-Type"), resp.Body())
}

// FetchSigned performs a signed GET for servers in authorized-fetch mode.
func (c *Client) FetchSigned(ctx context.Context, iri string, key *rsa.PrivateKey, keyId string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", acceptActivity)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	if err := SignRequest(req, key, keyId, nil); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return c.checkResponse(iri, resp.StatusCode, resp.Header.Get("Content-Type"), body)
}

// FetchPage performs a plain GET for HTML, used for embed metadata.
func (c *Client) FetchPage(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Accept", "text/html, */*;q=0.5").
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("%w: status %d for %s", ErrUnreachable, resp.StatusCode(), url)
	}
	return resp.Body(), nil
}

// Post delivers a signed activity to a remote inbox.
func (c *Client) Post(ctx context.Context, inboxURI string, activity []byte, key *rsa.PrivateKey, keyId string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inboxURI, bytes.NewReader(activity))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeActivity)
	req.Header.Set("Accept", contentTypeActivity)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	if err := SignRequest(req, key, keyId, activity); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: remote inbox returned status %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

func (c *Client) checkResponse(iri string, status int, contentType string, body []byte) ([]byte, error) {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrRemoteGone, iri)
	case status < 200 || status >= 300:
		return nil, fmt.Errorf("%w: status %d for %s", ErrUnreachable, status, iri)
	}

	if contentType != "" && !strings.Contains(contentType, "json") {
		return nil, fmt.Errorf("%w: %s returned %s", ErrInvalidContentType, iri, contentType)
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s", ErrParse, iri)
	}
	return body, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
