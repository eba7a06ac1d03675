package httpds

import (
	"context"
	"io"
)

// Source streams the body of a URL.
type Source struct {
	client *Client
	url    string
}

// NewSource returns a Source reading url through client.
func NewSource(client *Client, url string) *Source {
	return &Source{client: client, url: url}
}

// Open issues the request and returns the response body. Retries only cover
// obtaining the response; a failure while the body is read surfaces to the
// reader.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// URL returns the fetched location.
func (s *Source) URL() string { return s.url }
