package ota

import (
	"encoding/hex"
	"net/url"
	"strings"
)

const checksumLength = 64

// Command is the payload received on the update topic.
type Command struct {
	// Controller is the image locator. URL is accepted as an alias.
	Controller string `json:"controller"`
	URL        string `json:"url,omitempty"`
	Checksum   string `json:"checksum"`
}

// Request returns the update request carried by the command.
func (c *Command) Request() Request {
	source := c.Controller
	if source == "" {
		source = c.URL
	}
	return Request{SourceURL: strings.TrimSpace(source), ExpectedChecksum: strings.TrimSpace(c.Checksum)}
}

// Request names an image and its expected SHA-256 digest. It is immutable
// once accepted.
type Request struct {
	SourceURL        string
	ExpectedChecksum string
}

var supportedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"s3":    true,
}

// Validate rejects requests that must not cause any bank I/O.
func (r Request) Validate() error {
	if r.SourceURL == "" {
		return invalidf("missing image locator")
	}
	u, err := url.Parse(r.SourceURL)
	if err != nil {
		return invalidf("malformed image locator: %v", err)
	}
	if !supportedSchemes[u.Scheme] {
		return invalidf("unsupported image locator scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return invalidf("image locator %q has no host", r.SourceURL)
	}
	if u.Scheme == "s3" && strings.Trim(u.Path, "/") == "" {
		return invalidf("image locator %q has no object key", r.SourceURL)
	}

	if len(r.ExpectedChecksum) != checksumLength {
		return invalidf("checksum must be %d hex characters, got %d", checksumLength, len(r.ExpectedChecksum))
	}
	if _, err := hex.DecodeString(r.ExpectedChecksum); err != nil {
		return invalidf("checksum is not hex: %v", err)
	}
	return nil
}
