// Package pairing validates and parses session pairing URIs of the form
// wc:<topic>@<version>?relay-protocol=irn&symKey=<key>.
package pairing

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const Scheme = "wc:"

var ErrInvalidURI = errors.New("invalid pairing uri")

type URI struct {
	Raw           string
	Topic         string
	Version       int
	RelayProtocol string
	// SymKeySet reports whether a symmetric key was present. The key itself is never kept.
	SymKeySet bool
	Params    url.Values
}

// Validate reports whether raw can be handed to the transport.
func Validate(raw string) error {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, Scheme) {
		return errors.Wrap(ErrInvalidURI, "uri must start with wc:")
	}
	if len(raw) == len(Scheme) {
		return errors.Wrap(ErrInvalidURI, "empty pairing token")
	}
	return nil
}

// Parse validates raw and extracts the parts worth logging.
// Anything past the prefix that does not parse is still accepted by Validate
// so the transport stays the authority on token format.
func Parse(raw string) (URI, error) {
	raw = strings.TrimSpace(raw)
	if err := Validate(raw); err != nil {
		return URI{}, err
	}

	body := raw[len(Scheme):]
	head, query, _ := strings.Cut(body, "?")
	topic, version, _ := strings.Cut(head, "@")

	u := URI{Raw: raw, Topic: topic}
	if version != "" {
		v, err := strconv.Atoi(version)
		if err != nil {
			return URI{}, errors.Wrapf(ErrInvalidURI, "bad version %q", version)
		}
		u.Version = v
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		return URI{}, errors.Wrap(ErrInvalidURI, "bad query")
	}
	u.RelayProtocol = params.Get("relay-protocol")
	u.SymKeySet = params.Get("symKey") != ""
	params.Del("symKey")
	u.Params = params
	return u, nil
}

// Redacted returns the URI without its symmetric key, for logs.
func (u URI) Redacted() string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString(u.Topic)
	if u.Version != 0 {
		b.WriteString("@")
		b.WriteString(strconv.Itoa(u.Version))
	}
	if enc := u.Params.Encode(); enc != "" {
		b.WriteString("?")
		b.WriteString(enc)
	}
	return b.String()
}
