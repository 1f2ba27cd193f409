// Package protocol implements the padded-response wire format used by cross-origin calls.
//
// The caller picks a callback name and sends it as a query parameter. The remote side
// answers with a script that invokes that name with the JSON payload:
//
//	GET /json?callback=callback3
//	  → callback3({"string": "foobar"});
//
// Callback names are derived from the request identifier, so concurrently pending calls
// never collide as long as identifiers are unique.
package protocol

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

const (
	// CallbackParam is the query parameter that carries the callback name.
	CallbackParam = "callback"
	// CallbackPrefix is prepended to the request identifier to form the callback name.
	CallbackPrefix = "callback"
	// ContentType is served with padded responses.
	ContentType = "application/javascript; charset=utf-8"
)

// A callback must be a plain JavaScript identifier; anything else could inject script.
var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// CallbackName derives the callback name for a request identifier.
func CallbackName(id uint64) string {
	return CallbackPrefix + strconv.FormatUint(id, 10)
}

// ValidCallback reports whether name is safe to echo back as a function name.
func ValidCallback(name string) bool {
	return identifier.MatchString(name)
}

// WithCallback returns address with the callback query parameter set to name.
// Existing query parameters are kept.
func WithCallback(address, name string) (string, error) {
	if !ValidCallback(name) {
		return "", fmt.Errorf("invalid callback name: %q", name)
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(CallbackParam, name)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Pad wraps payload in a call to name: name(payload);
func Pad(name string, payload []byte) []byte {
	buf := make([]byte, 0, len(name)+len(payload)+3)
	buf = append(buf, name...)
	buf = append(buf, '(')
	buf = append(buf, payload...)
	buf = append(buf, ')', ';')
	return buf
}

// Unpad extracts the payload from a padded body produced for name.
//
// Accepted shapes (surrounding whitespace and a trailing ';' are optional):
//
//	name(payload)
//	window.name(payload)
//	window["name"](payload)
func Unpad(body []byte, name string) ([]byte, error) {
	b := bytes.TrimSpace(body)
	b = bytes.TrimSuffix(b, []byte(";"))
	b = bytes.TrimSpace(b)

	prefixes := [][]byte{
		[]byte(name),
		[]byte("window." + name),
		[]byte(`window["` + name + `"]`),
		[]byte(`window['` + name + `']`),
	}

	for _, prefix := range prefixes {
		if !bytes.HasPrefix(b, prefix) {
			continue
		}
		rest := bytes.TrimSpace(b[len(prefix):])
		if len(rest) < 2 || rest[0] != '(' || rest[len(rest)-1] != ')' {
			break
		}
		return bytes.TrimSpace(rest[1 : len(rest)-1]), nil
	}

	return nil, fmt.Errorf("body is not padded with %q", name)
}
