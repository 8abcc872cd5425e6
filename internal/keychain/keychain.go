// Package keychain resolves signing keys and upload credentials from the
// OS secret store.
//
// The store is queried by item name and answers with an unstructured
// text blob; the value of this package is in the strict parsers that
// pull a PEM private key or an account/password pair out of that blob
// without ever guessing.
package keychain

import (
	"context"
	"os/exec"
	"strings"
)

// Store looks up a named secret store entry and returns the raw textual
// response.
type Store interface {
	Lookup(ctx context.Context, item string) (string, error)
}

// ExecStore queries the macOS keychain via security(1). The tool prints
// the password/secure-note payload on stderr and item metadata on
// stdout, so both streams are combined before parsing.
type ExecStore struct {
	// Command overrides the security binary path. Empty means
	// "security" from PATH.
	Command string
}

// Lookup runs `security find-generic-password -g -s <item>` and returns
// the combined output. A non-zero exit is reported as *NotFoundError;
// security(1) does not distinguish missing items from other lookup
// failures in its exit status.
func (s ExecStore) Lookup(ctx context.Context, item string) (string, error) {
	command := s.Command
	if command == "" {
		command = "security"
	}
	out, err := exec.CommandContext(ctx, command, "find-generic-password", "-g", "-s", item).CombinedOutput()
	if err != nil {
		return "", &NotFoundError{Item: item, Err: err}
	}
	return string(out), nil
}

// PEM boundary markers for the signing key secure note.
const (
	pemBegin = "-----BEGIN "
	pemEnd   = "-----END "
)

// Secure notes come back as archived RTF, which encodes newlines as
// octal escapes.
const rtfNewline = `\134\012`

// ParseSigningKey extracts the single PEM private key block from a
// secure-note blob and normalizes its line endings. Fails with
// *ParseError unless exactly one BEGIN and one END marker are present.
func ParseSigningKey(blob string) ([]byte, error) {
	if n := strings.Count(blob, pemBegin); n != 1 {
		return nil, &ParseError{Marker: pemBegin, Count: n}
	}
	if n := strings.Count(blob, pemEnd); n != 1 {
		return nil, &ParseError{Marker: pemEnd, Count: n}
	}

	start := strings.Index(blob, pemBegin)
	labelEnd := strings.Index(blob[start+len(pemBegin):], "-----")
	if labelEnd < 0 {
		return nil, &ParseError{Marker: pemBegin, Count: 0}
	}
	label := blob[start+len(pemBegin) : start+len(pemBegin)+labelEnd]

	// Reconstruct the matching END marker and cut through it, dropping
	// whatever RTF framing trails the note.
	stopMarker := pemEnd + label + "-----"
	stop := strings.Index(blob, stopMarker)
	if stop < start {
		return nil, &ParseError{Marker: stopMarker, Count: 0}
	}
	key := blob[start:stop] + stopMarker
	key = strings.ReplaceAll(key, rtfNewline, "\n")
	if !strings.HasSuffix(key, "\n") {
		key += "\n"
	}
	return []byte(key), nil
}

// Field prefixes in security(1) item output.
const (
	acctPrefix     = `"acct"<blob>=`
	passwordPrefix = "password: "
)

// ParseAccountPassword extracts the username and password from a
// keychain item dump. Each field prefix must appear exactly once.
func ParseAccountPassword(blob string) (username, password string, err error) {
	acctCount, passCount := 0, 0
	for _, line := range strings.Split(blob, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, acctPrefix):
			acctCount++
			username = strings.Trim(line[len(acctPrefix):], `"`)
		case strings.HasPrefix(line, passwordPrefix):
			passCount++
			password = strings.Trim(line[len(passwordPrefix):], `"`)
		}
	}
	if acctCount != 1 || username == "" {
		return "", "", &ParseError{Marker: acctPrefix, Count: acctCount}
	}
	if passCount != 1 || password == "" {
		return "", "", &ParseError{Marker: passwordPrefix, Count: passCount}
	}
	return username, password, nil
}
