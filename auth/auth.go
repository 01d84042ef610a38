// Package auth implements the D-Bus line-oriented authentication
// protocol: SASL EXTERNAL (the only mechanism a Unix peer-credentials
// socket needs) followed by optional UNIX_FD capability negotiation.
package auth

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Errors returned by Authenticate.
var (
	ErrAuthFailed              = errors.New("auth: EXTERNAL authentication rejected by peer")
	ErrUnixFdNegotiationFailed = errors.New("auth: UNIX_FD negotiation rejected by peer")
)

// Authenticate runs the client side of the D-Bus SASL handshake over
// rw: a leading NUL byte, "AUTH EXTERNAL <hex-uid>", and (if wantFDs)
// "NEGOTIATE_UNIX_FD", ending with "BEGIN" once the peer has agreed.
// It returns the server's GUID and whether UNIX_FD passing was
// successfully negotiated.
//
// rw is read a line at a time; callers that go on to speak the binary
// message protocol on the same connection must not have buffered past
// what Authenticate consumed, so pass an *unbuffered* view of the
// connection (package transport does this by running Authenticate
// before wrapping the conn in its own framing reader).
func Authenticate(rw io.ReadWriter, wantFDs bool) (guid string, gotFDs bool, err error) {
	uidHex := hex.EncodeToString([]byte(strconv.Itoa(currentUID())))
	if _, err := rw.Write([]byte("\x00AUTH EXTERNAL " + uidHex + "\r\n")); err != nil {
		return "", false, fmt.Errorf("auth: writing AUTH EXTERNAL: %w", err)
	}

	r := bufio.NewReader(rw)
	line, err := readLine(r)
	if err != nil {
		return "", false, fmt.Errorf("auth: reading AUTH EXTERNAL response: %w", err)
	}
	rest, ok := strings.CutPrefix(line, "OK ")
	if !ok {
		return "", false, fmt.Errorf("%w: server said %q", ErrAuthFailed, line)
	}
	guid = rest

	if wantFDs {
		if _, err := rw.Write([]byte("NEGOTIATE_UNIX_FD\r\n")); err != nil {
			return "", false, fmt.Errorf("auth: writing NEGOTIATE_UNIX_FD: %w", err)
		}
		line, err := readLine(r)
		if err != nil {
			return "", false, fmt.Errorf("auth: reading NEGOTIATE_UNIX_FD response: %w", err)
		}
		switch line {
		case "AGREE_UNIX_FD":
			gotFDs = true
		case "ERROR":
			gotFDs = false
		default:
			return "", false, fmt.Errorf("%w: server said %q", ErrUnixFdNegotiationFailed, line)
		}
	}

	if _, err := rw.Write([]byte("BEGIN\r\n")); err != nil {
		return "", false, fmt.Errorf("auth: writing BEGIN: %w", err)
	}
	if n := r.Buffered(); n > 0 {
		return "", false, fmt.Errorf("auth: %d bytes of message data were buffered past the SASL handshake; caller must use an unbuffered reader", n)
	}
	return guid, gotFDs, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
