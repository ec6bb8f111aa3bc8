package core

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// PasteError is an error line written back by the paste socket.
type PasteError struct {
	Reply string
}

func (e *PasteError) Error() string {
	return strings.TrimPrefix(e.Reply, "Error: ")
}

const maxReply = 4096

// Paste sends r over the raw socket at addr and returns the server's reply,
// "<url> (expires in N days)". The write side is closed once r is drained,
// which tells the server the paste is complete.
func Paste(ctx context.Context, addr string, r io.Reader) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// The server may reply and stop reading before r is drained, e.g. when
	// the paste is too large, so a failed send still checks for a reply.
	if _, err := io.Copy(conn, r); err != nil {
		if perr := readRejection(conn); perr != nil {
			return "", perr
		}
		return "", fmt.Errorf("failed to send paste: %w", ctxErr(ctx, err))
	}

	// Without a half-close the server falls back to its inactivity timeout.
	if hc, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := hc.CloseWrite(); err != nil {
			return "", fmt.Errorf("failed to finish paste: %w", err)
		}
	}

	// A reset right after the reply still leaves the reply in raw.
	raw, err := io.ReadAll(io.LimitReader(conn, maxReply))
	if err != nil && len(raw) == 0 {
		return "", fmt.Errorf("failed to read reply: %w", ctxErr(ctx, err))
	}

	reply := strings.TrimSpace(string(raw))
	switch {
	case reply == "":
		return "", &PasteError{Reply: "empty reply from server"}
	case isErrorReply(reply):
		return "", &PasteError{Reply: reply}
	}
	return reply, nil
}

func isErrorReply(reply string) bool {
	return strings.HasPrefix(reply, "Error:") || strings.HasPrefix(reply, "Server error")
}

// readRejection returns the server's error line if one is waiting on conn.
func readRejection(conn net.Conn) *PasteError {
	conn.SetReadDeadline(time.Now().Add(time.Second))
	raw, _ := io.ReadAll(io.LimitReader(conn, maxReply))
	if reply := strings.TrimSpace(string(raw)); isErrorReply(reply) {
		return &PasteError{Reply: reply}
	}
	return nil
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
