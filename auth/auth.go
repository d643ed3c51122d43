// Package auth performs the gateway's challenge-response authentication.
//
// The exchange is line oriented:
//
//	gateway: <greeting>
//	gateway: cram=<challenge>
//	client:  auth=<response>|dataset=<d>|encoding=dbn|ts_out=<0|1>|client=<id>[|heartbeat_interval_s=N]
//	gateway: success=1|session_id=<id>   or   success=0|error=<reason>
//
// The response is the hex SHA-256 digest of "<challenge>|<key>" followed by
// a dash and the key's bucket id, so the key itself never crosses the wire.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/justapithecus/livefeed/log"
	"github.com/justapithecus/livefeed/lserr"
)

// Transport reads and writes control lines. Lines exclude the newline.
type Transport interface {
	ReadLine(ctx context.Context) (string, error)
	WriteLine(ctx context.Context, line string) error
}

// Request describes the authentication request.
type Request struct {
	Key     APIKey
	Dataset string
	// TsOut requests a gateway send timestamp on every record.
	TsOut bool
	// HeartbeatInterval is requested from the gateway when positive.
	// It is sent in whole seconds.
	HeartbeatInterval time.Duration
	// Client identifies the client library.
	Client string
}

// Result is the outcome of a successful handshake.
type Result struct {
	// Greeting is the gateway's first line, typically its version.
	Greeting string
	// SessionID is the gateway-assigned session identifier.
	SessionID string
	// Fields holds every key of the gateway's reply.
	Fields map[string]string
}

// Handshake authenticates over t. logger may be nil.
func Handshake(ctx context.Context, t Transport, req Request, logger *log.Logger) (*Result, error) {
	if req.Key.IsZero() {
		return nil, lserr.BadArgument("key", "is required")
	}
	if req.Dataset == "" {
		return nil, lserr.BadArgument("dataset", "is required")
	}

	greeting, err := t.ReadLine(ctx)
	if err != nil {
		return nil, lserr.Classify(lserr.ErrTransport, "read_greeting", err)
	}
	logger.Debug("gateway greeting", map[string]any{"greeting": greeting})

	cramLine, err := t.ReadLine(ctx)
	if err != nil {
		return nil, lserr.Classify(lserr.ErrTransport, "read_challenge", err)
	}
	challenge, ok := strings.CutPrefix(cramLine, "cram=")
	if !ok {
		return nil, lserr.Protocol("read_challenge", fmt.Sprintf("expected cram challenge, got %q", cramLine), nil)
	}

	if err := t.WriteLine(ctx, EncodeRequest(challenge, req)); err != nil {
		return nil, lserr.Classify(lserr.ErrTransport, "write_auth", err)
	}

	reply, err := t.ReadLine(ctx)
	if err != nil {
		return nil, lserr.Classify(lserr.ErrTransport, "read_auth_reply", err)
	}
	fields := ParseFields(reply)
	if fields["success"] != "1" {
		reason, ok := fields["error"]
		if !ok || reason == "" {
			reason = reply
		}
		logger.Warn("authentication rejected", map[string]any{"dataset": req.Dataset, "reason": reason})
		return nil, lserr.Auth(reason)
	}

	res := &Result{Greeting: greeting, SessionID: fields["session_id"], Fields: fields}
	logger.Info("authenticated", map[string]any{"dataset": req.Dataset, "session_id": res.SessionID})
	return res, nil
}

// Response computes the challenge response for key.
func Response(challenge string, key APIKey) string {
	sum := sha256.Sum256([]byte(challenge + "|" + key.key))
	return hex.EncodeToString(sum[:]) + "-" + key.BucketID()
}

// EncodeRequest renders the auth request line without its newline.
func EncodeRequest(challenge string, req Request) string {
	var b strings.Builder
	b.WriteString("auth=")
	b.WriteString(Response(challenge, req.Key))
	b.WriteString("|dataset=")
	b.WriteString(req.Dataset)
	b.WriteString("|encoding=dbn|ts_out=")
	if req.TsOut {
		b.WriteString("1")
	} else {
		b.WriteString("0")
	}
	b.WriteString("|client=")
	b.WriteString(req.Client)
	if secs := int64(req.HeartbeatInterval / time.Second); secs > 0 {
		b.WriteString("|heartbeat_interval_s=")
		b.WriteString(strconv.FormatInt(secs, 10))
	}
	return b.String()
}

// ParseFields splits a key=value|key=value line. Pieces without '=' are ignored.
func ParseFields(line string) map[string]string {
	fields := make(map[string]string)
	for _, part := range strings.Split(line, "|") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return fields
}
