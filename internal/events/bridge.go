// Package events bridges a NATS bus to the worker host so push messages,
// sync triggers and page messages can arrive from other processes.
//
// Subjects, under a configurable prefix:
//
//	<prefix>.push          raw push payload
//	<prefix>.sync          sync tag as plain text
//	<prefix>.periodicsync  periodic sync tag as plain text
//	<prefix>.message       JSON page message; the reply subject gets the reply
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/faiz501/bharat-industry/internal/config"
	"github.com/faiz501/bharat-industry/internal/worker"
)

// ErrUnknownSubject is returned for a subject outside the bridge
var ErrUnknownSubject = errors.New("unknown subject")

const handleTimeout = 30 * time.Second

// Host receives the events read from the bus
type Host interface {
	Message(ctx context.Context, msg worker.Message) (worker.Result, error)
	Dispatch(ctx context.Context, ev worker.Event) (worker.Result, error)
}

// Bridge subscribes to the worker subjects and forwards them to a Host
type Bridge struct {
	prefix string
	host   Host
	nc     *nats.Conn
	subs   []*nats.Subscription
}

// NewBridge creates a bridge that is not connected yet
func NewBridge(prefix string, host Host) *Bridge {
	if prefix == "" {
		prefix = "sw"
	}
	return &Bridge{prefix: prefix, host: host}
}

// Connect dials cfg.NATSURL and subscribes to every subject
func Connect(cfg config.EventsConfig, host Host) (*Bridge, error) {
	b := NewBridge(cfg.SubjectPrefix, host)

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("bharat-offline-worker"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logrus.Warnf("Disconnected from NATS: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logrus.Infof("Reconnected to NATS at %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	b.nc = nc

	for _, subject := range b.Subjects() {
		sub, err := nc.Subscribe(subject, b.onMessage)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		b.subs = append(b.subs, sub)
	}

	logrus.Infof("Listening for worker events on %s.*", b.prefix)
	return b, nil
}

// Subjects lists the subjects the bridge listens on
func (b *Bridge) Subjects() []string {
	return []string{
		b.prefix + ".push",
		b.prefix + ".sync",
		b.prefix + ".periodicsync",
		b.prefix + ".message",
	}
}

// Close drains the subscriptions and closes the connection
func (b *Bridge) Close() error {
	if b.nc == nil {
		return nil
	}
	err := b.nc.Drain()
	b.nc = nil
	return err
}

func (b *Bridge) onMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	reply, err := b.Handle(ctx, msg.Subject, msg.Data)
	if err != nil {
		logrus.Errorf("Failed to handle %s: %v", msg.Subject, err)
		reply, _ = json.Marshal(map[string]string{"error": err.Error()})
	}

	if msg.Reply == "" || reply == nil {
		return
	}
	if err := msg.Respond(reply); err != nil {
		logrus.Warnf("Failed to reply on %s: %v", msg.Reply, err)
	}
}

// Handle delivers one bus message to the host and returns the encoded
// reply, or nil when the worker has nothing to say
func (b *Bridge) Handle(ctx context.Context, subject string, data []byte) ([]byte, error) {
	kind, ok := strings.CutPrefix(subject, b.prefix+".")
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}

	var (
		res worker.Result
		err error
	)
	switch kind {
	case "push":
		res, err = b.host.Dispatch(ctx, worker.Event{Kind: worker.EventPush, Data: data})
	case "sync":
		res, err = b.host.Dispatch(ctx, worker.Event{Kind: worker.EventSync, Tag: strings.TrimSpace(string(data))})
	case "periodicsync":
		res, err = b.host.Dispatch(ctx, worker.Event{Kind: worker.EventPeriodicSync, Tag: strings.TrimSpace(string(data))})
	case "message":
		var msg worker.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid message: %w", err)
		}
		res, err = b.host.Message(ctx, msg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	if err != nil {
		return nil, err
	}

	if res.Reply == nil {
		return nil, nil
	}
	reply, err := json.Marshal(res.Reply)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reply: %w", err)
	}
	return reply, nil
}
