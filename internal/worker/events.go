package worker

import (
	"context"
	"net/http"

	"github.com/faiz501/bharat-industry/internal/partition"
)

// EventKind keys the dispatch table
type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventMessage           EventKind = "message"
	EventSync              EventKind = "sync"
	EventPeriodicSync      EventKind = "periodicsync"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
)

// Sync and periodic sync tags
const (
	TagContactForm  = "contact-form"
	TagCacheCleanup = "cache-cleanup"
)

// Message types accepted from controlled pages
const (
	MessageSkipWaiting  = "SKIP_WAITING"
	MessageGetCacheSize = "GET_CACHE_SIZE"
)

// Message is a message posted by a controlled page
type Message struct {
	Type string `json:"type"`
}

// CacheSizeReply answers GET_CACHE_SIZE
type CacheSizeReply struct {
	CacheSize partition.Size `json:"cacheSize"`
}

// Event is one delivery from the host. Only the fields of its kind are set.
type Event struct {
	Kind EventKind
	// fetch
	Request *http.Request
	// message
	Message Message
	// sync and periodicsync
	Tag string
	// push; raw JSON payload, may be empty
	Data []byte
	// notificationclick
	NotificationID string
}

// Result is what a handler hands back to the host
type Result struct {
	// Response answers a fetch. Nil means the request passes through.
	Response *http.Response
	// Reply is sent back on the message's reply channel, when non-nil
	Reply any
}

// Handler handles one kind of event
type Handler func(ctx context.Context, ev Event) (Result, error)
