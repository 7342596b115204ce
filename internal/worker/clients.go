package worker

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Clients reaches the pages controlled by a worker
type Clients interface {
	// Claim makes the worker the controller of every open page
	Claim(ctx context.Context, version string) error
	ShowNotification(ctx context.Context, n Notification) error
	OpenWindow(ctx context.Context, url string) error
}

// Syncer flushes work queued by pages while offline
type Syncer interface {
	Sync(ctx context.Context) error
}

// logClients is used when no page channel is wired
type logClients struct{}

func (logClients) Claim(_ context.Context, version string) error {
	logrus.Debugf("Claimed clients for %s", version)
	return nil
}

func (logClients) ShowNotification(_ context.Context, n Notification) error {
	logrus.Infof("Notification %s: %s", n.ID, n.Title)
	return nil
}

func (logClients) OpenWindow(_ context.Context, url string) error {
	logrus.Infof("Open window: %s", url)
	return nil
}

// ContactFormSyncer replays offline contact form submissions.
// There is no queue of submissions yet, so it only records the trigger.
type ContactFormSyncer struct{}

func (ContactFormSyncer) Sync(_ context.Context) error {
	logrus.Info("Syncing contact form submissions")
	return nil
}
