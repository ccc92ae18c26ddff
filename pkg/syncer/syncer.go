// Package syncer orchestrates the optimistic-update protocol: show a
// tentative message immediately, reconcile it with the server-confirmed
// identity, and apply inbound realtime pushes to the message store. There is
// no rollback and no automatic retry: a failed send stays visible in
// whatever state it last reached, flagged as sending, for the user to retry.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatsync/pkg/chat"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/progress"
	"chatsync/pkg/realtime"
	"chatsync/pkg/remote"
	"chatsync/pkg/telemetry"
)

// RemoteAPI is the request/response surface of the chat service.
type RemoteAPI interface {
	CreateMessage(ctx context.Context, m models.Message) (remote.CreateResult, error)
	DeleteMessage(ctx context.Context, id string) error
	Flush(ctx context.Context) error
	UploadBlob(ctx context.Context, id string, data []byte, onProgress func(sent, total int64)) (remote.UploadResult, error)
}

// BlobCache is the binary cache collaborator.
type BlobCache interface {
	Set(key string, data []byte) error
}

// Coordinator wires the message store to its remote collaborators. All
// collaborators are passed in explicitly; the coordinator owns none of their
// lifecycles.
type Coordinator struct {
	store   *chat.Store
	api     RemoteAPI
	blobs   BlobCache
	tracker *progress.Tracker
	onError func(error)
}

// New builds a Coordinator. onError receives server-pushed errors and
// failures applying inbound events; nil means they are only logged.
func New(store *chat.Store, api RemoteAPI, blobs BlobCache, tracker *progress.Tracker, onError func(error)) *Coordinator {
	if onError == nil {
		onError = func(err error) { logger.Warn("sync_error", "error", err) }
	}
	return &Coordinator{store: store, api: api, blobs: blobs, tracker: tracker, onError: onError}
}

func localID() string { return "local-" + uuid.NewString() }

func nowMs() int64 { return time.Now().UTC().UnixMilli() }

// resolve re-reads the current stored record by id. The record may have been
// mutated concurrently (late-known image dimensions, a realtime delete), so
// reconciliation always starts from the freshest version.
func (c *Coordinator) resolve(id string) (models.Message, bool, error) {
	view, err := c.store.Read()
	if err != nil {
		return models.Message{}, false, err
	}
	for _, m := range view {
		if m.ID == id {
			return m, true, nil
		}
	}
	return models.Message{}, false, nil
}

// SendText performs a simple send: optimistic insert, remote create,
// reconciliation. On remote failure the message stays visible with the
// sending flag set and the error is returned; nothing is rolled back.
func (c *Coordinator) SendText(ctx context.Context, author, text string) (models.Message, error) {
	base := map[string]string{}
	msg := models.Message{
		ID:        localID(),
		Author:    author,
		CreatedAt: nowMs(),
		Content:   models.TextContent{Text: text},
	}.WithSendingFlag(base)

	if err := c.store.Insert(msg, true); err != nil {
		return models.Message{}, err
	}

	res, err := c.api.CreateMessage(ctx, msg)
	if err != nil {
		telemetry.SendsTotal.WithLabelValues("error").Inc()
		logger.Warn("send_failed", "id", msg.ID, "error", err)
		return msg, err
	}
	telemetry.SendsTotal.WithLabelValues("ok").Inc()
	return c.reconcile(msg.ID, res, base)
}

// reconcile replaces the locally identified record with its server-confirmed
// version: server id, cleared CreatedAt, authoritative SentAt, pre-send
// metadata restored.
func (c *Coordinator) reconcile(id string, res remote.CreateResult, baseMeta map[string]string) (models.Message, error) {
	cur, found, err := c.resolve(id)
	if err != nil {
		return models.Message{}, err
	}
	if !found {
		// removed while in flight; nothing left to reconcile
		logger.Debug("reconcile_target_gone", "id", id)
		return models.Message{}, nil
	}
	confirmed := cur.WithServerIdentity(res.ID, res.TS, baseMeta)
	if err := c.store.Update(cur, confirmed); err != nil {
		return models.Message{}, err
	}
	logger.Info("message_reconciled", "local_id", id, "server_id", res.ID)
	return confirmed, nil
}

// SendImage performs the two-round-trip attachment send: optimistic insert
// with the local locator, blob upload with progress, locator rewrite plus
// binary cache fill, then the remote create and reconciliation. A failure at
// any step leaves the message in the state it last reached.
func (c *Coordinator) SendImage(ctx context.Context, author, localSource string, data []byte) (models.Message, error) {
	base := map[string]string{}
	msg := models.Message{
		ID:        localID(),
		Author:    author,
		CreatedAt: nowMs(),
		Content:   models.ImageContent{Source: localSource},
		Meta:      base,
	}

	if err := c.store.Insert(msg, true); err != nil {
		return models.Message{}, err
	}

	total := int64(len(data))
	up, err := c.api.UploadBlob(ctx, msg.ID, data, func(sent, total int64) {
		c.tracker.Publish(msg.ID, sent, total)
	})
	if err != nil {
		c.tracker.Complete(msg.ID, 0, total)
		telemetry.UploadsTotal.WithLabelValues("error").Inc()
		logger.Warn("upload_failed", "id", msg.ID, "error", err)
		return msg, err
	}
	c.tracker.Complete(msg.ID, total, total)
	telemetry.UploadsTotal.WithLabelValues("ok").Inc()

	cur, found, err := c.resolve(msg.ID)
	if err != nil {
		return models.Message{}, err
	}
	if !found {
		logger.Debug("upload_target_gone", "id", msg.ID)
		return models.Message{}, nil
	}

	remoteLocator := "blob:" + up.BlobID
	var withRemote models.Message
	switch content := cur.Content.(type) {
	case models.ImageContent:
		content.Source = remoteLocator
		withRemote = cur.WithContent(content)
	case models.TextContent:
		return cur, fmt.Errorf("attachment send on text message %s", cur.ID)
	default:
		return cur, fmt.Errorf("attachment send on unknown content kind for %s", cur.ID)
	}
	preUpload := cur.CloneMeta()
	delete(preUpload, models.MetaSending)
	if err := c.store.Update(cur, withRemote); err != nil {
		return cur, err
	}
	if err := c.blobs.Set(remoteLocator, data); err != nil {
		return withRemote, err
	}
	sending := withRemote.WithSendingFlag(preUpload)
	if err := c.store.Update(withRemote, sending); err != nil {
		return withRemote, err
	}

	res, err := c.api.CreateMessage(ctx, sending)
	if err != nil {
		telemetry.SendsTotal.WithLabelValues("error").Inc()
		logger.Warn("send_failed", "id", msg.ID, "error", err)
		return sending, err
	}
	telemetry.SendsTotal.WithLabelValues("ok").Inc()
	return c.reconcile(msg.ID, res, base)
}

// Delete removes the message locally first, then requests remote deletion.
// A failed remote delete does not revert the local removal; the error is
// returned for display.
func (c *Coordinator) Delete(ctx context.Context, m models.Message) error {
	if err := c.store.Remove(m, true); err != nil {
		return err
	}
	return c.api.DeleteMessage(ctx, m.ID)
}

// Flush clears the local store, then requests a remote flush, with the same
// local-first asymmetry as Delete.
func (c *Coordinator) Flush(ctx context.Context) error {
	if err := c.store.SetAll(nil, false); err != nil {
		return err
	}
	return c.api.Flush(ctx)
}

// Run applies inbound realtime events to the store until ctx is done or the
// event stream closes. Events arriving after teardown are dropped, never
// queued; a closed store likewise ends the loop instead of erroring.
func (c *Coordinator) Run(ctx context.Context, events <-chan realtime.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			if err := c.apply(ev); err != nil {
				if errors.Is(err, chat.ErrClosed) {
					return
				}
				c.onError(err)
			}
		}
	}
}

func (c *Coordinator) apply(ev realtime.Event) error {
	switch ev.Kind {
	case realtime.EventNewMessage:
		return c.store.Insert(ev.Message, true)
	case realtime.EventDeleteMessage:
		return c.store.Remove(ev.Message, true)
	case realtime.EventFlush:
		return c.store.SetAll(nil, false)
	case realtime.EventError:
		c.onError(fmt.Errorf("realtime channel error: %s", ev.Err))
		return nil
	default:
		// unrecognized kinds are ignored by contract
		return nil
	}
}
