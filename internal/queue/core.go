// Package queue implements the persistent priority queue at the center of
// the dispatch subsystem: entry normalization, priority-indexed enqueue and
// dequeue, the status state machine and aggregate statistics.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bissquit/notifyq/internal/kvstore"
)

// Storage keys, all within the tenant's scope. The per-tier index lists are
// the work queue: an id is present in exactly one of them while the entry is
// pending or marked for retry, and in none once it reaches a terminal status.
const (
	entryKeyPrefix = "queue:entry:"
	allIDsKey      = "queue:ids"
)

func entryKey(queueID string) string {
	return entryKeyPrefix + queueID
}

func indexKey(tier int) string {
	return fmt.Sprintf("queue:index:p%d", tier)
}

// PriorityResolver maps a notification's origin to a priority tier.
// Implementations must never fail: on any problem they fall back to the
// lowest urgency tier so enqueue is never blocked.
type PriorityResolver interface {
	Resolve(ctx context.Context, tenantID, originID, originClass string) int
}

// CoreConfig contains queue core configuration.
type CoreConfig struct {
	MaxTier    int // number of priority tiers, 1 is highest
	MaxRetries int // default retry budget for new entries
}

// DefaultCoreConfig returns default queue core configuration.
func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		MaxTier:    4,
		MaxRetries: 3,
	}
}

// Core owns queue entries and their priority indexes.
type Core struct {
	config   CoreConfig
	store    kvstore.Store
	resolver PriorityResolver

	now   func() time.Time
	newID func() string
}

// NewCore creates a queue core on top of the given store.
func NewCore(config CoreConfig, store kvstore.Store, resolver PriorityResolver) *Core {
	if config.MaxTier <= 0 {
		config.MaxTier = DefaultCoreConfig().MaxTier
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = DefaultCoreConfig().MaxRetries
	}
	return &Core{
		config:   config,
		store:    store,
		resolver: resolver,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// MaxTier returns the number of priority tiers.
func (c *Core) MaxTier() int {
	return c.config.MaxTier
}

// RawMessage is an arbitrary caller-supplied message body.
type RawMessage struct {
	Text   string
	Fields map[string]string
}

// Origin identifies the producer of a message.
type Origin struct {
	TenantID    string
	OriginID    string
	OriginClass string
}

// Normalize builds a queue entry from a raw message and its origin. The
// priority tier is resolved once here and never changes afterwards.
func (c *Core) Normalize(ctx context.Context, raw RawMessage, origin Origin) (*Entry, error) {
	if strings.TrimSpace(raw.Text) == "" {
		return nil, ErrEmptyPayload
	}
	if origin.TenantID == "" {
		return nil, ErrMissingTenant
	}
	if origin.OriginID == "" {
		return nil, ErrMissingOrigin
	}

	tier := c.resolver.Resolve(ctx, origin.TenantID, origin.OriginID, origin.OriginClass)
	if tier < 1 {
		tier = 1
	}
	if tier > c.config.MaxTier {
		tier = c.config.MaxTier
	}

	return &Entry{
		QueueID:     c.newID(),
		TenantID:    origin.TenantID,
		OriginID:    origin.OriginID,
		OriginClass: origin.OriginClass,
		Payload: Payload{
			Text:   raw.Text,
			Fields: raw.Fields,
		},
		Priority:   tier,
		Status:     StatusPending,
		MaxRetries: c.config.MaxRetries,
		CreatedAt:  c.now().UTC(),
	}, nil
}

// Enqueue persists the entry and appends its id to the end of its priority
// tier's index. The index append is an atomic read-modify-write in the store,
// so concurrent enqueues racing on the same tier lose neither entry.
func (c *Core) Enqueue(ctx context.Context, entry *Entry) (string, error) {
	if entry.Status != StatusPending {
		return "", &TransitionError{From: entry.Status, To: StatusPending}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode entry: %w", err)
	}

	err = c.store.SetMany(ctx, entry.TenantID, map[string]string{
		entryKey(entry.QueueID): string(data),
	})
	if err != nil {
		return "", fmt.Errorf("persist entry: %w", err)
	}

	if err := c.store.Update(ctx, entry.TenantID, indexKey(entry.Priority), appendID(entry.QueueID)); err != nil {
		return "", fmt.Errorf("index entry: %w", err)
	}

	if err := c.store.Update(ctx, entry.TenantID, allIDsKey, appendID(entry.QueueID)); err != nil {
		return "", fmt.Errorf("register entry: %w", err)
	}

	recordEnqueued(entry.Priority)

	slog.Debug("entry enqueued",
		"queue_id", entry.QueueID,
		"tenant_id", entry.TenantID,
		"origin_id", entry.OriginID,
		"priority", entry.Priority,
	)

	return entry.QueueID, nil
}

// Dequeue scans priority indexes from tier 1 downwards and returns up to
// maxCount dispatchable entries, oldest first within a tier. Selected entries
// stay in their indexes: an entry leaves the work queue only when
// UpdateStatus moves it to a terminal status.
func (c *Core) Dequeue(ctx context.Context, tenantID string, maxCount int) ([]*Entry, error) {
	if maxCount <= 0 {
		return nil, nil
	}

	batch := make([]*Entry, 0, maxCount)

	for tier := 1; tier <= c.config.MaxTier; tier++ {
		ids, err := c.readIndex(ctx, tenantID, indexKey(tier))
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			continue
		}

		entries, err := c.loadEntries(ctx, tenantID, ids)
		if err != nil {
			return nil, err
		}

		for _, id := range ids {
			entry, ok := entries[id]
			if !ok {
				slog.Warn("index references missing entry", "tenant_id", tenantID, "queue_id", id, "tier", tier)
				continue
			}
			if !entry.Status.Dispatchable() {
				continue
			}
			batch = append(batch, entry)
			if len(batch) == maxCount {
				return batch, nil
			}
		}
	}

	return batch, nil
}

// StatusMeta carries optional data attached to a status change.
type StatusMeta struct {
	SendError *SendError
}

// UpdateStatus is the only way an entry's status changes. Transitions into a
// terminal status remove the id from its priority index; a transition into
// retry leaves it there, because an entry awaiting retry is still work.
func (c *Core) UpdateStatus(ctx context.Context, tenantID, queueID string, newStatus Status, meta StatusMeta) error {
	entry, err := c.Get(ctx, tenantID, queueID)
	if err != nil {
		return err
	}

	if !canTransition(entry.Status, newStatus) {
		return &TransitionError{From: entry.Status, To: newStatus}
	}

	switch newStatus {
	case StatusSent:
		sentAt := c.now().UTC()
		entry.SentAt = &sentAt
	case StatusRetry:
		if entry.RetryCount >= entry.MaxRetries {
			return ErrRetriesExhausted
		}
		entry.RetryCount++
		entry.LastError = meta.SendError
	case StatusFailed:
		entry.LastError = meta.SendError
	}
	entry.Status = newStatus

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	err = c.store.SetMany(ctx, tenantID, map[string]string{
		entryKey(queueID): string(data),
	})
	if err != nil {
		return fmt.Errorf("persist status: %w", err)
	}

	if newStatus.Terminal() {
		if err := c.store.Update(ctx, tenantID, indexKey(entry.Priority), removeID(queueID)); err != nil {
			return fmt.Errorf("deindex entry: %w", err)
		}
	}

	return nil
}

// Get loads a single entry by id.
func (c *Core) Get(ctx context.Context, tenantID, queueID string) (*Entry, error) {
	blob, err := c.store.Get(ctx, tenantID, entryKey(queueID))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("load entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(blob), &entry); err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", queueID, err)
	}
	return &entry, nil
}

func (c *Core) readIndex(ctx context.Context, tenantID, key string) ([]string, error) {
	blob, err := c.store.Get(ctx, tenantID, key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index %s: %w", key, err)
	}

	var ids []string
	if err := json.Unmarshal([]byte(blob), &ids); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", key, err)
	}
	return ids, nil
}

func (c *Core) loadEntries(ctx context.Context, tenantID string, ids []string) (map[string]*Entry, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = entryKey(id)
	}

	blobs, err := c.store.GetMany(ctx, tenantID, keys)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	entries := make(map[string]*Entry, len(blobs))
	for _, id := range ids {
		blob, ok := blobs[entryKey(id)]
		if !ok {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(blob), &entry); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", id, err)
		}
		entries[id] = &entry
	}
	return entries, nil
}

// appendID returns an update function that appends an id to a JSON-encoded
// id list.
func appendID(queueID string) kvstore.UpdateFunc {
	return func(current string, found bool) (string, error) {
		var ids []string
		if found {
			if err := json.Unmarshal([]byte(current), &ids); err != nil {
				return "", fmt.Errorf("decode id list: %w", err)
			}
		}
		ids = append(ids, queueID)
		data, err := json.Marshal(ids)
		if err != nil {
			return "", fmt.Errorf("encode id list: %w", err)
		}
		return string(data), nil
	}
}

// removeID returns an update function that removes an id from a JSON-encoded
// id list. Removing an absent id is a no-op.
func removeID(queueID string) kvstore.UpdateFunc {
	return func(current string, found bool) (string, error) {
		var ids []string
		if found {
			if err := json.Unmarshal([]byte(current), &ids); err != nil {
				return "", fmt.Errorf("decode id list: %w", err)
			}
		}
		kept := ids[:0]
		for _, id := range ids {
			if id != queueID {
				kept = append(kept, id)
			}
		}
		data, err := json.Marshal(kept)
		if err != nil {
			return "", fmt.Errorf("encode id list: %w", err)
		}
		return string(data), nil
	}
}
