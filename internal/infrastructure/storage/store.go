// Package storage is the durable store of messages, notifications and
// identities, backed by BadgerDB.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"realtime-ws/internal/domain"
	"realtime-ws/internal/observability"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Open opens the database at path. An empty path opens an in-memory database.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return db, nil
}

type Store struct {
	db  *badger.DB
	log zerolog.Logger

	clockMu sync.Mutex
	last    time.Time
}

func NewStore(db *badger.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: observability.Component(log, "store")}
}

// stamp returns a strictly increasing UTC timestamp, so records written by
// this process sort in write order even within one clock tick.
func (s *Store) stamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	now := time.Now().UTC()
	if !now.After(s.last) {
		now = s.last.Add(time.Nanosecond)
	}
	s.last = now
	return now
}

// Keys are "{kind}:{owner}:{19-digit unix nano}:{uuid}" so a prefix scan over
// an owner returns records in creation order.
func messagePrefix(conversationKey string) string { return fmt.Sprintf("msg:%s:", conversationKey) }
func notificationPrefix(recipientID string) string { return fmt.Sprintf("notif:%s:", recipientID) }
func identityKey(id string) []byte                 { return []byte("identity:" + id) }

func recordKey(prefix string, at time.Time, id fmt.Stringer) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", prefix, at.UnixNano(), id))
}

func (s *Store) put(key []byte, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// latest returns up to limit values under prefix, oldest first.
func (s *Store) latest(prefix string, limit int) ([][]byte, error) {
	var values [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix + "~")); it.ValidForPrefix([]byte(prefix)); it.Next() {
			if limit > 0 && len(values) == limit {
				break
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, value)
		}
		return nil
	})
	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}
	return values, err
}

// SaveMessage assigns the id and creation time and writes the message.
func (s *Store) SaveMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = s.stamp()
	if err := s.put(recordKey(messagePrefix(msg.ConversationKey), msg.CreatedAt, msg.ID), msg); err != nil {
		return domain.Message{}, fmt.Errorf("save message: %w", err)
	}
	return msg, nil
}

// ListConversation returns the latest limit messages of a conversation, oldest first.
func (s *Store) ListConversation(ctx context.Context, conversationKey string, limit int) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := s.latest(messagePrefix(conversationKey), limit)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	messages := make([]domain.Message, 0, len(values))
	for _, v := range values {
		var msg domain.Message
		if err := json.Unmarshal(v, &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// MarkConversationRead flips every unread message of conversationKey addressed
// to viewerID in a single transaction and returns how many changed.
func (s *Store) MarkConversationRead(ctx context.Context, conversationKey, viewerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	updated := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		updated = 0
		return forEachPrefix(txn, messagePrefix(conversationKey), func(key, value []byte) error {
			var msg domain.Message
			if err := json.Unmarshal(value, &msg); err != nil {
				return err
			}
			if msg.ReceiverID != viewerID || msg.IsRead {
				return nil
			}
			msg.IsRead = true
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			updated++
			return txn.Set(key, data)
		})
	})
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	s.log.Debug().Str("conversation_key", conversationKey).Str("viewer_id", viewerID).Int("updated", updated).Msg("conversation marked read")
	return updated, nil
}

func (s *Store) SaveNotification(ctx context.Context, n domain.NotificationRecord) (domain.NotificationRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.NotificationRecord{}, err
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.CreatedAt = s.stamp()
	if err := s.put(recordKey(notificationPrefix(n.RecipientID), n.CreatedAt, n.ID), n); err != nil {
		return domain.NotificationRecord{}, fmt.Errorf("save notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns the latest limit notifications of recipientID, oldest first.
func (s *Store) ListNotifications(ctx context.Context, recipientID string, limit int) ([]domain.NotificationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := s.latest(notificationPrefix(recipientID), limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	records := make([]domain.NotificationRecord, 0, len(values))
	for _, v := range values {
		var n domain.NotificationRecord
		if err := json.Unmarshal(v, &n); err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
		records = append(records, n)
	}
	return records, nil
}

// MarkNotificationsRead flips every unread notification of recipientID.
func (s *Store) MarkNotificationsRead(ctx context.Context, recipientID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	updated := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		updated = 0
		return forEachPrefix(txn, notificationPrefix(recipientID), func(key, value []byte) error {
			var n domain.NotificationRecord
			if err := json.Unmarshal(value, &n); err != nil {
				return err
			}
			if n.IsRead {
				return nil
			}
			n.IsRead = true
			data, err := json.Marshal(n)
			if err != nil {
				return err
			}
			updated++
			return txn.Set(key, data)
		})
	})
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return updated, nil
}

func (s *Store) GetIdentity(ctx context.Context, id string) (domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, err
	}
	var identity domain.Identity
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(identityKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &identity)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Identity{}, fmt.Errorf("%w: identity %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("get identity: %w", err)
	}
	return identity, nil
}

func (s *Store) PutIdentity(ctx context.Context, identity domain.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if identity.ID == "" {
		return fmt.Errorf("%w: identity id required", domain.ErrValidation)
	}
	if err := s.put(identityKey(identity.ID), identity); err != nil {
		return fmt.Errorf("put identity: %w", err)
	}
	return nil
}

func forEachPrefix(txn *badger.Txn, prefix string, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), value); err != nil {
			return err
		}
	}
	return nil
}
