package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/FutureExcited/grok-desktop/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the persistence collaborator using a BoltDB backend. Conversations and
// their messages live in dedicated buckets; whole-store state trees (feature toggles, history)
// live in a single bucket keyed by store name.
type BoltDB struct {
	db *bolt.DB
}

const (
	conversationsBucket = "conversations"
	stateBucket         = "state"
)

// conversationRecord is the bolt payload for conversation metadata. Messages are stored
// separately so streaming updates rewrite one message, not the whole thread.
type conversationRecord struct {
	ID         string
	DraftInput string
}

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the
// database with required buckets and returns an error if the database cannot be opened or
// initialized. The database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(conversationsBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(stateBucket))
		return err
	})

	return BoltDB{db: db}, err
}

// Close releases the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(conversationID string) []byte {
	return []byte(fmt.Sprintf("messages-%s", conversationID))
}

// Conversations retrieves all stored conversation records, without their messages. It returns
// a slice of Conversation models or an error if the database operation fails.
func (b BoltDB) Conversations(context.Context) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(conversationsBucket))
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var rec conversationRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
			conversations = append(conversations, models.Conversation{
				ID:         rec.ID,
				DraftInput: rec.DraftInput,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

// SaveConversation upserts a conversation's metadata and ensures its message bucket exists.
// Message contents are persisted through AddMessage and UpdateMessage, not here.
func (b BoltDB) SaveConversation(_ context.Context, conv models.Conversation) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(conversationsBucket))
		if bkt == nil {
			return nil
		}

		if _, err := tx.CreateBucketIfNotExists(messageBucketName(conv.ID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(conversationRecord{
			ID:         conv.ID,
			DraftInput: conv.DraftInput,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}

		return bkt.Put([]byte(conv.ID), v)
	})
}

// Messages retrieves all messages associated with the specified conversation ID, in their
// stored order. Any message left with a set streaming flag is normalized to a finished one,
// since no stream can resume across a restart.
func (b BoltDB) Messages(_ context.Context, conversationID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(conversationID))
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			message.IsStreaming = false
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage stores a new message in the specified conversation's message bucket. It generates
// a unique ID for the message by prefixing a zero-padded sequence number, so byte order of the
// keys matches chronological order, and returns the new ID or an error if the operation fails.
func (b BoltDB) AddMessage(_ context.Context, conversationID string, message models.Message) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(conversationID))
		if bkt == nil {
			return nil
		}

		idPrefix, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%010d-%s", idPrefix, message.ID)
		message.ID = newID

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bkt.Put([]byte(newID), v)
	})

	return newID, err
}

// UpdateMessage modifies an existing message in the specified conversation's message bucket. If
// the message doesn't exist, the operation is silently ignored. Returns an error if the
// marshaling or database operation fails.
func (b BoltDB) UpdateMessage(_ context.Context, conversationID string, message models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(conversationID))
		if bkt == nil {
			return nil
		}

		if bkt.Get([]byte(message.ID)) == nil {
			return nil
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bkt.Put([]byte(message.ID), v)
	})
}

// SaveState serializes a whole state tree under the given store name. This is the key-value
// contract the client-side stores persist through: key = store name, value = serialized state.
func (b BoltDB) SaveState(_ context.Context, name string, state any) error {
	v, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(stateBucket))
		if bkt == nil {
			return nil
		}
		return bkt.Put([]byte(name), v)
	})
}

// LoadState deserializes the state tree stored under the given store name into state. It
// reports whether a stored tree was found.
func (b BoltDB) LoadState(_ context.Context, name string, state any) (bool, error) {
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(stateBucket))
		if bkt == nil {
			return nil
		}
		if v := bkt.Get([]byte(name)); v != nil {
			raw = append(raw, v...)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}

	if err := json.Unmarshal(raw, state); err != nil {
		return false, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return true, nil
}
