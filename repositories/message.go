package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/dgraph-io/badger/v4"
)

type IMessageRepository interface {
	Create(message domain.Message) error
	Get(id string) (domain.Message, error)
	Advance(id string, to domain.Status) (domain.Message, bool, error)
	Backlog(recipientID string) ([]domain.Message, error)
	Conversation(userA, userB string) ([]domain.Message, error)
}

type MessageRepository struct {
	db           *badger.DB
	log          *slog.Logger
	historyLimit *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, historyLimit *int) MessageRepository {
	return MessageRepository{db: db, log: log, historyLimit: historyLimit}
}

// Key layout:
//
//	msg:{id}                                    -> full message JSON (single source of truth)
//	backlog:{recipient}:{timestamp_padded}:{id} -> id, exists only while status is "sent"
//	conv:{low}:{high}:{timestamp_padded}:{id}   -> id, conversation history index
//
// The 19-digit zero padding keeps lexicographical order equal to
// chronological order, so prefix scans come back sorted by time.
func msgKey(id string) []byte {
	return []byte("msg:" + id)
}

func backlogKey(m domain.Message) []byte {
	return []byte(fmt.Sprintf("backlog:%s:%019d:%s", m.Recipient, m.CreatedAt.UnixNano(), m.ID))
}

func convKey(m domain.Message) []byte {
	low, high := m.Sender, m.Recipient
	if low > high {
		low, high = high, low
	}
	return []byte(fmt.Sprintf("conv:%s:%s:%019d:%s", low, high, m.CreatedAt.UnixNano(), m.ID))
}

// Create persists a new message and its index entries in one transaction.
// The message id is the client's idempotency key: an id that is already
// stored fails with ErrMessageExists and leaves the stored record untouched.
func (r MessageRepository) Create(message domain.Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		key := msgKey(message.ID)
		if _, err := txn.Get(key); err == nil {
			return errors.ErrMessageExists
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(convKey(message), []byte(message.ID)); err != nil {
			return err
		}
		if message.Status == domain.StatusSent {
			return txn.Set(backlogKey(message), []byte(message.ID))
		}
		return nil
	})
}

func (r MessageRepository) Get(id string) (domain.Message, error) {
	var message domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		return readMessage(txn, id, &message)
	})
	return message, err
}

// Advance moves a message one step forward in the status chain as a
// single compare-and-set transaction. It returns the stored message and
// whether the transition happened; a transition that would regress or
// skip a step reports false without touching the record. The sent ->
// delivered step also retires the backlog index entry, so concurrent
// backlog replays see each message leave the queue exactly once.
func (r MessageRepository) Advance(id string, to domain.Status) (domain.Message, bool, error) {
	var message domain.Message
	advanced := false

	err := r.db.Update(func(txn *badger.Txn) error {
		if err := readMessage(txn, id, &message); err != nil {
			return err
		}
		if !message.Status.CanAdvance(to) {
			return nil
		}

		if message.Status == domain.StatusSent {
			if err := txn.Delete(backlogKey(message)); err != nil {
				return err
			}
		}

		message.Status = to
		data, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal failed: %w", err)
		}
		if err := txn.Set(msgKey(id), data); err != nil {
			return err
		}
		advanced = true
		return nil
	})

	return message, advanced, err
}

// Backlog returns every message addressed to the recipient that is still
// in "sent" status, oldest first. The scan relies on the backlog index
// being maintained by Create and Advance.
func (r MessageRepository) Backlog(recipientID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte("backlog:" + recipientID + ":")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}

			var message domain.Message
			if err := readMessage(txn, id, &message); err != nil {
				// A dangling index entry is not fatal for the replay.
				r.log.Warn("Backlog index points at missing message", "id", id, "error", err)
				continue
			}
			messages = append(messages, message)
		}
		return nil
	})
	return messages, err
}

// Conversation returns the full exchange between two users sorted by
// timestamp ascending, capped at historyLimit when one is configured.
func (r MessageRepository) Conversation(userA, userB string) ([]domain.Message, error) {
	low, high := userA, userB
	if low > high {
		low, high = high, low
	}

	var messages []domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("conv:%s:%s:", low, high))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if r.historyLimit != nil && len(messages) == *r.historyLimit {
				r.log.Debug(fmt.Sprintf("Maximum of %d messages reached", *r.historyLimit))
				break
			}
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}

			var message domain.Message
			if err := readMessage(txn, id, &message); err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	return messages, err
}

func readMessage(txn *badger.Txn, id string, out *domain.Message) error {
	item, err := txn.Get(msgKey(id))
	if err == badger.ErrKeyNotFound {
		return errors.ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}
