package repositories

import (
	"encoding/json"
	"fmt"
	"time"

	"chat-relay/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IUserRepository interface {
	Create(username, email, passwordHash string) (User, error)
	GetByUsername(username string) (User, error)
	GetByID(id string) (User, error)
	List() ([]User, error)
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) UserRepository {
	return UserRepository{db: db}
}

// User is the stored account record. PasswordHash never leaves the
// repository/auth layers.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Key layout:
//
//	user:{username} -> full user JSON
//	uid:{id}        -> username (message routing resolves recipients by id)
//	email:{email}   -> username (uniqueness guard)
func userKey(username string) []byte { return []byte("user:" + username) }
func idKey(id string) []byte         { return []byte("uid:" + id) }
func emailKey(email string) []byte   { return []byte("email:" + email) }

// Create persists a new user. Username and email uniqueness are checked
// inside the same transaction that writes the record.
func (u UserRepository) Create(username, email, passwordHash string) (User, error) {
	user := User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	data, err := json.Marshal(user)
	if err != nil {
		return User{}, fmt.Errorf("marshal failed: %w", err)
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(userKey(username)); err == nil {
			return errors.ErrUserAlreadyExists
		}
		if _, err := txn.Get(emailKey(email)); err == nil {
			return errors.ErrUserAlreadyExists
		}
		if err := txn.Set(userKey(username), data); err != nil {
			return err
		}
		if err := txn.Set(idKey(user.ID), []byte(username)); err != nil {
			return err
		}
		return txn.Set(emailKey(email), []byte(username))
	})
	if err != nil {
		return User{}, err
	}

	return user, nil
}

func (u UserRepository) GetByUsername(username string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		return readUser(txn, username, &user)
	})
	return user, err
}

func (u UserRepository) GetByID(id string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err == badger.ErrKeyNotFound {
			return errors.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		var username string
		if err := item.Value(func(val []byte) error {
			username = string(val)
			return nil
		}); err != nil {
			return err
		}
		return readUser(txn, username, &user)
	})
	return user, err
}

// List returns every registered user, used by the contact directory.
func (u UserRepository) List() ([]User, error) {
	var users []User
	err := u.db.View(func(txn *badger.Txn) error {
		prefix := []byte("user:")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var user User
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &user)
			}); err != nil {
				return err
			}
			users = append(users, user)
		}
		return nil
	})
	return users, err
}

func readUser(txn *badger.Txn, username string, out *User) error {
	item, err := txn.Get(userKey(username))
	if err == badger.ErrKeyNotFound {
		return errors.ErrUserNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}
