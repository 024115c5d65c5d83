package client

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var conversationsBucket = []byte("conversations")

// State persists the conversation id of each session between runs.
type State struct {
	db *bolt.DB
}

// OpenState opens or creates the state file at path.
func OpenState(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize state: %w", err)
	}
	return &State{db: db}, nil
}

// ConversationID returns the stored id for session, or "" when none.
func (s *State) ConversationID(session string) (string, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(conversationsBucket).Get([]byte(session)); v != nil {
			id = string(v)
		}
		return nil
	})
	return id, err
}

// SetConversationID stores id for session.
func (s *State) SetConversationID(session, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).Put([]byte(session), []byte(id))
	})
}

// Forget removes the stored id for session.
func (s *State) Forget(session string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).Delete([]byte(session))
	})
}

// Close closes the state file.
func (s *State) Close() error {
	return s.db.Close()
}
