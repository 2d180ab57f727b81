package storage

import (
	"fmt"

	"evalgo.org/unifiedviews/models"
)

// SaveUser saves a user. Usernames are unique.
func (s *CouchDB) SaveUser(user *models.User) error {
	if user.Context == "" {
		user.Context = models.Context
	}
	if user.Type == "" {
		user.Type = models.TypeUser
	}
	if user.ID == "" {
		user.ID = models.GenerateID("user")
	}
	if err := s.ensureUnique(models.TypeUser, "username", user.Username, user.ID); err != nil {
		return err
	}
	return s.saveDocument(user, user.ID, func(rev string) { user.Rev = rev })
}

// GetUser retrieves a user by ID.
func (s *CouchDB) GetUser(id string) (*models.User, error) {
	var user models.User
	if err := s.getDocument(id, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *CouchDB) GetUserByUsername(username string) (*models.User, error) {
	docs, err := findByType[models.User](s, models.TypeUser, map[string]interface{}{"username": username})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return &docs[0], nil
}

// ListUsers lists all users ordered by username.
func (s *CouchDB) ListUsers() ([]*models.User, error) {
	docs, err := findByType[models.User](s, models.TypeUser, nil)
	if err != nil {
		return nil, err
	}
	result := make([]*models.User, len(docs))
	for i := range docs {
		result[i] = &docs[i]
	}
	sortUsers(result)
	return result, nil
}

// DeleteUser deletes a user.
func (s *CouchDB) DeleteUser(id string) error {
	return s.deleteDocument(id)
}
