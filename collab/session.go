package collab

import "time"

// User is a participant in a collaboration session.
type User struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Color    string     `json:"color,omitempty"`
	Cursor   *CursorPos `json:"cursor,omitempty"`
	LastSeen time.Time  `json:"lastSeen"`
}

// Session is the shared state of one collaborative editing session: the
// roster of users, the append-only operation log and a monotonic version
// counter bumped on every applied operation. The adapter replaces its local
// copy wholesale whenever the server sends a sync snapshot.
type Session struct {
	ID         string      `json:"id"`
	Users      []User      `json:"users"`
	Operations []Operation `json:"operations"`
	Version    int64       `json:"version"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Copy makes a deep copy of the session.
func (s *Session) Copy() *Session {
	c := *s
	c.Users = make([]User, len(s.Users))
	for i, u := range s.Users {
		if u.Cursor != nil {
			cur := *u.Cursor
			u.Cursor = &cur
		}
		c.Users[i] = u
	}
	c.Operations = append([]Operation(nil), s.Operations...)
	return &c
}

// UpsertUser adds the user to the roster or refreshes an existing entry.
func (s *Session) UpsertUser(u User) {
	for i := range s.Users {
		if s.Users[i].ID == u.ID {
			s.Users[i] = u
			return
		}
	}
	s.Users = append(s.Users, u)
}

// RemoveUser drops the user from the roster. Returns the removed entry and
// whether it was present.
func (s *Session) RemoveUser(id string) (User, bool) {
	for i, u := range s.Users {
		if u.ID == id {
			s.Users = append(s.Users[:i], s.Users[i+1:]...)
			return u, true
		}
	}
	return User{}, false
}

// UserByID looks up a roster entry.
func (s *Session) UserByID(id string) (*User, bool) {
	for i := range s.Users {
		if s.Users[i].ID == id {
			return &s.Users[i], true
		}
	}
	return nil, false
}

// Append adds an operation to the log and bumps the session version.
func (s *Session) Append(op Operation) {
	s.Operations = append(s.Operations, op)
	s.Version++
	s.UpdatedAt = time.Now().UTC()
}
