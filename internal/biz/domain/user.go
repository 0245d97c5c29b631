package domain

import "time"

// User represents a chat participant, the persona included
type User struct {
	ID        string
	FirstName string
	LastName  string
	Username  string
	IsBot     bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RealName returns "lastName firstName" when both are known, else the
// username, else whichever single name is known. ok is false when nothing is.
func (u *User) RealName() (string, bool) {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.LastName + " " + u.FirstName, true
	case u.Username != "":
		return u.Username, true
	case u.FirstName != "":
		return u.FirstName, true
	case u.LastName != "":
		return u.LastName, true
	}
	return "", false
}

// DiffersFrom reports whether any display-name field diverges from a
func (u *User) DiffersFrom(a *Author) bool {
	return u.FirstName != a.FirstName || u.LastName != a.LastName || u.Username != a.Username
}

// Author is the identity an inbound event carries for its sender
type Author struct {
	ID        string
	FirstName string
	LastName  string
	Username  string
	IsBot     bool
}

// ToUser builds a new User from an observed author
func (a *Author) ToUser(now time.Time) *User {
	return &User{
		ID:        a.ID,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Username:  a.Username,
		IsBot:     a.IsBot,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
