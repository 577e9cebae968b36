package database

import "errors"

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would violate a uniqueness
	// constraint.
	ErrConflict = errors.New("already exists")
	// ErrLastOwner is returned when removing a member would leave a
	// room ownerless while other members remain.
	ErrLastOwner = errors.New("room would be left without an owner")
)
