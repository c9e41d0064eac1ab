package model

import "github.com/google/uuid"

// ID identifies a collection or saved request. Local ids are minted for
// entities created without a session; they never reach the document store.
type ID struct {
	Value string `json:"value"`
	Local bool   `json:"local,omitempty"`
}

// RemoteID wraps an id assigned by the document store
func RemoteID(value string) ID {
	return ID{Value: value}
}

// NewLocalID mints a session-only id
func NewLocalID() ID {
	return ID{Value: uuid.NewString(), Local: true}
}

// IsZero reports whether the id is unset
func (id ID) IsZero() bool {
	return id.Value == ""
}

// IsRemote reports whether the id was assigned by the store
func (id ID) IsRemote() bool {
	return id.Value != "" && !id.Local
}

func (id ID) String() string {
	if id.Local {
		return "local:" + id.Value
	}
	return id.Value
}
