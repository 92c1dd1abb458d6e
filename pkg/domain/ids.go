package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Typed UUID wrappers so a session id can never be passed where an identity
// id is expected. Parsing enforces the invariant that ids are valid,
// non-nil UUIDs at the trust boundary.

type SessionID uuid.UUID

type IdentityID uuid.UUID

type ChallengeID uuid.UUID

type EventID uuid.UUID

func (id SessionID) String() string   { return uuid.UUID(id).String() }
func (id IdentityID) String() string  { return uuid.UUID(id).String() }
func (id ChallengeID) String() string { return uuid.UUID(id).String() }
func (id EventID) String() string     { return uuid.UUID(id).String() }

// Text marshaling keeps ids in their canonical string form everywhere
// they are serialized, the audit hash chain included.

func (id SessionID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id IdentityID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id ChallengeID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id EventID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }

func (id *SessionID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = SessionID(u)
	return err
}

func (id *IdentityID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = IdentityID(u)
	return err
}

func (id *ChallengeID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = ChallengeID(u)
	return err
}

func (id *EventID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = EventID(u)
	return err
}

func (id SessionID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id IdentityID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ChallengeID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func NewSessionID() SessionID     { return SessionID(uuid.New()) }
func NewIdentityID() IdentityID   { return IdentityID(uuid.New()) }
func NewChallengeID() ChallengeID { return ChallengeID(uuid.New()) }
func NewEventID() EventID         { return EventID(uuid.New()) }

func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s)
	return SessionID(u), err
}

func ParseIdentityID(s string) (IdentityID, error) {
	u, err := parseUUID(s)
	return IdentityID(u), err
}

func ParseChallengeID(s string) (ChallengeID, error) {
	u, err := parseUUID(s)
	return ChallengeID(u), err
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	if u == uuid.Nil {
		return uuid.Nil, fmt.Errorf("id must not be the nil UUID")
	}
	return u, nil
}
