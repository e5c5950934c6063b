package contract

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PositionID is a 16-byte UUID left-aligned in a 32-byte ledger field.
type PositionID [32]byte

// positionNamespace scopes handle-derived ids to this protocol.
var positionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://statera.protocol/positions"))

// DeriveUUID returns the stable id for a user-supplied handle.
func DeriveUUID(handle string) uuid.UUID {
	return uuid.NewSHA1(positionNamespace, []byte(strings.TrimSpace(handle)))
}

// EncodeID pads id to the ledger width.
func EncodeID(id uuid.UUID) PositionID {
	var p PositionID
	copy(p[:], id[:])
	return p
}

// UUID returns the leading 16 bytes as a UUID.
func (p PositionID) UUID() uuid.UUID {
	var u uuid.UUID
	copy(u[:], p[:16])
	return u
}

// Hex is the 64-character encoding used on the wire.
func (p PositionID) Hex() string {
	return hex.EncodeToString(p[:])
}

func (p PositionID) String() string {
	return p.UUID().String()
}

// ParseID accepts a canonical UUID or a 64-character hex ledger id.
func ParseID(s string) (PositionID, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) == 64 {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return PositionID{}, fmt.Errorf("contract: position id %q: %w", s, err)
		}
		var p PositionID
		copy(p[:], raw)
		return p, nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return PositionID{}, fmt.Errorf("contract: position id %q: %w", s, err)
	}
	return EncodeID(u), nil
}
