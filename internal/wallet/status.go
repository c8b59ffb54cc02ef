package wallet

import (
	"errors"
	"fmt"
)

// CoinStatus is the lifecycle state of a statecoin.
type CoinStatus uint8

// Coin statuses. The zero value is not a valid status.
const (
	StatusInitialised CoinStatus = iota + 1
	StatusUnconfirmed
	StatusConfirmed
	StatusInTransfer
	StatusWithdrawn
)

// ErrInvalidTransition is returned for a status change the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid coin status transition")

// ErrUnknownStatus is returned when decoding an unrecognised status name.
var ErrUnknownStatus = errors.New("unknown coin status")

// String returns the wire name of the status.
func (s CoinStatus) String() string {
	switch s {
	case StatusInitialised:
		return "INITIALISED"
	case StatusUnconfirmed:
		return "UNCONFIRMED"
	case StatusConfirmed:
		return "CONFIRMED"
	case StatusInTransfer:
		return "IN_TRANSFER"
	case StatusWithdrawn:
		return "WITHDRAWN"
	default:
		return fmt.Sprintf("CoinStatus(%d)", uint8(s))
	}
}

// ParseStatus parses a wire name.
func ParseStatus(name string) (CoinStatus, error) {
	for s := StatusInitialised; s <= StatusWithdrawn; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, name)
}

// MarshalText implements encoding.TextMarshaler.
func (s CoinStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *CoinStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Valid reports whether s is one of the defined statuses.
func (s CoinStatus) Valid() bool {
	return s >= StatusInitialised && s <= StatusWithdrawn
}

// Transferable reports whether a coin in this status may be sent.
func (s CoinStatus) Transferable() bool {
	switch s {
	case StatusConfirmed, StatusInTransfer:
		return true
	case StatusInitialised, StatusUnconfirmed, StatusWithdrawn:
		return false
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
//
//	INITIALISED -> UNCONFIRMED | CONFIRMED
//	UNCONFIRMED -> CONFIRMED | WITHDRAWN
//	CONFIRMED   -> IN_TRANSFER | WITHDRAWN
//	IN_TRANSFER -> IN_TRANSFER | UNCONFIRMED | CONFIRMED | WITHDRAWN
//	WITHDRAWN   -> (terminal)
//
// IN_TRANSFER -> IN_TRANSFER is a re-send of a coin whose first transfer was
// never claimed.
func (s CoinStatus) CanTransitionTo(next CoinStatus) bool {
	switch s {
	case StatusInitialised:
		return next == StatusUnconfirmed || next == StatusConfirmed
	case StatusUnconfirmed:
		return next == StatusConfirmed || next == StatusWithdrawn
	case StatusConfirmed:
		return next == StatusInTransfer || next == StatusWithdrawn
	case StatusInTransfer:
		switch next {
		case StatusInTransfer, StatusUnconfirmed, StatusConfirmed, StatusWithdrawn:
			return true
		case StatusInitialised:
			return false
		}
		return false
	case StatusWithdrawn:
		return false
	default:
		return false
	}
}

// SetStatus moves the coin to next, or returns ErrInvalidTransition and
// leaves the coin unchanged.
func (c *Coin) SetStatus(next CoinStatus) error {
	if !c.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, next)
	}
	c.Status = next
	return nil
}
