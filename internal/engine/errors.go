package engine

import "errors"

var (
	// ErrNotReady is returned for commands issued before FinishSetup.
	ErrNotReady        = errors.New("engine: setup not finished")
	ErrUnknownSession  = errors.New("engine: unknown session")
	ErrUnknownCommand  = errors.New("engine: unknown command")
	ErrUnknownItem     = errors.New("engine: item not in catalog")
	ErrInvalidSlot     = errors.New("engine: slot out of range")
	ErrSlotEmpty       = errors.New("engine: slot is empty")
	ErrNotEquippable   = errors.New("engine: item cannot be held")
	ErrNothingEquipped = errors.New("engine: nothing equipped")
	ErrSessionExists   = errors.New("engine: session already hosted")
	ErrInvalidCraftJob = errors.New("engine: saved craft job has no product")
	ErrCraftsPending   = errors.New("engine: session has crafts in progress")
)
