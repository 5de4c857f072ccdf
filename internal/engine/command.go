package engine

import (
	"fmt"

	"github.com/Kattete/Tidal-Miner/internal/domain/item"
)

// CommandType names an interaction a client can request.
type CommandType string

const (
	CommandCollect   CommandType = "COLLECT"
	CommandDrop      CommandType = "DROP"
	CommandCraft     CommandType = "CRAFT"
	CommandCanCraft  CommandType = "CAN_CRAFT"
	CommandEquip     CommandType = "EQUIP"
	CommandUnequip   CommandType = "UNEQUIP"
	CommandInventory CommandType = "INVENTORY"
)

// Command is one request from the input layer.
type Command struct {
	Type      CommandType `json:"type"`
	SessionID string      `json:"session_id"`
	Item      item.ID     `json:"item,omitempty"`
	Amount    int         `json:"amount,omitempty"`
	Recipe    string      `json:"recipe,omitempty"`
	Slot      int         `json:"slot,omitempty"`
}

// Reply is the outcome of a Command. Slot is -1 when no slot applies.
type Reply struct {
	Type      CommandType    `json:"type"`
	OK        bool           `json:"ok"`
	Slot      int            `json:"slot"`
	Item      item.ID        `json:"item,omitempty"`
	Craftable bool           `json:"craftable,omitempty"`
	Missing   []item.Stack   `json:"missing,omitempty"`
	Craft     *CraftResult   `json:"craft,omitempty"`
	Inventory *InventoryView `json:"inventory,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Handle runs one command against its session. A failed command leaves the
// inventory exactly as it was; the error carries the reason and Reply.Error
// mirrors it for clients that only read the reply.
func (e *Engine) Handle(cmd Command) (Reply, error) {
	reply := Reply{Type: cmd.Type, Slot: -1}
	s, err := e.acquire(cmd.SessionID)
	if err != nil {
		return reply.fail(err)
	}
	defer s.leave()

	switch cmd.Type {
	case CommandCollect:
		reply.Item = cmd.Item
		reply.Slot, err = e.inventorySystem.Collect(s, cmd.Item, cmd.Amount)

	case CommandDrop:
		reply.Item = cmd.Item
		reply.Slot, err = e.inventorySystem.Drop(s, cmd.Item, cmd.Amount)

	case CommandCraft:
		var result CraftResult
		result, err = e.craftingSystem.Craft(s, cmd.Recipe)
		if err == nil {
			reply.Craft = &result
			reply.Item = result.Job.Product.Item
		} else {
			reply.Missing, _ = e.ledger.Missing(cmd.Recipe, s.Store)
		}

	case CommandCanCraft:
		reply.Craftable, reply.Missing, err = e.craftingSystem.CanCraft(s, cmd.Recipe)

	case CommandEquip:
		reply.Slot = cmd.Slot
		reply.Item, err = e.equipSystem.Equip(s, cmd.Slot)

	case CommandUnequip:
		reply.Slot, err = e.equipSystem.Unequip(s)

	case CommandInventory:
		view := viewOf(s)
		reply.Inventory = &view

	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}

	if err != nil {
		return reply.fail(err)
	}
	reply.OK = true
	return reply, nil
}

func (r Reply) fail(err error) (Reply, error) {
	r.OK = false
	r.Error = err.Error()
	return r, err
}
