package events

// SlotPayload describes one inventory slot as the presentation layer draws
// it. Quantity 0 with an empty Item means the slot was cleared.
type SlotPayload struct {
	Slot      int    `json:"slot"`
	Item      string `json:"item"`
	Quantity  int    `json:"quantity"`
	Name      string `json:"name,omitempty"`
	Icon      string `json:"icon,omitempty"`
	CountText string `json:"count_text,omitempty"`
}

// ItemPayload records items entering or leaving an inventory.
type ItemPayload struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
	Slot     int    `json:"slot"`
	Reason   string `json:"reason,omitempty"`
}

// StackPayload is one requirement or shortfall entry.
type StackPayload struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

// CraftPayload accompanies every CRAFT_* event.
type CraftPayload struct {
	Recipe      string         `json:"recipe"`
	Product     string         `json:"product,omitempty"`
	Quantity    int            `json:"quantity,omitempty"`
	Artifact    string         `json:"artifact,omitempty"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
	Consumed    []StackPayload `json:"consumed,omitempty"`
	Missing     []StackPayload `json:"missing,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	JobID       string         `json:"job_id,omitempty"`
	DepositSlot *int           `json:"deposit_slot,omitempty"`
}

// EquipPayload accompanies ITEM_EQUIPPED and ITEM_UNEQUIPPED.
type EquipPayload struct {
	Slot     int    `json:"slot"`
	Item     string `json:"item"`
	Artifact string `json:"artifact,omitempty"`
}

// SessionPayload accompanies SESSION_STARTED.
type SessionPayload struct {
	PlayerName string `json:"player_name"`
	Capacity   int    `json:"capacity"`
	Restored   bool   `json:"restored"`
}
