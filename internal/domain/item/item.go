// Package item defines the core domain entities for collectible and craftable items.
// This package is PURE and must NOT import any infrastructure packages.
package item

// ID identifies an item kind. Two IDs name the same item when they are equal.
// The zero value means "no item".
type ID string

const (
	ScrapMetal  ID = "scrap_metal"
	CopperOre   ID = "copper_ore"
	Titanium    ID = "titanium"
	Quartz      ID = "quartz"
	Kelp        ID = "kelp"
	Nails       ID = "nails"
	Cogs        ID = "cogs"
	Wiring      ID = "wiring"
	Battery     ID = "battery"
	Plate       ID = "plate"
	Glass       ID = "glass"
	OxygenTank  ID = "oxygen_tank"
	Scanner     ID = "scanner"
	DiveKnife   ID = "dive_knife"
	Flashlight  ID = "flashlight"
	RepairTool  ID = "repair_tool"
	MedKit      ID = "med_kit"
	FiberMesh   ID = "fiber_mesh"
	ScannerCore ID = "scanner_core"
)

// Empty reports whether the ID names no item.
func (id ID) Empty() bool {
	return id == ""
}

// Stack is a quantity of a specific item. Recipes use it for their
// requirements and the inventory uses it for bulk removals.
type Stack struct {
	ID       ID  `json:"item" yaml:"item"`
	Quantity int `json:"quantity" yaml:"amount"`
}

// Category groups items for the presentation layer.
type Category string

const (
	CategoryResource   Category = "RESOURCE"
	CategoryComponent  Category = "COMPONENT"
	CategoryTool       Category = "TOOL"
	CategoryEquipment  Category = "EQUIPMENT"
	CategoryConsumable Category = "CONSUMABLE"
)

// Definition provides display metadata about an item kind.
type Definition struct {
	Name        string
	Description string
	Icon        string // Sprite key the client resolves to an icon
	Category    Category
	Equippable  bool // Can be held in hand
}

// Registry contains all known items and their properties.
var Registry = map[ID]Definition{
	ScrapMetal: {
		Name:        "Scrap Metal",
		Description: "Twisted hull fragments from old wrecks.",
		Icon:        "icon_scrap_metal",
		Category:    CategoryResource,
	},
	CopperOre: {
		Name:        "Copper Ore",
		Description: "Greenish ore chipped from vent rocks.",
		Icon:        "icon_copper_ore",
		Category:    CategoryResource,
	},
	Titanium: {
		Name:        "Titanium",
		Description: "Light and strong. Found in deep outcrops.",
		Icon:        "icon_titanium",
		Category:    CategoryResource,
	},
	Quartz: {
		Name:        "Quartz",
		Description: "Clear crystal clusters from the shallows.",
		Icon:        "icon_quartz",
		Category:    CategoryResource,
	},
	Kelp: {
		Name:        "Kelp",
		Description: "Fibrous stalks, good for weaving.",
		Icon:        "icon_kelp",
		Category:    CategoryResource,
	},
	Nails: {
		Name:        "Nails",
		Description: "A handful of rust-free nails.",
		Icon:        "icon_nails",
		Category:    CategoryComponent,
	},
	Cogs: {
		Name:        "Cogs",
		Description: "Small gears salvaged from machinery.",
		Icon:        "icon_cogs",
		Category:    CategoryComponent,
	},
	Wiring: {
		Name:        "Wiring",
		Description: "Insulated copper wire.",
		Icon:        "icon_wiring",
		Category:    CategoryComponent,
	},
	Battery: {
		Name:        "Battery",
		Description: "Sealed power cell.",
		Icon:        "icon_battery",
		Category:    CategoryComponent,
	},
	Plate: {
		Name:        "Plate",
		Description: "A riveted metal plate.",
		Icon:        "icon_plate",
		Category:    CategoryComponent,
	},
	Glass: {
		Name:        "Glass",
		Description: "Pressure-rated glass pane.",
		Icon:        "icon_glass",
		Category:    CategoryComponent,
	},
	FiberMesh: {
		Name:        "Fiber Mesh",
		Description: "Woven kelp fibers.",
		Icon:        "icon_fiber_mesh",
		Category:    CategoryComponent,
	},
	ScannerCore: {
		Name:        "Scanner Core",
		Description: "The sensing element of a radar scanner.",
		Icon:        "icon_scanner_core",
		Category:    CategoryComponent,
	},
	OxygenTank: {
		Name:        "Oxygen Tank",
		Description: "Extends time underwater.",
		Icon:        "icon_oxygen_tank",
		Category:    CategoryEquipment,
		Equippable:  true,
	},
	Scanner: {
		Name:        "Scanner",
		Description: "Radar sweep device that pings nearby resources.",
		Icon:        "icon_scanner",
		Category:    CategoryTool,
		Equippable:  true,
	},
	DiveKnife: {
		Name:        "Dive Knife",
		Description: "Cuts kelp and pries ore loose.",
		Icon:        "icon_dive_knife",
		Category:    CategoryTool,
		Equippable:  true,
	},
	Flashlight: {
		Name:        "Flashlight",
		Description: "Lights up the murk.",
		Icon:        "icon_flashlight",
		Category:    CategoryTool,
		Equippable:  true,
	},
	RepairTool: {
		Name:        "Repair Tool",
		Description: "Welds damaged structures.",
		Icon:        "icon_repair_tool",
		Category:    CategoryTool,
		Equippable:  true,
	},
	MedKit: {
		Name:        "Med Kit",
		Description: "Restores health.",
		Icon:        "icon_med_kit",
		Category:    CategoryConsumable,
	},
}

// Lookup returns the definition for an item.
func Lookup(id ID) (Definition, bool) {
	def, ok := Registry[id]
	return def, ok
}

// Known reports whether the item is in the registry.
func Known(id ID) bool {
	_, ok := Registry[id]
	return ok
}

// DisplayName returns the registry name, falling back to the raw ID.
func DisplayName(id ID) string {
	if def, ok := Registry[id]; ok {
		return def.Name
	}
	return string(id)
}
