package game

// displayNames is the translation table for the default locale. Core logic
// never reads it; it only decorates output.
var displayNames = map[string]string{
	Keep:          "Keep",
	Lumberjack:    "Lumberjack",
	Quarry:        "Quarry",
	OreMine:       "Ore mine",
	Storehouse:    "Storehouse",
	Farm:          "Farm",
	Barracks:      "Barracks",
	Library:       "Library",
	Market:        "Market",
	Wall:          "Wall",
	Spearman:      "Spearman",
	Swordsman:     "Swordsman",
	Archer:        "Archer",
	Crossbowman:   "Crossbowman",
	Horseman:      "Horseman",
	Lancer:        "Lancer",
	Longbow:       "Longbow",
	CrossbowTech:  "Crossbow",
	Swordsmith:    "Swordsmith",
	HorseBreeding: "Horse breeding",
	CropRotation:  "Crop rotation",
	Masonry:       "Masonry",
}

func DisplayName(key string) string {
	if n, ok := displayNames[key]; ok {
		return n
	}
	return key
}
