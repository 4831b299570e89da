package main

import (
	"time"

	"ownrealm/pkg/store"
	"ownrealm/pkg/types"
)

// --- API Models ---

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	WorldID    string    `json:"world_id"`
	ServerTime time.Time `json:"server_time"`
	Tick       int64     `json:"tick"`
	store.Stats
}

type enqueueRequest struct {
	SubjectType string `json:"subject_type"`
	SubjectKey  string `json:"subject_key"`
	Count       int    `json:"count,omitempty"` // units only
}

type attackRequest struct {
	TargetID int64          `json:"target_id"`
	Units    map[string]int `json:"units"`
}

type offerRequest struct {
	SellerID  int64           `json:"seller_id"`
	Resources types.Resources `json:"resources"`
	Price     int             `json:"price"`
}

type acceptRequest struct {
	BuyerID int64 `json:"buyer_id"`
}

// mapEntry is one settlement on the cached world map.
type mapEntry struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}
