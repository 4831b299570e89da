package types

import "time"

// --- Subjects ---

type SubjectType string

const (
	SubjectBuilding     SubjectType = "building"
	SubjectMilitaryUnit SubjectType = "militaryUnit"
	SubjectResearch     SubjectType = "research"
)

func AllSubjectTypes() []SubjectType {
	return []SubjectType{SubjectBuilding, SubjectMilitaryUnit, SubjectResearch}
}

type QueueStatus string

const (
	QueueActive    QueueStatus = "active"
	QueueQueued    QueueStatus = "queued"
	QueueCompleted QueueStatus = "completed"
	QueueCancelled QueueStatus = "cancelled"
)

// --- Resources ---

type ResourceType string

const (
	Wood  ResourceType = "wood"
	Stone ResourceType = "stone"
	Ore   ResourceType = "ore"
)

func AllResourceTypes() []ResourceType {
	return []ResourceType{Wood, Stone, Ore}
}

// Resources is an amount per storable resource.
type Resources struct {
	Wood  int `json:"wood"`
	Stone int `json:"stone"`
	Ore   int `json:"ore"`
}

func (r Resources) Get(rt ResourceType) int {
	switch rt {
	case Wood:
		return r.Wood
	case Stone:
		return r.Stone
	case Ore:
		return r.Ore
	}
	return 0
}

func (r *Resources) Set(rt ResourceType, v int) {
	switch rt {
	case Wood:
		r.Wood = v
	case Stone:
		r.Stone = v
	case Ore:
		r.Ore = v
	}
}

func (r Resources) Add(o Resources) Resources {
	return Resources{Wood: r.Wood + o.Wood, Stone: r.Stone + o.Stone, Ore: r.Ore + o.Ore}
}

func (r Resources) Scale(n int) Resources {
	return Resources{Wood: r.Wood * n, Stone: r.Stone * n, Ore: r.Ore * n}
}

// Covers reports whether r holds at least o of every resource.
func (r Resources) Covers(o Resources) bool {
	return r.Wood >= o.Wood && r.Stone >= o.Stone && r.Ore >= o.Ore
}

func (r Resources) IsZero() bool {
	return r.Wood == 0 && r.Stone == 0 && r.Ore == 0
}

func (r Resources) AnyNegative() bool {
	return r.Wood < 0 || r.Stone < 0 || r.Ore < 0
}

// Rates are hourly production amounts per resource.
type Rates struct {
	Wood  float64 `json:"wood"`
	Stone float64 `json:"stone"`
	Ore   float64 `json:"ore"`
}

func (r Rates) Get(rt ResourceType) float64 {
	switch rt {
	case Wood:
		return r.Wood
	case Stone:
		return r.Stone
	case Ore:
		return r.Ore
	}
	return 0
}

// Cost is what an admission debits.
type Cost struct {
	Resources
	Settlers int `json:"settlers"`
}

// ResourceState is the authoritative resource snapshot of one settlement.
type ResourceState struct {
	SettlementID    int64     `json:"settlement_id"`
	Wood            int       `json:"wood"`
	Stone           int       `json:"stone"`
	Ore             int       `json:"ore"`
	Gold            int       `json:"gold"`
	StorageCapacity int       `json:"storage_capacity"`
	FreeSettlers    int       `json:"free_settlers"`
	MaxSettlers     int       `json:"max_settlers"`
	Rates           Rates     `json:"rates"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (s ResourceState) Amounts() Resources {
	return Resources{Wood: s.Wood, Stone: s.Stone, Ore: s.Ore}
}

func (s *ResourceState) SetAmounts(r Resources) {
	s.Wood, s.Stone, s.Ore = r.Wood, r.Stone, r.Ore
}

// --- Settlements ---

type Settlement struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	X         int            `json:"x"`
	Y         int            `json:"y"`
	Buildings map[string]int `json:"buildings,omitempty"`
	Units     map[string]int `json:"units,omitempty"`
	Research  map[string]int `json:"research,omitempty"`
	Resources ResourceState  `json:"resources"`
}

// --- Queues ---

type QueueEntry struct {
	ID                   int64       `json:"id"`
	SettlementID         int64       `json:"settlement_id"`
	SubjectType          SubjectType `json:"subject_type"`
	SubjectKey           string      `json:"subject_key"`
	Target               int         `json:"target"` // level for buildings/research, count for units
	StartTime            time.Time   `json:"start_time"`
	EndTime              time.Time   `json:"end_time"`
	QueueIndex           int         `json:"queue_index"`
	Status               QueueStatus `json:"status"`
	CompletionPercentage float64     `json:"completion_percentage"`
	Settlers             int         `json:"settlers,omitempty"` // reserved until completion
}

func (e QueueEntry) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// --- Travel ---

type TravelKind string

const (
	TravelArmy  TravelKind = "army"
	TravelTrade TravelKind = "trade"
)

type TravelStatus string

const (
	TravelTraveling TravelStatus = "traveling"
	TravelArrived   TravelStatus = "arrived"
	TravelCompleted TravelStatus = "completed"
)

// Terminal reports whether no further transition is allowed.
func (s TravelStatus) Terminal() bool {
	return s == TravelArrived || s == TravelCompleted
}

// Payload carries either unit counts (army) or goods (trade).
type Payload struct {
	Units     map[string]int `json:"units,omitempty"`
	Resources Resources      `json:"resources"`
	Gold      int            `json:"gold,omitempty"`
	OfferID   int64          `json:"offer_id,omitempty"`
}

type TravelOrder struct {
	ID            int64        `json:"id"`
	Kind          TravelKind   `json:"kind"`
	OriginID      int64        `json:"origin_id"`
	DestinationID int64        `json:"destination_id"`
	Payload       Payload      `json:"payload"`
	Distance      int          `json:"distance"`
	Speed         int          `json:"speed"` // seconds per field
	DepartTime    time.Time    `json:"depart_time"`
	ArrivalTime   time.Time    `json:"arrival_time"`
	Status        TravelStatus `json:"status"`
}

// --- Battles ---

// Power is the aggregated combat strength of one side.
type Power struct {
	Attack  float64 `json:"attack"`
	Ranged  float64 `json:"ranged"`
	Defense float64 `json:"defense"`
}

type Side string

const (
	SideAttacker Side = "attacker"
	SideDefender Side = "defender"
)

type BattleRecord struct {
	ID               int64          `json:"id"`
	TravelOrderID    int64          `json:"travel_order_id"`
	AttackerID       int64          `json:"attacker_id"`
	DefenderID       int64          `json:"defender_id"`
	AttackerPower    Power          `json:"attacker_power"`
	DefenderPower    Power          `json:"defender_power"`
	RandomFactor     float64        `json:"random_factor"`
	Winner           Side           `json:"winner"`
	AttackerLossRate float64        `json:"attacker_loss_rate"`
	DefenderLossRate float64        `json:"defender_loss_rate"`
	AttackerLosses   map[string]int `json:"attacker_losses"`
	DefenderLosses   map[string]int `json:"defender_losses"`
	Plundered        Resources      `json:"plundered"`
	Digest           string         `json:"digest"`
	CreatedAt        time.Time      `json:"created_at"`
}

// --- Trade ---

type OfferStatus string

const (
	OfferOpen      OfferStatus = "open"
	OfferAccepted  OfferStatus = "accepted"
	OfferCancelled OfferStatus = "cancelled"
)

type TradeOffer struct {
	ID        int64       `json:"id"`
	SellerID  int64       `json:"seller_id"`
	BuyerID   int64       `json:"buyer_id,omitempty"`
	Resources Resources   `json:"resources"`
	Price     int         `json:"price"`
	Status    OfferStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

type TradeRecord struct {
	ID            int64     `json:"id"`
	TravelOrderID int64     `json:"travel_order_id"`
	OfferID       int64     `json:"offer_id"`
	SellerID      int64     `json:"seller_id"`
	BuyerID       int64     `json:"buyer_id"`
	Resources     Resources `json:"resources"`
	Gold          int       `json:"gold"`
	CreatedAt     time.Time `json:"created_at"`
}

// --- Sync ---

// SyncSnapshot is the combined payload a client needs to predict progress.
type SyncSnapshot struct {
	ServerTime time.Time                    `json:"server_time"`
	Resources  ResourceState                `json:"resources"`
	Queues     map[SubjectType][]QueueEntry `json:"queues"`
}
