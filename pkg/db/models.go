package db

import "time"

// RoutingOutcome is the result of submitting one order to one broker.
type RoutingOutcome struct {
	BrokerID string `json:"brokerId"`
	Success  bool   `json:"success"`
	OrderID  string `json:"orderId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RoutingRecord is a persisted routing decision with its outcomes, in
// target order.
type RoutingRecord struct {
	ID        string           `json:"id"`
	SignalID  string           `json:"signalId"`
	UserID    string           `json:"userId"`
	Strategy  string           `json:"strategy"`
	Targets   []string         `json:"targets"`
	Outcomes  []RoutingOutcome `json:"outcomes"`
	CreatedAt time.Time        `json:"createdAt"`
}

// BrokerCapability describes what a broker can trade and how well.
// Scores are 1..10; lower commission is cheaper.
type BrokerCapability struct {
	BrokerID       string    `json:"brokerId"`
	BrokerType     string    `json:"brokerType"`
	AssetClasses   []string  `json:"assetClasses"`
	ExecutionSpeed int       `json:"executionSpeed"`
	Commission     int       `json:"commission"`
	Reliability    int       `json:"reliability"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// UserBrokerPreference is a user's stance towards one broker. Rating is 1..5.
type UserBrokerPreference struct {
	UserID                string    `json:"userId"`
	BrokerID              string    `json:"brokerId"`
	IsPrimary             bool      `json:"isPrimary"`
	PreferredAssetClasses []string  `json:"preferredAssetClasses"`
	Rating                int       `json:"rating"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// BrokerConnection links a user to a broker account the pool may open.
type BrokerConnection struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	BrokerID   string    `json:"brokerId"`
	BrokerType string    `json:"brokerType"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
}
