package model

import "time"

// Lease is the single shared "master" slot contested by all instances
type Lease struct {
	Name       string    `json:"name" bson:"_id"`
	Holder     string    `json:"holder" bson:"holder"`           // Instance ID
	AcquiredAt time.Time `json:"acquired_at" bson:"acquired_at"` // When the current holder first won the lease
	RenewedAt  time.Time `json:"renewed_at" bson:"renewed_at"`
	ExpiresAt  time.Time `json:"expires_at" bson:"expires_at"`
}

// Instance is the liveness record of one running process
type Instance struct {
	ID          string    `json:"instance_id" bson:"_id"`
	Hostname    string    `json:"hostname" bson:"hostname"`
	StartedAt   time.Time `json:"started_at" bson:"started_at"`
	HeartbeatAt time.Time `json:"heartbeat_at" bson:"heartbeat_at"`
	ExpiresAt   time.Time `json:"expires_at" bson:"expires_at"`
}
