package models

import "time"

// Charge point connectivity states. Status is free-form in the schema;
// these are the values the backend itself writes.
const (
	StatusAvailable = "Available"
	StatusOnline    = "Online"
	StatusOffline   = "Offline"
)

// Transaction lifecycle states.
const (
	TxActive    = "active"
	TxCompleted = "completed"
)

type ChargePoint struct {
	ChargePointId   string
	Vendor          string
	Model           string
	FirmwareVersion string
	SerialNumber    string
	Status          string
	LastSeenAt      *time.Time
	AdditionalInfo  map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Transaction struct {
	TransactionId  int64
	ChargePointId  string
	ConnectorId    int
	IdTag          string
	MeterStart     int64
	MeterStop      *int64
	StartedAt      time.Time
	StoppedAt      *time.Time
	StopReason     *string
	Status         string
	AdditionalInfo map[string]any
}

// Authorization rows are an append-only log; every Authorize call adds one.
type Authorization struct {
	Id            int64
	ChargePointId string
	IdTag         string
	Status        string
	ExpiryDate    time.Time
	CreatedAt     time.Time
}

type Heartbeat struct {
	Id            int64
	ChargePointId string
	Ts            time.Time
}

type StatusNotification struct {
	Id            int64
	ChargePointId string
	ConnectorId   int
	Status        string
	ErrorCode     string
	Info          string
	Ts            time.Time
}

type MeterReading struct {
	Id            int64
	ChargePointId string
	ConnectorId   int
	TransactionId *int64
	Ts            time.Time
	Value         string
	Measurand     string
	Unit          string
	Context       string
}

// FailedJob is the dead-letter row for async jobs that exhausted retries.
type FailedJob struct {
	Id        int64
	Kind      string
	Payload   []byte
	Attempts  int
	LastError string
	FailedAt  time.Time
}
