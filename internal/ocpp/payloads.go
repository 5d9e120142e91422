package ocpp

import (
	"fmt"
	"time"
)

// ValidationError reports a payload that fails an action's required-field
// or type checks. The client can correct and resubmit.
type ValidationError struct {
	Action string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: field %q %s", e.Action, e.Field, e.Reason)
}

func missing(action, field string) error {
	return &ValidationError{Action: action, Field: field, Reason: "is required"}
}

func wrongType(action, field, want string) error {
	return &ValidationError{Action: action, Field: field, Reason: "must be a " + want}
}

type BootNotificationReq struct {
	Vendor          string
	Model           string
	FirmwareVersion string
	SerialNumber    string

	// Raw keeps the full boot payload; it is stored as the charge
	// point's additional_info audit bag.
	Raw map[string]any
}

func DecodeBootNotification(p map[string]any) (*BootNotificationReq, error) {
	const action = "BootNotification"
	vendor, err := requireString(action, p, "chargePointVendor")
	if err != nil {
		return nil, err
	}
	model, err := requireString(action, p, "chargePointModel")
	if err != nil {
		return nil, err
	}
	return &BootNotificationReq{
		Vendor:          vendor,
		Model:           model,
		FirmwareVersion: optionalString(p, "firmwareVersion"),
		SerialNumber:    optionalString(p, "chargePointSerialNumber"),
		Raw:             p,
	}, nil
}

type AuthorizeReq struct {
	IdTag string
}

func DecodeAuthorize(p map[string]any) (*AuthorizeReq, error) {
	idTag, err := requireString("Authorize", p, "idTag")
	if err != nil {
		return nil, err
	}
	return &AuthorizeReq{IdTag: idTag}, nil
}

type StartTransactionReq struct {
	ConnectorId int
	IdTag       string
	MeterStart  int64
	Timestamp   time.Time
}

func DecodeStartTransaction(p map[string]any) (*StartTransactionReq, error) {
	const action = "StartTransaction"
	connector, err := requireInt(action, p, "connectorId")
	if err != nil {
		return nil, err
	}
	idTag, err := requireString(action, p, "idTag")
	if err != nil {
		return nil, err
	}
	meterStart, err := requireInt64(action, p, "meterStart")
	if err != nil {
		return nil, err
	}
	ts, err := requireTime(action, p, "timestamp")
	if err != nil {
		return nil, err
	}
	return &StartTransactionReq{ConnectorId: connector, IdTag: idTag, MeterStart: meterStart, Timestamp: ts}, nil
}

type StopTransactionReq struct {
	TransactionId int64
	MeterStop     int64
	Timestamp     time.Time
	Reason        string
	IdTag         string
}

func DecodeStopTransaction(p map[string]any) (*StopTransactionReq, error) {
	const action = "StopTransaction"
	txId, err := requireInt64(action, p, "transactionId")
	if err != nil {
		return nil, err
	}
	meterStop, err := requireInt64(action, p, "meterStop")
	if err != nil {
		return nil, err
	}
	ts, err := requireTime(action, p, "timestamp")
	if err != nil {
		return nil, err
	}
	return &StopTransactionReq{
		TransactionId: txId,
		MeterStop:     meterStop,
		Timestamp:     ts,
		Reason:        optionalString(p, "reason"),
		IdTag:         optionalString(p, "idTag"),
	}, nil
}

type StatusNotificationReq struct {
	ConnectorId int
	ErrorCode   string
	Status      string
	Info        string
	Timestamp   time.Time
}

func DecodeStatusNotification(p map[string]any) (*StatusNotificationReq, error) {
	const action = "StatusNotification"
	connector, err := requireInt(action, p, "connectorId")
	if err != nil {
		return nil, err
	}
	errorCode, err := requireString(action, p, "errorCode")
	if err != nil {
		return nil, err
	}
	status, err := requireString(action, p, "status")
	if err != nil {
		return nil, err
	}
	req := &StatusNotificationReq{
		ConnectorId: connector,
		ErrorCode:   errorCode,
		Status:      status,
		Info:        optionalString(p, "info"),
	}
	if ts, ok := optionalTime(p, "timestamp"); ok {
		req.Timestamp = ts
	}
	return req, nil
}

type MeterValuesReq struct {
	ConnectorId   int
	TransactionId *int64
	MeterValue    []MeterValueEntry
}

type MeterValueEntry struct {
	Timestamp    time.Time
	SampledValue []SampledValue
}

type SampledValue struct {
	Value     string
	Measurand string
	Unit      string
	Context   string
}

func DecodeMeterValues(p map[string]any) (*MeterValuesReq, error) {
	const action = "MeterValues"
	connector, err := requireInt(action, p, "connectorId")
	if err != nil {
		return nil, err
	}
	rawEntries, ok := p["meterValue"]
	if !ok {
		return nil, missing(action, "meterValue")
	}
	entries, ok := rawEntries.([]any)
	if !ok {
		return nil, wrongType(action, "meterValue", "array")
	}

	req := &MeterValuesReq{ConnectorId: connector}
	if v, ok := p["transactionId"]; ok {
		txId := int64FromAny(v)
		req.TransactionId = &txId
	}
	for i, rawEntry := range entries {
		entry, ok := rawEntry.(map[string]any)
		if !ok {
			return nil, wrongType(action, fmt.Sprintf("meterValue[%d]", i), "object")
		}
		mv := MeterValueEntry{}
		if ts, ok := optionalTime(entry, "timestamp"); ok {
			mv.Timestamp = ts
		}
		samples, _ := entry["sampledValue"].([]any)
		for _, rawSample := range samples {
			sample, ok := rawSample.(map[string]any)
			if !ok {
				continue
			}
			mv.SampledValue = append(mv.SampledValue, SampledValue{
				Value:     stringFromAny(sample["value"]),
				Measurand: optionalString(sample, "measurand"),
				Unit:      optionalString(sample, "unit"),
				Context:   optionalString(sample, "context"),
			})
		}
		req.MeterValue = append(req.MeterValue, mv)
	}
	return req, nil
}
