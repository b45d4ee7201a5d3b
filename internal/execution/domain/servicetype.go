package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ServiceType is the closed set of billable service kinds. Values mirror the
// on-chain enum and must never be renumbered.
type ServiceType uint8

const (
	ServiceContractInspector ServiceType = 0
	ServiceWalletReputation  ServiceType = 1
	ServiceWalletAudit       ServiceType = 2
)

var ErrInvalidServiceType = errors.New("invalid_service_type")

// serviceTypeNames is the total mapping for the enum. Adding a service kind
// is a single entry here plus a counter column on DailyStats.
var serviceTypeNames = map[ServiceType]string{
	ServiceContractInspector: "CONTRACT_INSPECTOR",
	ServiceWalletReputation:  "WALLET_REPUTATION",
	ServiceWalletAudit:       "WALLET_AUDIT",
}

// AllServiceTypes lists every known service kind in enum order.
func AllServiceTypes() []ServiceType {
	return []ServiceType{ServiceContractInspector, ServiceWalletReputation, ServiceWalletAudit}
}

// ParseServiceType validates a raw chain value against the enum range.
func ParseServiceType(v int64) (ServiceType, error) {
	t := ServiceType(v)
	if _, ok := serviceTypeNames[t]; !ok || v < 0 {
		return 0, ErrInvalidServiceType
	}
	return t, nil
}

// ParseServiceTypeName resolves a display name back to its enum value.
func ParseServiceTypeName(name string) (ServiceType, error) {
	for t, n := range serviceTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, ErrInvalidServiceType
}

func (t ServiceType) Valid() bool {
	_, ok := serviceTypeNames[t]
	return ok
}

// Name returns the stable display name for the service kind.
func (t ServiceType) Name() string {
	if name, ok := serviceTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_%d", uint8(t))
}

// MarshalJSON serializes the display name.
func (t ServiceType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Name())
}

// UnmarshalJSON accepts both the display name and the numeric enum value.
func (t *ServiceType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseServiceTypeName(name)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	var raw int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return ErrInvalidServiceType
	}
	parsed, err := ParseServiceType(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
