package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ObjectPurpose captures high-level intent for storage layout decisions.
type ObjectPurpose string

const (
	PurposeOrderSnapshot ObjectPurpose = "order-snapshot"
)

// PathParams provide the identifiers used to compose storage object keys.
type PathParams struct {
	OrderID     string
	OrderNumber string
	CreatedAt   time.Time
}

// PathBuilder composes the object path for a given purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[ObjectPurpose]PathBuilder{
		PurposeOrderSnapshot: buildOrderSnapshotPath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose ObjectPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose ObjectPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported object purpose %q", purpose)
	}
	return builder(params)
}

// orders/2024/07/M-00042_01HORDER.yaml
func buildOrderSnapshotPath(params PathParams) (string, error) {
	orderID, err := validateSegment("orderID", params.OrderID)
	if err != nil {
		return "", err
	}
	if params.CreatedAt.IsZero() {
		return "", fmt.Errorf("storage: createdAt is required")
	}
	name := orderID
	if number := strings.TrimSpace(params.OrderNumber); number != "" {
		if number, err = validateSegment("orderNumber", number); err != nil {
			return "", err
		}
		name = number + "_" + orderID
	}
	created := params.CreatedAt.UTC()
	return fmt.Sprintf("orders/%04d/%02d/%s.yaml", created.Year(), int(created.Month()), name), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
