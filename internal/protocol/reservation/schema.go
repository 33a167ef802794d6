package reservation

import (
	"fmt"
	"strconv"

	"resv_relay/internal/model"
)

// Schema versions the status vocabularies. v2 adds the alternative-time negotiation
// statuses; rumors without a schema tag are read as v1.
type Schema int

const (
	SchemaV1 Schema = 1
	SchemaV2 Schema = 2

	DefaultSchema = SchemaV2
)

var responseStatuses = map[Schema]map[model.Status]bool{
	SchemaV1: {
		model.StatusConfirmed: true,
		model.StatusDeclined:  true,
		model.StatusCancelled: true,
	},
	SchemaV2: {
		model.StatusConfirmed: true,
		model.StatusDeclined:  true,
		model.StatusCancelled: true,
		model.StatusSuggested: true,
		model.StatusExpired:   true,
	},
}

var modificationStatuses = map[Schema]map[model.Status]bool{
	SchemaV1: {
		model.StatusAccepted: true,
		model.StatusDeclined: true,
	},
	SchemaV2: {
		model.StatusAccepted: true,
		model.StatusDeclined: true,
		model.StatusExpired:  true,
	},
}

func ParseSchema(s string) (Schema, error) {
	if s == "" {
		return SchemaV1, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("schema %q: %w", s, err)
	}
	sc := Schema(v)
	if _, ok := responseStatuses[sc]; !ok {
		return 0, fmt.Errorf("schema %d not supported", v)
	}
	return sc, nil
}

func (s Schema) String() string {
	return strconv.Itoa(int(s))
}

func (s Schema) allowsResponse(st model.Status) bool {
	return responseStatuses[s][st]
}

func (s Schema) allowsModification(st model.Status) bool {
	return modificationStatuses[s][st]
}
