package catalog

import (
	"sort"
)

// FieldID identifies a filterable audience attribute.
type FieldID string

const (
	FieldHasPurchased          FieldID = "has_purchased"
	FieldTotalSpent            FieldID = "total_spent"
	FieldEventsAttended        FieldID = "events_attended"
	FieldDaysSinceLastPurchase FieldID = "days_since_last_purchase"
	FieldPassType              FieldID = "pass_type"
	FieldEngagementLevel       FieldID = "engagement_level"
	FieldEmailOpens            FieldID = "email_opens"
	FieldEmailClicks           FieldID = "email_clicks"
)

// FieldType determines which operators are legal for a field.
type FieldType string

const (
	TypeBoolean     FieldType = "boolean"
	TypeNumeric     FieldType = "numeric"
	TypeCategorical FieldType = "categorical"
)

// Operator is a comparison applied to a field's value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpBetween     Operator = "between"
)

// Predicate is a single (field, operator, value) filter condition.
// Predicates in a segment are AND-combined in order.
type Predicate struct {
	Field    FieldID  `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// FieldSpec describes one catalog entry: a field, its type, and the
// operators legal for it.
type FieldSpec struct {
	Field       FieldID    `json:"field"`
	Type        FieldType  `json:"type"`
	Operators   []Operator `json:"operators"`
	Description string     `json:"description"`
}

var operatorsByType = map[FieldType][]Operator{
	TypeBoolean:     {OpEquals},
	TypeNumeric:     {OpGreaterThan, OpLessThan, OpEquals, OpBetween},
	TypeCategorical: {OpEquals, OpNotEquals},
}

// specs is the process-wide catalog. It is built once and never mutated;
// adding a field means adding an entry here and registering a resolver for it.
var specs = map[FieldID]FieldSpec{
	FieldHasPurchased: {
		Field:       FieldHasPurchased,
		Type:        TypeBoolean,
		Description: "recipient has made at least one purchase",
	},
	FieldTotalSpent: {
		Field:       FieldTotalSpent,
		Type:        TypeNumeric,
		Description: "total amount spent across all purchases",
	},
	FieldEventsAttended: {
		Field:       FieldEventsAttended,
		Type:        TypeNumeric,
		Description: "number of events attended",
	},
	FieldDaysSinceLastPurchase: {
		Field:       FieldDaysSinceLastPurchase,
		Type:        TypeNumeric,
		Description: "days since the most recent purchase; greater_than matches recipients whose last purchase is older than N days",
	},
	FieldPassType: {
		Field:       FieldPassType,
		Type:        TypeCategorical,
		Description: "category of the recipient's pass",
	},
	FieldEngagementLevel: {
		Field:       FieldEngagementLevel,
		Type:        TypeCategorical,
		Description: "engagement level from the latest snapshot",
	},
	FieldEmailOpens: {
		Field:       FieldEmailOpens,
		Type:        TypeNumeric,
		Description: "email opens from the latest engagement snapshot",
	},
	FieldEmailClicks: {
		Field:       FieldEmailClicks,
		Type:        TypeNumeric,
		Description: "email clicks from the latest engagement snapshot",
	},
}

func init() {
	for id, spec := range specs {
		spec.Operators = operatorsByType[spec.Type]
		specs[id] = spec
	}
}

// Lookup returns the spec for a field.
func Lookup(field FieldID) (FieldSpec, bool) {
	spec, ok := specs[field]
	return spec, ok
}

// Fields returns all catalog entries sorted by field ID.
func Fields() []FieldSpec {
	out := make([]FieldSpec, 0, len(specs))
	for _, spec := range specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func legalOperator(spec FieldSpec, op Operator) bool {
	for _, legal := range spec.Operators {
		if legal == op {
			return true
		}
	}
	return false
}

// ValidatePredicate checks a predicate against the catalog: the field must
// exist, the operator must be legal for the field's type, and the value must
// have the shape the type and operator require. An unknown field or illegal
// operator is a *ConfigError; a malformed value is a *ValueError.
func ValidatePredicate(p Predicate) error {
	spec, ok := Lookup(p.Field)
	if !ok {
		return &ConfigError{Field: p.Field, Reason: "unknown field"}
	}
	if !legalOperator(spec, p.Operator) {
		return &ConfigError{Field: p.Field, Operator: p.Operator, Reason: "operator not legal for " + string(spec.Type) + " field"}
	}

	switch spec.Type {
	case TypeBoolean:
		if _, err := BoolValue(p.Value); err != nil {
			return &ValueError{Field: p.Field, Reason: err.Error()}
		}
	case TypeNumeric:
		if p.Operator == OpBetween {
			if _, _, err := RangeValue(p.Value); err != nil {
				return &ValueError{Field: p.Field, Reason: err.Error()}
			}
		} else {
			if _, err := NumberValue(p.Value); err != nil {
				return &ValueError{Field: p.Field, Reason: err.Error()}
			}
		}
	case TypeCategorical:
		if _, err := StringValue(p.Value); err != nil {
			return &ValueError{Field: p.Field, Reason: err.Error()}
		}
	}
	return nil
}

// ValidatePredicates validates each predicate in order and returns the first
// failure. A predicate that fails validation must fail the whole operation;
// silently skipping it would silently overcount the audience.
func ValidatePredicates(predicates []Predicate) error {
	for _, p := range predicates {
		if err := ValidatePredicate(p); err != nil {
			return err
		}
	}
	return nil
}
