package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Intake keys.
const (
	BusinessName           = "business_name"
	TradeName              = "trade_name"
	EntityType             = "entity_type"
	State                  = "state"
	StreetAddress          = "street_address"
	MailingAddress         = "mailing_address"
	CityStateZip           = "city_state_zip"
	County                 = "county"
	ResponsiblePartyName   = "responsible_party_name"
	ResponsiblePartySSN    = "responsible_party_ssn"
	FormationDate          = "formation_date"
	BusinessPurpose        = "business_purpose"
	PrincipalActivity      = "principal_activity"
	NumEmployees           = "num_employees"
	NumMembers             = "num_members"
	FiscalYearEnd          = "fiscal_year_end"
	RegisteredAgentName    = "registered_agent_name"
	RegisteredAgentAddress = "registered_agent_address"
	OrganizerName          = "organizer_name"
	ManagementStructure    = "management_structure"
)

// ErrInvalid marks intake that cannot drive document selection.
var ErrInvalid = errors.New("invalid intake")

var aliases = map[string]string{
	"legal_name":         BusinessName,
	"company_name":       BusinessName,
	"dba":                TradeName,
	"formation_state":    State,
	"state_of_formation": State,
	"address":            StreetAddress,
	"responsible_party":  ResponsiblePartyName,
	"ssn":                ResponsiblePartySSN,
	"purpose":            BusinessPurpose,
	"employees":          NumEmployees,
	"members":            NumMembers,
	"registered_agent":   RegisteredAgentName,
	"organizer":          OrganizerName,
	"management":         ManagementStructure,
	"principal_business": PrincipalActivity,
}

// Intake is the business-formation data submitted by a caller.
type Intake map[string]string

// Normalize returns a trimmed copy with alias keys folded onto their
// canonical names. Canonical keys win over aliases. The receiver is not
// modified.
func (in Intake) Normalize() Intake {
	out := make(Intake, len(in))
	for k, v := range in {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		if canon, ok := aliases[key]; ok {
			if _, exists := in[canon]; exists {
				continue
			}
			key = canon
		}
		out[key] = strings.TrimSpace(v)
	}
	if v, ok := out[State]; ok {
		out[State] = strings.ToUpper(v)
	}
	return out
}

// Get returns the trimmed value for key, or "".
func (in Intake) Get(key string) string {
	return strings.TrimSpace(in[key])
}

// Validate ensures the fields needed for form selection are present.
func (in Intake) Validate() error {
	var missing []string
	if in.Get(BusinessName) == "" {
		missing = append(missing, BusinessName)
	}
	if in.Get(EntityType) == "" {
		missing = append(missing, EntityType)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// Entity returns the canonical entity type: LLC, CORP or the upper-cased input.
func (in Intake) Entity() string {
	return CanonicalEntity(in.Get(EntityType))
}

// CanonicalEntity folds the common spellings of an entity type.
func CanonicalEntity(v string) string {
	s := strings.ToUpper(strings.TrimSpace(v))
	s = strings.NewReplacer(".", "", ",", "", "-", " ").Replace(s)
	switch s {
	case "LLC", "L L C", "LIMITED LIABILITY COMPANY", "SINGLE MEMBER LLC", "MULTI MEMBER LLC":
		return "LLC"
	case "CORP", "CORPORATION", "INC", "INCORPORATED", "C CORP", "S CORP", "C CORPORATION", "S CORPORATION":
		return "CORP"
	}
	return s
}

// Keys returns the populated keys in sorted order.
func (in Intake) Keys() []string {
	keys := make([]string, 0, len(in))
	for k, v := range in {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// FromMap flattens a decoded JSON object. Numbers and booleans are
// stringified, null values dropped and nested values kept as JSON text.
func FromMap(m map[string]any) Intake {
	in := make(Intake, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case nil:
		case string:
			in[k] = t
		case float64:
			in[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			in[k] = strconv.FormatBool(t)
		default:
			raw, _ := json.Marshal(t)
			in[k] = string(raw)
		}
	}
	return in
}

// FromJSON decodes a JSON object into an Intake.
func FromJSON(data []byte) (Intake, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalid)
	}
	return FromMap(m), nil
}
