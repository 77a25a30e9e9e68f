package models

import "encoding/json"

// ConfigKind tags the operator-specific charging configuration variant
type ConfigKind string

const (
	ConfigKindGP      ConfigKind = "GP"
	ConfigKindRobi    ConfigKind = "ROBI"
	ConfigKindUnknown ConfigKind = "UNKNOWN"
)

// GPConfig is the charging configuration for Grameenphone subscriptions
type GPConfig struct {
	Keyword string `json:"keyword"`
}

// RobiConfig is the charging configuration for Robi subscriptions.
// All fields are required by the Robi renewSubscription API.
type RobiConfig struct {
	APIKey               string `json:"apiKey"`
	Username             string `json:"username"`
	OnBehalfOf           string `json:"onBehalfOf"`
	PurchaseCategoryCode string `json:"purchaseCategoryCode"`
	Channel              string `json:"channel"`
	SubscriptionID       string `json:"subscriptionID"`
	UnSubURL             string `json:"unSubURL"`
	ContactInfo          string `json:"contactInfo"`
}

// ChargingConfig is a tagged variant over the operator-specific config record.
// The raw payload is preserved so a round trip through the job queue and the
// result ledger never loses fields this service does not model.
type ChargingConfig struct {
	Kind ConfigKind      `json:"kind"`
	Raw  json.RawMessage `json:"config,omitempty"`
}

// IsPresent reports whether any config record was attached to the subscription
func (c ChargingConfig) IsPresent() bool {
	return len(c.Raw) > 0 && string(c.Raw) != "null"
}

// GP decodes the GP variant. Returns the zero value when decoding fails;
// GP renewals tolerate a missing keyword.
func (c ChargingConfig) GP() GPConfig {
	var cfg GPConfig
	if c.IsPresent() {
		_ = json.Unmarshal(c.Raw, &cfg)
	}
	return cfg
}

// Robi decodes the Robi variant, reporting whether a usable record was found
func (c ChargingConfig) Robi() (RobiConfig, bool) {
	var cfg RobiConfig
	if !c.IsPresent() {
		return cfg, false
	}
	if err := json.Unmarshal(c.Raw, &cfg); err != nil {
		return cfg, false
	}
	if cfg.APIKey == "" || cfg.Username == "" {
		return cfg, false
	}
	return cfg, true
}

// ParseChargingConfig builds the tagged variant from a raw config record and
// the operator it belongs to
func ParseChargingConfig(operator OperatorCode, raw json.RawMessage) ChargingConfig {
	kind := ConfigKindUnknown
	switch operator {
	case OperatorGP:
		kind = ConfigKindGP
	case OperatorRobi, OperatorRobiMife:
		kind = ConfigKindRobi
	}
	return ChargingConfig{Kind: kind, Raw: raw}
}
