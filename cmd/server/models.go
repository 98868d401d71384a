package main

import (
	"time"

	"github.com/retrofor/Siamese/multitenantengine"
	"github.com/retrofor/Siamese/rules"
)

// CreateTenantRequest is the body of POST /tenants.
// Definition is optional; when present the first schema version is created.
type CreateTenantRequest struct {
	Name       string                   `json:"name"`
	Definition multitenantengine.Schema `json:"definition,omitempty"`
}

// TenantResponse represents a tenant in API responses
type TenantResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	ReadOnly  bool       `json:"readOnly,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// TenantsListResponse represents the response for listing tenants
type TenantsListResponse struct {
	Tenants []TenantResponse `json:"tenants"`
}

// UpdateSchemaRequest is the body of POST /tenants/{tenantId}/schema
type UpdateSchemaRequest struct {
	Definition multitenantengine.Schema `json:"definition"`
}

// SchemaResponse represents a schema in API responses
type SchemaResponse struct {
	Version     int                      `json:"version"`
	Status      string                   `json:"status,omitempty"`
	Definition  multitenantengine.Schema `json:"definition,omitempty"`
	RulesLoaded *int                     `json:"rulesLoaded,omitempty"`
}

// RulesListResponse lists rules in execution order
type RulesListResponse struct {
	Rules []rules.RuleDocument `json:"rules"`
}

// EvaluateRequest is the body of POST /evaluate
type EvaluateRequest struct {
	TenantID string         `json:"tenantId"`
	Facts    map[string]any `json:"facts"`
}

// EffectResponse is one entry of the effect log
type EffectResponse struct {
	Kind      rules.EffectKind       `json:"kind"`
	RuleID    string                 `json:"ruleId"`
	Message   string                 `json:"message,omitempty"`
	Field     string                 `json:"field,omitempty"`
	Value     *rules.Value           `json:"value,omitempty"`
	Endpoint  string                 `json:"endpoint,omitempty"`
	EventType string                 `json:"eventType,omitempty"`
	Payload   map[string]rules.Value `json:"payload,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// EvaluateResponse is the outcome of one evaluation
type EvaluateResponse struct {
	Outputs        rules.FactMap    `json:"outputs"`
	Effects        []EffectResponse `json:"effects"`
	Fired          []string         `json:"fired"`
	EvaluationTime string           `json:"evaluationTime"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string           `json:"status"`
	Database      string           `json:"database,omitempty"`
	Error         string           `json:"error,omitempty"`
	TenantsLoaded int              `json:"tenantsLoaded"`
	Counters      map[string]int64 `json:"counters,omitempty"`
}

func newEffectResponse(e rules.Effect) EffectResponse {
	resp := EffectResponse{
		Kind:      e.Kind,
		RuleID:    e.RuleID,
		Message:   e.Message,
		Field:     e.Field,
		Endpoint:  e.Endpoint,
		EventType: e.EventType,
		Payload:   e.Payload,
	}
	if !e.Value.IsMissing() {
		v := e.Value
		resp.Value = &v
	}
	if e.Err != nil {
		resp.Error = e.Err.Error()
	}
	return resp
}

func newEvaluateResponse(result *rules.Result, elapsed time.Duration) EvaluateResponse {
	effects := make([]EffectResponse, 0, len(result.Effects))
	for _, e := range result.Effects {
		effects = append(effects, newEffectResponse(e))
	}

	fired := result.Fired
	if fired == nil {
		fired = []string{}
	}

	return EvaluateResponse{
		Outputs:        result.Outputs,
		Effects:        effects,
		Fired:          fired,
		EvaluationTime: elapsed.String(),
	}
}
