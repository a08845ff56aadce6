package models

// ServiceActionRequest is the body of a oneflow service or role action.
//
//	{"action": {"perform": "recover", "params": {...}}}
type ServiceActionRequest struct {
	Action ActionBody `json:"action" binding:"required"`
}

// ActionBody names the operation and its free-form parameters.
type ActionBody struct {
	Perform string         `json:"perform" binding:"required"`
	Params  map[string]any `json:"params,omitempty"`
}

// ScaleRequest changes the cardinality of a service role.
type ScaleRequest struct {
	RoleName    string `json:"role_name" binding:"required"`
	Cardinality *int   `json:"cardinality" binding:"required,min=0"`
	Force       bool   `json:"force,omitempty"`
}

// InstantiateRequest is the optional body of a service template instantiation.
type InstantiateRequest struct {
	MergeTemplate map[string]any `json:"merge_template,omitempty"`
}

// ServiceTemplate is the subset of a oneflow service template document the
// gateway checks before forwarding. Unknown fields pass through untouched.
type ServiceTemplate struct {
	Name              string            `json:"name" binding:"required,max=128"`
	Description       string            `json:"description,omitempty"`
	Deployment        string            `json:"deployment,omitempty" binding:"omitempty,oneof=none straight"`
	ShutdownAction    string            `json:"shutdown_action,omitempty" binding:"omitempty,oneof=terminate terminate-hard shutdown shutdown-hard"`
	ReadyStatusGate   bool              `json:"ready_status_gate,omitempty"`
	AutomaticDeletion bool              `json:"automatic_deletion,omitempty"`
	Roles             []Role            `json:"roles" binding:"required,min=1,dive"`
	Networks          map[string]string `json:"networks,omitempty"`
	CustomAttrs       map[string]string `json:"custom_attrs,omitempty"`
}

// Role is a group of VMs inside a service, created from one VM template.
type Role struct {
	Name               string           `json:"name" binding:"required,max=128"`
	VMTemplate         *int             `json:"vm_template" binding:"required,min=0"`
	Cardinality        *int             `json:"cardinality,omitempty" binding:"omitempty,min=0"`
	Parents            []string         `json:"parents,omitempty"`
	MinVMs             *int             `json:"min_vms,omitempty" binding:"omitempty,min=0"`
	MaxVMs             *int             `json:"max_vms,omitempty" binding:"omitempty,min=0"`
	ShutdownAction     string           `json:"shutdown_action,omitempty" binding:"omitempty,oneof=terminate terminate-hard shutdown shutdown-hard"`
	VMTemplateContents string           `json:"vm_template_contents,omitempty"`
	ElasticityPolicies []map[string]any `json:"elasticity_policies,omitempty"`
	ScheduledPolicies  []map[string]any `json:"scheduled_policies,omitempty"`
}
