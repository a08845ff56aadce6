package oneflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"fireedge.io/gateway/models"
)

// ServiceActions are the operations accepted on a whole service.
var ServiceActions = map[string]bool{
	"recover":  true,
	"shutdown": true,
	"undeploy": true,
	"hold":     true,
	"release":  true,
	"chown":    true,
	"chgrp":    true,
	"chmod":    true,
	"rename":   true,
}

// RoleActions are the VM operations that can be applied to every VM of a role.
var RoleActions = map[string]bool{
	"terminate":            true,
	"terminate-hard":       true,
	"undeploy":             true,
	"undeploy-hard":        true,
	"hold":                 true,
	"release":              true,
	"stop":                 true,
	"suspend":              true,
	"resume":               true,
	"reboot":               true,
	"reboot-hard":          true,
	"poweroff":             true,
	"poweroff-hard":        true,
	"snapshot-create":      true,
	"snapshot-revert":      true,
	"snapshot-delete":      true,
	"disk-snapshot-create": true,
	"disk-snapshot-revert": true,
	"disk-snapshot-delete": true,
}

// DecodeServiceAction validates a service action body.
func DecodeServiceAction(raw []byte) (*models.ServiceActionRequest, error) {
	return decodeAction(raw, ServiceActions)
}

// DecodeRoleAction validates a role action body.
func DecodeRoleAction(raw []byte) (*models.ServiceActionRequest, error) {
	return decodeAction(raw, RoleActions)
}

func decodeAction(raw []byte, allowed map[string]bool) (*models.ServiceActionRequest, error) {
	var req models.ServiceActionRequest
	if err := bind(raw, &req); err != nil {
		return nil, err
	}
	if !allowed[req.Action.Perform] {
		return nil, fmt.Errorf("%w: action %q is not supported", models.ErrInvalidRequest, req.Action.Perform)
	}
	return &req, nil
}

// DecodeScale validates a scale body.
func DecodeScale(raw []byte) (*models.ScaleRequest, error) {
	var req models.ScaleRequest
	if err := bind(raw, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecodeInstantiate validates an instantiate body. An empty body is allowed.
func DecodeInstantiate(raw []byte) (*models.InstantiateRequest, error) {
	var req models.InstantiateRequest
	if len(strings.TrimSpace(string(raw))) == 0 {
		return &req, nil
	}
	if err := bind(raw, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecodeTemplate validates a service template document, both its shape and
// the relations between its roles.
func DecodeTemplate(raw []byte) (*models.ServiceTemplate, error) {
	var tmpl models.ServiceTemplate
	if err := bind(raw, &tmpl); err != nil {
		return nil, err
	}
	if err := CheckRoles(tmpl.Roles); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// CheckRoles enforces the rules the tags cannot express: unique role names,
// known parents, an acyclic parent graph and min_vms <= cardinality <= max_vms.
func CheckRoles(roles []models.Role) error {
	byName := make(map[string]*models.Role, len(roles))
	for i := range roles {
		r := &roles[i]
		if _, dup := byName[r.Name]; dup {
			return fmt.Errorf("%w: duplicated role name %q", models.ErrInvalidRequest, r.Name)
		}
		byName[r.Name] = r
	}

	for _, r := range roles {
		for _, parent := range r.Parents {
			if parent == r.Name {
				return fmt.Errorf("%w: role %q cannot be its own parent", models.ErrInvalidRequest, r.Name)
			}
			if _, ok := byName[parent]; !ok {
				return fmt.Errorf("%w: role %q has unknown parent %q", models.ErrInvalidRequest, r.Name, parent)
			}
		}
		if err := checkCardinality(r); err != nil {
			return err
		}
	}

	return checkCycles(roles, byName)
}

func checkCardinality(r models.Role) error {
	if r.MinVMs != nil && r.MaxVMs != nil && *r.MinVMs > *r.MaxVMs {
		return fmt.Errorf("%w: role %q has min_vms %d greater than max_vms %d",
			models.ErrInvalidRequest, r.Name, *r.MinVMs, *r.MaxVMs)
	}
	if r.Cardinality == nil {
		return nil
	}
	if r.MinVMs != nil && *r.Cardinality < *r.MinVMs {
		return fmt.Errorf("%w: role %q cardinality %d is below min_vms %d",
			models.ErrInvalidRequest, r.Name, *r.Cardinality, *r.MinVMs)
	}
	if r.MaxVMs != nil && *r.Cardinality > *r.MaxVMs {
		return fmt.Errorf("%w: role %q cardinality %d is above max_vms %d",
			models.ErrInvalidRequest, r.Name, *r.Cardinality, *r.MaxVMs)
	}
	return nil
}

func checkCycles(roles []models.Role, byName map[string]*models.Role) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(roles))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("%w: role dependency cycle %s",
				models.ErrInvalidRequest, strings.Join(append(path, name), " -> "))
		case done:
			return nil
		}
		state[name] = visiting
		for _, parent := range byName[name].Parents {
			if err := visit(parent, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for _, r := range roles {
		if err := visit(r.Name, nil); err != nil {
			return err
		}
	}
	return nil
}

// bind decodes and validates with gin's JSON binding, reporting failures as
// models.ErrInvalidRequest.
func bind(raw []byte, obj any) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return fmt.Errorf("%w: request body is required", models.ErrInvalidRequest)
	}
	if err := binding.JSON.BindBody(raw, obj); err != nil {
		return fmt.Errorf("%w: %s", models.ErrInvalidRequest, describe(err))
	}
	return nil
}

// describe turns validator errors into "field: rule" text.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fieldPath(fe.Namespace()), rule))
	}
	return strings.Join(parts, ", ")
}

// fieldPath drops the struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
