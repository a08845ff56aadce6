package engine

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"fireedge.io/gateway/models"
)

var (
	idParam = Param{Name: "id", From: FromPath, Type: TypeInt}

	poolParams = []Param{
		{Name: "filter", From: FromQuery, Type: TypeInt, Default: -2},
		{Name: "start", From: FromQuery, Type: TypeInt, Default: -1},
		{Name: "end", From: FromQuery, Type: TypeInt, Default: -1},
	}

	templateParams = []Param{
		idParam,
		{Name: "template", From: FromBody, Type: TypeString},
		{Name: "replace", From: FromBody, Type: TypeInt, Default: 0},
	}

	renameParams = []Param{
		idParam,
		{Name: "name", From: FromBody, Type: TypeString},
	}

	chownParams = []Param{
		idParam,
		{Name: "user", From: FromBody, Type: TypeInt, Default: -1},
		{Name: "group", From: FromBody, Type: TypeInt, Default: -1},
	}

	lockParams = []Param{
		idParam,
		{Name: "level", From: FromBody, Type: TypeInt, Default: 4},
		{Name: "test", From: FromBody, Type: TypeBool, Default: false},
	}
)

func chmodParams() []Param {
	params := []Param{idParam}
	for _, who := range []string{"owner", "group", "other"} {
		for _, perm := range []string{"use", "manage", "admin"} {
			params = append(params, Param{
				Name:    who + "_" + perm,
				From:    FromBody,
				Type:    TypeInt,
				Default: -1,
			})
		}
	}
	return params
}

func cmd(resource, action, httpMethod, method string, params ...Param) *Command {
	return &Command{
		Resource:   resource,
		Action:     action,
		HTTPMethod: httpMethod,
		Method:     method,
		Params:     params,
	}
}

func with(params []Param, extra ...Param) []Param {
	out := make([]Param, 0, len(params)+len(extra))
	out = append(out, params...)
	return append(out, extra...)
}

// common returns the actions most pool objects share. prefix is the method
// namespace ("one.image") and pool the pool namespace ("one.imagepool").
func common(resource, prefix, pool string, pooled bool) []*Command {
	cmds := []*Command{
		cmd(resource, "info", http.MethodGet, prefix+".info", idParam,
			Param{Name: "decrypt", From: FromQuery, Type: TypeBool, Default: false}),
		cmd(resource, "delete", http.MethodDelete, prefix+".delete", idParam),
		cmd(resource, "update", http.MethodPut, prefix+".update", templateParams...),
		cmd(resource, "rename", http.MethodPut, prefix+".rename", renameParams...),
	}
	if pooled {
		cmds = append(cmds, cmd(resource, "list", http.MethodGet, pool+".info", poolParams...))
	} else {
		cmds = append(cmds, cmd(resource, "list", http.MethodGet, pool+".info"))
	}
	return cmds
}

func owned(resource, prefix string) []*Command {
	return []*Command{
		cmd(resource, "chown", http.MethodPut, prefix+".chown", chownParams...),
		cmd(resource, "chmod", http.MethodPut, prefix+".chmod", chmodParams()...),
		cmd(resource, "lock", http.MethodPut, prefix+".lock", lockParams...),
		cmd(resource, "unlock", http.MethodPut, prefix+".unlock", idParam),
	}
}

// DefaultCommands returns the built-in command table.
func DefaultCommands() []*Command {
	var all []*Command
	all = append(all, hostCommands()...)
	all = append(all, imageCommands("image")...)
	all = append(all, fileCommands()...)
	all = append(all, datastoreCommands()...)
	all = append(all, userCommands()...)
	all = append(all, groupCommands()...)
	all = append(all, vmCommands()...)
	all = append(all, templateCommands()...)
	all = append(all, vnetCommands()...)
	all = append(all, clusterCommands()...)
	all = append(all, zoneCommands()...)
	return all
}

// DefaultRegistry returns a registry holding DefaultCommands.
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultCommands())
}

func hostCommands() []*Command {
	cmds := common("host", "one.host", "one.hostpool", false)
	return append(cmds,
		cmd("host", "allocate", http.MethodPost, "one.host.allocate",
			Param{Name: "hostname", From: FromBody, Type: TypeString},
			Param{Name: "im_mad", From: FromBody, Type: TypeString, Default: "kvm"},
			Param{Name: "vm_mad", From: FromBody, Type: TypeString, Default: "kvm"},
			Param{Name: "cluster", From: FromBody, Type: TypeInt, Default: -1}),
		cmd("host", "status", http.MethodPut, "one.host.status", idParam,
			Param{Name: "status", From: FromBody, Type: TypeInt}),
		cmd("host", "monitoring", http.MethodGet, "one.host.monitoring", idParam),
		cmd("host", "pool_monitoring", http.MethodGet, "one.hostpool.monitoring",
			Param{Name: "seconds", From: FromQuery, Type: TypeInt, Default: -1}),
	)
}

func imageCommands(resource string) []*Command {
	cmds := common(resource, "one.image", "one.imagepool", true)
	cmds = append(cmds, owned(resource, "one.image")...)
	return append(cmds,
		cmd(resource, "allocate", http.MethodPost, "one.image.allocate",
			Param{Name: "template", From: FromBody, Type: TypeString},
			Param{Name: "datastore", From: FromBody, Type: TypeInt},
			Param{Name: "skip_capacity_check", From: FromBody, Type: TypeBool, Default: false}),
		cmd(resource, "clone", http.MethodPost, "one.image.clone", idParam,
			Param{Name: "name", From: FromBody, Type: TypeString},
			Param{Name: "datastore", From: FromBody, Type: TypeInt, Default: -1}),
		cmd(resource, "enable", http.MethodPut, "one.image.enable", idParam,
			Param{Name: "enable", From: FromBody, Type: TypeBool}),
		cmd(resource, "persistent", http.MethodPut, "one.image.persistent", idParam,
			Param{Name: "persistent", From: FromBody, Type: TypeBool}),
		cmd(resource, "chtype", http.MethodPut, "one.image.chtype", idParam,
			Param{Name: "type", From: FromBody, Type: TypeString}),
		cmd(resource, "snapshotdelete", http.MethodDelete, "one.image.snapshotdelete", idParam,
			Param{Name: "snapshot", From: FromQuery, Type: TypeInt}),
		cmd(resource, "snapshotrevert", http.MethodPost, "one.image.snapshotrevert", idParam,
			Param{Name: "snapshot", From: FromBody, Type: TypeInt}),
		cmd(resource, "snapshotflatten", http.MethodPost, "one.image.snapshotflatten", idParam,
			Param{Name: "snapshot", From: FromBody, Type: TypeInt}),
	)
}

// File types an image of the "file" resource may have. In pool listings the
// engine reports them by number.
var (
	fileTypes       = map[string]bool{"KERNEL": true, "RAMDISK": true, "CONTEXT": true}
	fileTypeNumbers = map[string]bool{"3": true, "4": true, "5": true}
	typeAttribute   = regexp.MustCompile(`(?mi)^\s*TYPE\s*=\s*"?([A-Za-z_]+)"?`)
)

func fileCommands() []*Command {
	cmds := imageCommands("file")
	for _, c := range cmds {
		switch c.Action {
		case "allocate":
			c.check = checkFileTemplate
		case "list":
			c.filter = filterFiles
		}
	}
	return cmds
}

func checkFileTemplate(args []interface{}) error {
	tmpl, _ := args[0].(string)
	m := typeAttribute.FindStringSubmatch(tmpl)
	if m == nil {
		return fmt.Errorf("%w: file template needs TYPE (KERNEL, RAMDISK or CONTEXT)", models.ErrInvalidRequest)
	}
	if !fileTypes[strings.ToUpper(m[1])] {
		return fmt.Errorf("%w: file TYPE must be KERNEL, RAMDISK or CONTEXT, got %s", models.ErrInvalidRequest, m[1])
	}
	return nil
}

// filterFiles keeps only file images in an IMAGE_POOL document.
func filterFiles(result interface{}) interface{} {
	doc, ok := result.(map[string]interface{})
	if !ok {
		return result
	}
	pool, ok := doc["IMAGE_POOL"].(map[string]interface{})
	if !ok {
		return result
	}

	var images []interface{}
	switch v := pool["IMAGE"].(type) {
	case []interface{}:
		images = v
	case map[string]interface{}:
		images = []interface{}{v}
	}

	kept := make([]interface{}, 0, len(images))
	for _, img := range images {
		m, ok := img.(map[string]interface{})
		if !ok {
			continue
		}
		if t, _ := m["TYPE"].(string); fileTypeNumbers[t] {
			kept = append(kept, m)
		}
	}

	filtered := make(map[string]interface{}, len(pool))
	for k, v := range pool {
		filtered[k] = v
	}
	filtered["IMAGE"] = kept
	return map[string]interface{}{"IMAGE_POOL": filtered}
}

func datastoreCommands() []*Command {
	cmds := common("datastore", "one.datastore", "one.datastorepool", false)
	cmds = append(cmds,
		cmd("datastore", "chown", http.MethodPut, "one.datastore.chown", chownParams...),
		cmd("datastore", "chmod", http.MethodPut, "one.datastore.chmod", chmodParams()...),
	)
	return append(cmds,
		cmd("datastore", "allocate", http.MethodPost, "one.datastore.allocate",
			Param{Name: "template", From: FromBody, Type: TypeString},
			Param{Name: "cluster", From: FromBody, Type: TypeInt, Default: -1}),
		cmd("datastore", "enable", http.MethodPut, "one.datastore.enable", idParam,
			Param{Name: "enable", From: FromBody, Type: TypeBool}),
	)
}

func userCommands() []*Command {
	return []*Command{
		cmd("user", "info", http.MethodGet, "one.user.info", idParam,
			Param{Name: "decrypt", From: FromQuery, Type: TypeBool, Default: false}),
		cmd("user", "list", http.MethodGet, "one.userpool.info"),
		cmd("user", "allocate", http.MethodPost, "one.user.allocate",
			Param{Name: "username", From: FromBody, Type: TypeString},
			Param{Name: "password", From: FromBody, Type: TypeString},
			Param{Name: "driver", From: FromBody, Type: TypeString, Default: ""},
			Param{Name: "groups", From: FromBody, Type: TypeIntList, Default: []interface{}{}}),
		cmd("user", "delete", http.MethodDelete, "one.user.delete", idParam),
		cmd("user", "passwd", http.MethodPut, "one.user.passwd", idParam,
			Param{Name: "password", From: FromBody, Type: TypeString}),
		cmd("user", "update", http.MethodPut, "one.user.update", templateParams...),
		cmd("user", "chauth", http.MethodPut, "one.user.chauth", idParam,
			Param{Name: "driver", From: FromBody, Type: TypeString},
			Param{Name: "password", From: FromBody, Type: TypeString, Default: ""}),
		cmd("user", "quota", http.MethodPut, "one.user.quota", idParam,
			Param{Name: "template", From: FromBody, Type: TypeString}),
		cmd("user", "chgrp", http.MethodPut, "one.user.chgrp", idParam,
			Param{Name: "group", From: FromBody, Type: TypeInt}),
		cmd("user", "addgroup", http.MethodPut, "one.user.addgroup", idParam,
			Param{Name: "group", From: FromBody, Type: TypeInt}),
		cmd("user", "delgroup", http.MethodPut, "one.user.delgroup", idParam,
			Param{Name: "group", From: FromBody, Type: TypeInt}),
		cmd("user", "enable", http.MethodPut, "one.user.enable", idParam,
			Param{Name: "enable", From: FromBody, Type: TypeBool}),
	}
}

func groupCommands() []*Command {
	return []*Command{
		cmd("group", "info", http.MethodGet, "one.group.info", idParam,
			Param{Name: "decrypt", From: FromQuery, Type: TypeBool, Default: false}),
		cmd("group", "list", http.MethodGet, "one.grouppool.info"),
		cmd("group", "allocate", http.MethodPost, "one.group.allocate",
			Param{Name: "name", From: FromBody, Type: TypeString}),
		cmd("group", "delete", http.MethodDelete, "one.group.delete", idParam),
		cmd("group", "update", http.MethodPut, "one.group.update", templateParams...),
		cmd("group", "quota", http.MethodPut, "one.group.quota", idParam,
			Param{Name: "template", From: FromBody, Type: TypeString}),
		cmd("group", "addadmin", http.MethodPut, "one.group.addadmin", idParam,
			Param{Name: "user", From: FromBody, Type: TypeInt}),
		cmd("group", "deladmin", http.MethodPut, "one.group.deladmin", idParam,
			Param{Name: "user", From: FromBody, Type: TypeInt}),
	}
}

func vmCommands() []*Command {
	cmds := []*Command{
		cmd("vm", "info", http.MethodGet, "one.vm.info", idParam,
			Param{Name: "decrypt", From: FromQuery, Type: TypeBool, Default: false}),
		cmd("vm", "list", http.MethodGet, "one.vmpool.info", with(poolParams,
			Param{Name: "state", From: FromQuery, Type: TypeInt, Default: -1})...),
		cmd("vm", "allocate", http.MethodPost, "one.vm.allocate",
			Param{Name: "template", From: FromBody, Type: TypeString},
			Param{Name: "hold", From: FromBody, Type: TypeBool, Default: false}),
		// The engine takes the action name before the VM id.
		cmd("vm", "action", http.MethodPut, "one.vm.action",
			Param{Name: "action", From: FromBody, Type: TypeString}, idParam),
		cmd("vm", "deploy", http.MethodPut, "one.vm.deploy", idParam,
			Param{Name: "host", From: FromBody, Type: TypeInt},
			Param{Name: "enforce", From: FromBody, Type: TypeBool, Default: false},
			Param{Name: "datastore", From: FromBody, Type: TypeInt, Default: -1}),
		cmd("vm", "migrate", http.MethodPut, "one.vm.migrate", idParam,
			Param{Name: "host", From: FromBody, Type: TypeInt},
			Param{Name: "live", From: FromBody, Type: TypeBool, Default: false},
			Param{Name: "enforce", From: FromBody, Type: TypeBool, Default: false},
			Param{Name: "datastore", From: FromBody, Type: TypeInt, Default: -1},
			Param{Name: "type", From: FromBody, Type: TypeInt, Default: 0}),
		cmd("vm", "rename", http.MethodPut, "one.vm.rename", renameParams...),
		cmd("vm", "update", http.MethodPut, "one.vm.update", templateParams...),
		cmd("vm", "resize", http.MethodPut, "one.vm.resize", idParam,
			Param{Name: "template", From: FromBody, Type: TypeString},
			Param{Name: "enforce", From: FromBody, Type: TypeBool, Default: false}),
		cmd("vm", "snapshotcreate", http.MethodPost, "one.vm.snapshotcreate", idParam,
			Param{Name: "name", From: FromBody, Type: TypeString, Default: ""}),
		cmd("vm", "snapshotrevert", http.MethodPost, "one.vm.snapshotrevert", idParam,
			Param{Name: "snapshot", From: FromBody, Type: TypeInt}),
		cmd("vm", "snapshotdelete", http.MethodDelete, "one.vm.snapshotdelete", idParam,
			Param{Name: "snapshot", From: FromQuery, Type: TypeInt}),
		cmd("vm", "disksaveas", http.MethodPost, "one.vm.disksaveas", idParam,
			Param{Name: "disk", From: FromBody, Type: TypeInt},
			Param{Name: "name", From: FromBody, Type: TypeString},
			Param{Name: "type", From: FromBody, Type: TypeString, Default: ""},
			Param{Name: "snapshot", From: FromBody, Type: TypeInt, Default: -1}),
		cmd("vm", "attach", http.MethodPut, "one.vm.attach", idParam,
			Param{Name: "template", From: FromBody, Type: TypeString}),
		cmd("vm", "detach", http.MethodPut, "one.vm.detach", idParam,
			Param{Name: "disk", From: FromBody, Type: TypeInt}),
		cmd("vm", "attachnic", http.MethodPut, "one.vm.attachnic", idParam,
			Param{Name: "template", From: FromBody, Type: TypeString}),
		cmd("vm", "detachnic", http.MethodPut, "one.vm.detachnic", idParam,
			Param{Name: "nic", From: FromBody, Type: TypeInt}),
		cmd("vm", "monitoring", http.MethodGet, "one.vm.monitoring", idParam),
	}
	return append(cmds, owned("vm", "one.vm")...)
}

func templateCommands() []*Command {
	cmds := common("template", "one.template", "one.templatepool", true)
	cmds = append(cmds, owned("template", "one.template")...)
	// info takes an extra "extended" flag before decrypt.
	for _, c := range cmds {
		if c.Action == "info" {
			c.Params = []Param{
				idParam,
				{Name: "extended", From: FromQuery, Type: TypeBool, Default: false},
				{Name: "decrypt", From: FromQuery, Type: TypeBool, Default: false},
			}
		}
		if c.Action == "delete" {
			c.Params = []Param{
				idParam,
				{Name: "recursive", From: FromQuery, Type: TypeBool, Default: false},
			}
		}
	}
	return append(cmds,
		cmd("template", "allocate", http.MethodPost, "one.template.allocate",
			Param{Name: "template", From: FromBody, Type: TypeString}),
		cmd("template", "clone", http.MethodPost, "one.template.clone", idParam,
			Param{Name: "name", From: FromBody, Type: TypeString},
			Param{Name: "recursive", From: FromBody, Type: TypeBool, Default: false}),
		cmd("template", "instantiate", http.MethodPost, "one.template.instantiate", idParam,
			Param{Name: "name", From: FromBody, Type: TypeString, Default: ""},
			Param{Name: "hold", From: FromBody, Type: TypeBool, Default: false},
			Param{Name: "template", From: FromBody, Type: TypeString, Default: ""},
			Param{Name: "persistent", From: FromBody, Type: TypeBool, Default: false}),
	)
}

func vnetCommands() []*Command {
	cmds := common("vnet", "one.vn", "one.vnpool", true)
	cmds = append(cmds, owned("vnet", "one.vn")...)
	return append(cmds,
		cmd("vnet", "allocate", http.MethodPost, "one.vn.allocate",
			Param{Name: "template", From: FromBody, Type: TypeString},
			Param{Name: "cluster", From: FromBody, Type: TypeInt, Default: -1}),
		cmd("vnet", "addar", http.MethodPut, "one.vn.add_ar", idParam,
			Param{Name: "template", From: FromBody, Type: TypeString}),
		cmd("vnet", "rmar", http.MethodDelete, "one.vn.rm_ar", idParam,
			Param{Name: "ar", From: FromQuery, Type: TypeInt}),
		cmd("vnet", "updatear", http.MethodPut, "one.vn.update_ar", idParam,
			Param{Name: "template", From: FromBody, Type: TypeString}),
		cmd("vnet", "reserve", http.MethodPut, "one.vn.reserve", idParam,
			Param{Name: "template", From: FromBody, Type: TypeString}),
		cmd("vnet", "freear", http.MethodPut, "one.vn.free_ar", idParam,
			Param{Name: "ar", From: FromBody, Type: TypeInt}),
		cmd("vnet", "hold", http.MethodPut, "one.vn.hold", idParam,
			Param{Name: "template", From: FromBody, Type: TypeString}),
		cmd("vnet", "release", http.MethodPut, "one.vn.release", idParam,
			Param{Name: "template", From: FromBody, Type: TypeString}),
	)
}

func clusterCommands() []*Command {
	cmds := common("cluster", "one.cluster", "one.clusterpool", false)
	cmds = append(cmds,
		cmd("cluster", "allocate", http.MethodPost, "one.cluster.allocate",
			Param{Name: "name", From: FromBody, Type: TypeString}),
	)
	for _, member := range []string{"host", "datastore", "vnet"} {
		cmds = append(cmds,
			cmd("cluster", "add"+member, http.MethodPut, "one.cluster.add"+member, idParam,
				Param{Name: member, From: FromBody, Type: TypeInt}),
			cmd("cluster", "del"+member, http.MethodPut, "one.cluster.del"+member, idParam,
				Param{Name: member, From: FromBody, Type: TypeInt}),
		)
	}
	return cmds
}

func zoneCommands() []*Command {
	cmds := common("zone", "one.zone", "one.zonepool", false)
	return append(cmds,
		cmd("zone", "allocate", http.MethodPost, "one.zone.allocate",
			Param{Name: "template", From: FromBody, Type: TypeString}),
		cmd("zone", "raftstatus", http.MethodGet, "one.zone.raftstatus"),
	)
}
