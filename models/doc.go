// Package models provides shared data structures for the fireedge gateway.
//
// The gateway mirrors backend records (services, roles, service templates,
// hosts, images, files, users, datastores) without owning their lifecycle.
// Types in this package describe what the gateway itself stores (sessions,
// provision jobs) and the request payloads it validates before forwarding
// them to the backends.
package models
