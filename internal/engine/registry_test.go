package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fireedge.io/gateway/models"
)

func TestDefaultRegistryCoversResources(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{
		"cluster", "datastore", "file", "group", "host", "image",
		"template", "user", "vm", "vnet", "zone",
	}, r.Resources())

	for _, resource := range r.Resources() {
		_, err := r.Lookup(resource, "info")
		assert.NoError(t, err, resource)
		_, err = r.Lookup(resource, "list")
		assert.NoError(t, err, resource)
	}
}

func TestLookupUnknown(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.Lookup("spaceship", "info")
	assert.True(t, errors.Is(err, models.ErrUnknownCommand))

	_, err = r.Lookup("vm", "teleport")
	assert.True(t, errors.Is(err, models.ErrUnknownCommand))
}

func TestListIsSorted(t *testing.T) {
	list := DefaultRegistry().List()
	require.NotEmpty(t, list)
	for i := 1; i < len(list); i++ {
		prev, cur := list[i-1], list[i]
		if prev.Resource == cur.Resource {
			assert.Less(t, prev.Action, cur.Action)
		} else {
			assert.Less(t, prev.Resource, cur.Resource)
		}
	}
}

func TestArgsCoercion(t *testing.T) {
	r := DefaultRegistry()
	vmList, err := r.Lookup("vm", "list")
	require.NoError(t, err)

	args, err := vmList.Args(Inputs{Query: url.Values{"filter": {"-1"}, "state": {"3"}}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{-1, -1, -1, 3}, args)

	migrate, err := r.Lookup("vm", "migrate")
	require.NoError(t, err)
	args, err = migrate.Args(Inputs{
		ID:   "7",
		Body: map[string]interface{}{"host": json.Number("2"), "live": true},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{7, 2, true, false, -1, 0}, args)
}

func TestArgsVMActionOrder(t *testing.T) {
	action, err := DefaultRegistry().Lookup("vm", "action")
	require.NoError(t, err)

	args, err := action.Args(Inputs{ID: "12", Body: map[string]interface{}{"action": "poweroff"}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"poweroff", 12}, args)
}

func TestArgsMissingRequired(t *testing.T) {
	info, err := DefaultRegistry().Lookup("host", "info")
	require.NoError(t, err)

	_, err = info.Args(Inputs{})
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))
	assert.Contains(t, err.Error(), `"id"`)
}

func TestArgsBadTypes(t *testing.T) {
	r := DefaultRegistry()
	info, _ := r.Lookup("host", "info")

	_, err := info.Args(Inputs{ID: "abc"})
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))

	_, err = info.Args(Inputs{ID: "1", Query: url.Values{"decrypt": {"maybe"}}})
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))

	snap, _ := r.Lookup("vm", "snapshotrevert")
	_, err = snap.Args(Inputs{ID: "1", Body: map[string]interface{}{"snapshot": 1.5}})
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))
}

func TestArgsIntList(t *testing.T) {
	alloc, err := DefaultRegistry().Lookup("user", "allocate")
	require.NoError(t, err)

	args, err := alloc.Args(Inputs{Body: map[string]interface{}{
		"username": "ana",
		"password": "pw",
		"groups":   []interface{}{json.Number("1"), "100"},
	}})
	require.NoError(t, err)
	want := []interface{}{"ana", "pw", "", []interface{}{1, 100}}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("allocate args mismatch (-want +got):\n%s", diff)
	}

	args, err = alloc.Args(Inputs{Body: map[string]interface{}{
		"username": "ana",
		"password": "pw",
	}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{}, args[3])
}

func TestArgsTemplateObject(t *testing.T) {
	alloc, err := DefaultRegistry().Lookup("vm", "allocate")
	require.NoError(t, err)

	args, err := alloc.Args(Inputs{Body: map[string]interface{}{
		"template": map[string]interface{}{"NAME": "web", "CPU": json.Number("1")},
	}})
	require.NoError(t, err)
	assert.Equal(t, "CPU=\"1\"\nNAME=\"web\"\n", args[0])
	assert.Equal(t, false, args[1])
}

func TestFileAllocateRequiresFileType(t *testing.T) {
	alloc, err := DefaultRegistry().Lookup("file", "allocate")
	require.NoError(t, err)

	_, err = alloc.Args(Inputs{Body: map[string]interface{}{
		"template":  "NAME=\"disk\"\nTYPE=\"OS\"",
		"datastore": 2,
	}})
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))

	_, err = alloc.Args(Inputs{Body: map[string]interface{}{
		"template":  "NAME=\"k\"",
		"datastore": 2,
	}})
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))

	args, err := alloc.Args(Inputs{Body: map[string]interface{}{
		"template":  map[string]interface{}{"NAME": "vmlinuz", "TYPE": "KERNEL"},
		"datastore": 2,
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, args[1])

	// Image allocate carries no such restriction.
	img, _ := DefaultRegistry().Lookup("image", "allocate")
	_, err = img.Args(Inputs{Body: map[string]interface{}{"template": "TYPE=\"OS\"", "datastore": 1}})
	assert.NoError(t, err)
}

type recordingCaller struct {
	method string
	args   []interface{}
	result interface{}
	err    error
}

func (r *recordingCaller) Call(ctx context.Context, session, method string, args ...interface{}) (interface{}, error) {
	r.method = method
	r.args = args
	return r.result, r.err
}

func TestDispatch(t *testing.T) {
	caller := &recordingCaller{result: int64(3)}
	d := NewDispatcher(caller, DefaultRegistry())

	result, err := d.Dispatch(context.Background(), "u:t", http.MethodPut, "vm", "rename",
		Inputs{ID: "3", Body: map[string]interface{}{"name": "db"}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result)
	assert.Equal(t, "one.vm.rename", caller.method)
	assert.Equal(t, []interface{}{3, "db"}, caller.args)
}

func TestDispatchMethodMismatch(t *testing.T) {
	caller := &recordingCaller{}
	d := NewDispatcher(caller, DefaultRegistry())

	_, err := d.Dispatch(context.Background(), "u:t", http.MethodGet, "vm", "rename", Inputs{ID: "3"})
	assert.True(t, errors.Is(err, models.ErrMethodNotAllowed))
	assert.Empty(t, caller.method, "engine must not be called")
}

func TestDispatchFiltersFiles(t *testing.T) {
	caller := &recordingCaller{result: map[string]interface{}{
		"IMAGE_POOL": map[string]interface{}{
			"IMAGE": []interface{}{
				map[string]interface{}{"ID": "1", "TYPE": "0"},
				map[string]interface{}{"ID": "2", "TYPE": "3"},
				map[string]interface{}{"ID": "3", "TYPE": "5"},
			},
		},
	}}
	d := NewDispatcher(caller, DefaultRegistry())

	result, err := d.Dispatch(context.Background(), "u:t", http.MethodGet, "file", "list", Inputs{})
	require.NoError(t, err)
	assert.Equal(t, "one.imagepool.info", caller.method)

	images := result.(map[string]interface{})["IMAGE_POOL"].(map[string]interface{})["IMAGE"].([]interface{})
	require.Len(t, images, 2)
	assert.Equal(t, "2", images[0].(map[string]interface{})["ID"])
	assert.Equal(t, "3", images[1].(map[string]interface{})["ID"])
}

func TestDispatchFilterSingleImage(t *testing.T) {
	caller := &recordingCaller{result: map[string]interface{}{
		"IMAGE_POOL": map[string]interface{}{
			"IMAGE": map[string]interface{}{"ID": "1", "TYPE": "4"},
		},
	}}
	d := NewDispatcher(caller, DefaultRegistry())

	result, err := d.Dispatch(context.Background(), "u:t", http.MethodGet, "file", "list", Inputs{})
	require.NoError(t, err)
	images := result.(map[string]interface{})["IMAGE_POOL"].(map[string]interface{})["IMAGE"].([]interface{})
	assert.Len(t, images, 1)
}

func TestTemplateString(t *testing.T) {
	out := TemplateString(map[string]interface{}{
		"NAME":   "vm \"one\"",
		"MEMORY": 512.0,
		"DISK": []interface{}{
			map[string]interface{}{"IMAGE_ID": "0"},
			map[string]interface{}{"IMAGE_ID": "1", "SIZE": "1024"},
		},
		"CONTEXT": map[string]interface{}{"NETWORK": "YES"},
	})

	assert.Equal(t,
		"CONTEXT=[NETWORK=\"YES\"]\n"+
			"DISK=[IMAGE_ID=\"0\"]\n"+
			"DISK=[IMAGE_ID=\"1\",SIZE=\"1024\"]\n"+
			"MEMORY=\"512\"\n"+
			"NAME=\"vm \\\"one\\\"\"\n",
		out)
}

func TestStatusForCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusForCode(CodeXMLRPCAPI))
	assert.Equal(t, http.StatusBadRequest, StatusForCode(CodeAllocate))
	assert.Equal(t, http.StatusInternalServerError, StatusForCode(0x1234))
}
