package provision

import (
	"os"
	"path/filepath"
	"testing"
)

// fakeCLI is a stand-in for both provisioning CLIs. It inspects its
// arguments the way the real tools would and prints canned output.
const fakeCLI = `#!/bin/sh
cmd="$1"
case "$cmd" in
create)
  echo "reading template $2"
  if grep -q "name: stubborn" "$2"; then
    echo "waiting"
    trap '' TERM
    exec sleep 30
  fi
  if grep -q "name: chatty" "$2"; then
    echo "ID: 42"
    echo "configuring hosts"
    echo "provision ready"
    exit 0
  fi
  if grep -q "name: slow" "$2"; then
    echo "waiting"
    exec sleep 30
  fi
  if grep -q "name: broken" "$2"; then
    echo "ERROR: provider unreachable" >&2
    exit 2
  fi
  echo "ID: 42"
  echo "provision ready" >&2
  ;;
delete)
  echo "deleting provision $2 $5"
  ;;
list)
  echo '[{"ID":"1","NAME":"edge"}]'
  ;;
show)
  if [ "$2" = "404" ]; then
    echo "Provision 404 not found" >&2
    exit 1
  fi
  echo "{\"ID\":\"$2\",\"ARGS\":\"$*\"}"
  ;;
host)
  echo "host $2 $3 done"
  ;;
fail)
  exit 3
  ;;
*)
  echo "unknown command $cmd" >&2
  exit 1
  ;;
esac
`

// installFakeCLI writes the fake tools to a temp dir placed first on PATH.
func installFakeCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"oneprovision", "oneprovider"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(fakeCLI), 0o755); err != nil {
			t.Fatalf("Failed to write fake CLI: %v", err)
		}
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return dir
}
