package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"fireedge.io/gateway/internal/logging"
	"fireedge.io/gateway/internal/upstream"
	"fireedge.io/gateway/models"
)

// Name is the upstream label used for metrics, logs and errors.
const Name = "provision"

// Runner invokes the provisioning CLIs synchronously.
type Runner struct {
	provision string
	provider  string
	endpoint  string
	timeout   time.Duration
	logger    *zap.Logger
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// ProvisionCommand and ProviderCommand are the two CLI executables.
	ProvisionCommand string
	ProviderCommand  string

	// Endpoint is the engine XML-RPC endpoint handed to the CLI.
	Endpoint string

	// Timeout bounds every synchronous call.
	Timeout time.Duration

	Logger *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runner{
		provision: opts.ProvisionCommand,
		provider:  opts.ProviderCommand,
		endpoint:  opts.Endpoint,
		timeout:   opts.Timeout,
		logger:    opts.Logger,
	}
}

// AuthArgs returns the credential flags appended to every CLI call.
func (r *Runner) AuthArgs(creds upstream.Credentials) []string {
	return []string{"--user", creds.Username, "--password", creds.Password, "--endpoint", r.endpoint}
}

// Run executes command with args and the auth flags, returning stdout.
// A non-zero exit becomes a *models.UpstreamError carrying the CLI's
// error text.
func (r *Runner) Run(ctx context.Context, creds upstream.Credentials, command string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	operation := command
	if len(args) > 0 {
		operation += "." + args[0]
	}
	start := time.Now()

	full := append(append([]string{}, args...), r.AuthArgs(creds)...)
	cmd := exec.CommandContext(ctx, command, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.FromContext(ctx).Debug("running provision command",
		zap.String(logging.FieldCommand, command+" "+strings.Join(args, " ")))

	err := cmd.Run()
	upstream.ObserveCall(Name, operation, start, err)
	if err == nil {
		return stdout.Bytes(), nil
	}

	if ctx.Err() != nil {
		return nil, &models.UpstreamError{
			Upstream: Name,
			Status:   http.StatusGatewayTimeout,
			Message:  fmt.Sprintf("%s did not finish in %s", operation, r.timeout),
		}
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrUpstreamUnavailable, Name, err)
	}

	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = strings.TrimSpace(stdout.String())
	}
	if msg == "" {
		msg = fmt.Sprintf("%s exited with code %d", operation, exitErr.ExitCode())
	}

	status := http.StatusInternalServerError
	if strings.Contains(strings.ToLower(msg), "not found") {
		status = http.StatusNotFound
	}
	return nil, &models.UpstreamError{
		Upstream: Name,
		Status:   status,
		Code:     exitErr.ExitCode(),
		Message:  msg,
	}
}

// RunJSON runs a query with --json and decodes its output.
func (r *Runner) RunJSON(ctx context.Context, creds upstream.Credentials, command string, args ...string) (interface{}, error) {
	out, err := r.Run(ctx, creds, command, append(args, "--json")...)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return map[string]interface{}{}, nil
	}

	var doc interface{}
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, &models.UpstreamError{
			Upstream: Name,
			Status:   http.StatusBadGateway,
			Message:  fmt.Sprintf("invalid JSON from %s: %v", command, err),
		}
	}
	return doc, nil
}

// ListProvisions returns every provision.
func (r *Runner) ListProvisions(ctx context.Context, creds upstream.Credentials) (interface{}, error) {
	return r.RunJSON(ctx, creds, r.provision, "list")
}

// ShowProvision returns one provision.
func (r *Runner) ShowProvision(ctx context.Context, creds upstream.Credentials, id string) (interface{}, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	return r.RunJSON(ctx, creds, r.provision, "show", id)
}

// ListProviders returns every provider.
func (r *Runner) ListProviders(ctx context.Context, creds upstream.Credentials) (interface{}, error) {
	return r.RunJSON(ctx, creds, r.provider, "list")
}

// ShowProvider returns one provider.
func (r *Runner) ShowProvider(ctx context.Context, creds upstream.Credentials, id string) (interface{}, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	return r.RunJSON(ctx, creds, r.provider, "show", id)
}

// DeleteProvider removes a provider.
func (r *Runner) DeleteProvider(ctx context.Context, creds upstream.Credentials, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	_, err := r.Run(ctx, creds, r.provider, "delete", id)
	return err
}

// HostAction runs "host <action> <id>" for a provisioned host.
func (r *Runner) HostAction(ctx context.Context, creds upstream.Credentials, action, id string) error {
	if !models.ValidHostAction(action) {
		return fmt.Errorf("%w: unsupported host action %q", models.ErrInvalidRequest, action)
	}
	if err := checkID(id); err != nil {
		return err
	}
	_, err := r.Run(ctx, creds, r.provision, "host", action, id)
	return err
}

func checkID(id string) error {
	if id == "" || strings.TrimLeft(id, "0123456789") != "" {
		return fmt.Errorf("%w: invalid id %q", models.ErrInvalidRequest, id)
	}
	return nil
}
