// Package stageexec provides stage executor implementations behind the
// core.StageExecutor port.
package stageexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/scenesmith/scenesmith/internal/core"
	"github.com/scenesmith/scenesmith/internal/domain/model"
	apperrors "github.com/scenesmith/scenesmith/internal/errors"
)

// Default jmespath queries into the result envelope.
const (
	DefaultOutputsQuery = "outputs"
	DefaultMessageQuery = "message"
	DefaultCauseQuery   = "error.cause"
)

// ScriptOptions configures a Script executor.
type ScriptOptions struct {
	// Command is the program invoked once per stage. The stage name is
	// appended as the final argument.
	Command string
	// Args are fixed arguments passed before the stage name.
	Args []string
	// OutputsQuery extracts the kind-to-filename output map from the
	// envelope. Defaults to "outputs".
	OutputsQuery string
	// MessageQuery extracts the progress message. Defaults to "message".
	MessageQuery string
	// CauseQuery extracts the failure cause. Defaults to "error.cause".
	CauseQuery string
	Logger     *slog.Logger
}

// Script runs pipeline stages by invoking an external command.
//
// The command receives the job context through SCENESMITH_* environment
// variables and reports back with a JSON envelope on stdout. Envelope fields
// are located with jmespath queries so wrapper scripts for heterogeneous ML
// pipelines can keep their own response shapes.
type Script struct {
	command string
	args    []string
	outputs string
	message string
	cause   string
	logger  *slog.Logger
}

// NewScript creates a Script executor from options.
func NewScript(opts ScriptOptions) (*Script, error) {
	if opts.Command == "" {
		return nil, apperrors.InvalidInput("stage command is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Script{
		command: opts.Command,
		args:    opts.Args,
		logger:  logger.With("component", "stageexec"),
	}
	var err error
	if s.outputs, err = compileQuery(opts.OutputsQuery, DefaultOutputsQuery); err != nil {
		return nil, err
	}
	if s.message, err = compileQuery(opts.MessageQuery, DefaultMessageQuery); err != nil {
		return nil, err
	}
	if s.cause, err = compileQuery(opts.CauseQuery, DefaultCauseQuery); err != nil {
		return nil, err
	}
	return s, nil
}

// MustNewScript creates a Script executor or panics. For use at startup.
func MustNewScript(opts ScriptOptions) *Script {
	s, err := NewScript(opts)
	if err != nil {
		panic(err)
	}
	return s
}

func compileQuery(expr, fallback string) (string, error) {
	if expr == "" {
		expr = fallback
	}
	if _, err := jmespath.Compile(expr); err != nil {
		return "", apperrors.Wrapf(err, apperrors.ErrCodeInvalidInput, "compile jmespath %q", expr)
	}
	return expr, nil
}

// Execute implements core.StageExecutor.
func (s *Script) Execute(ctx context.Context, req core.ExecuteRequest) (*model.StageOutcome, error) {
	inputs, err := json.Marshal(req.Inputs)
	if err != nil {
		return nil, fmt.Errorf("marshal inputs: %w", err)
	}
	prior, err := json.Marshal(req.PriorOutputs)
	if err != nil {
		return nil, fmt.Errorf("marshal prior outputs: %w", err)
	}

	args := make([]string, 0, len(s.args)+1)
	args = append(args, s.args...)
	args = append(args, req.Stage)

	cmd := exec.CommandContext(ctx, s.command, args...)
	cmd.Env = append(os.Environ(),
		"SCENESMITH_JOB_ID="+req.JobID,
		"SCENESMITH_STAGE="+req.Stage,
		"SCENESMITH_WORKSPACE="+req.Workspace,
		"SCENESMITH_INPUTS="+string(inputs),
		"SCENESMITH_PRIOR_OUTPUTS="+string(prior),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.DebugContext(ctx, "executing stage command",
		"job_id", req.JobID, "stage", req.Stage, "command", s.command)

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, apperrors.Timeout(req.Stage, "stage deadline exceeded")
		}
		// Cancellation stays raw so the scheduler can tell shutdown apart
		// from stage failure.
		return nil, ctxErr
	}
	if runErr != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			runErr = fmt.Errorf("%w: %s", runErr, detail)
		}
		return nil, apperrors.StageWrap(req.Stage, runErr)
	}

	return s.parseEnvelope(req, stdout.Bytes())
}

// parseEnvelope decodes the command's JSON result and maps it to an outcome.
func (s *Script) parseEnvelope(req core.ExecuteRequest, raw []byte) (*model.StageOutcome, error) {
	var envelope any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode result envelope: %w", err)
	}

	if cause := s.queryString(envelope, s.cause); cause != "" {
		return nil, apperrors.Stage(req.Stage, cause)
	}

	outcome := &model.StageOutcome{
		Message: s.queryString(envelope, s.message),
		Outputs: make(map[model.ArtifactKind]model.ArtifactRef),
	}

	rawOutputs, err := jmespath.Search(s.outputs, envelope)
	if err != nil {
		return nil, fmt.Errorf("query outputs: %w", err)
	}
	outputs, ok := rawOutputs.(map[string]any)
	if rawOutputs != nil && !ok {
		return nil, fmt.Errorf("result envelope outputs are %T, want object", rawOutputs)
	}
	for kind, v := range outputs {
		filename, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("output %q is %T, want filename string", kind, v)
		}
		ref := model.ArtifactRef{JobID: req.JobID, Kind: model.ArtifactKind(kind), Filename: filename}
		if err := ref.Validate(); err != nil {
			return nil, fmt.Errorf("output %q: %w", kind, err)
		}
		outcome.Outputs[ref.Kind] = ref
	}
	return outcome, nil
}

func (s *Script) queryString(envelope any, query string) string {
	v, err := jmespath.Search(query, envelope)
	if err != nil {
		return ""
	}
	str, _ := v.(string)
	return str
}
