package policy

import (
	"context"
	"embed"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/model"
	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed rego/*.rego
var defaultPolicies embed.FS

const query = "data.murmur.auth.decision"

// Reason explains an authorization decision
type Reason string

const (
	ReasonAllowed           Reason = "allowed"
	ReasonNotAdmin          Reason = "not_admin"
	ReasonLastAdmin         Reason = "last_admin"
	ReasonBootstrapSelfOnly Reason = "bootstrap_self_only"
)

// Input is the subject of one authorization check. Target is nil for commands without a target user.
type Input struct {
	Command string
	Sender  model.UserID
	Target  *model.UserID
	Admins  []model.UserID
}

func (x *Input) toRego() map[string]any {
	admins := make([]any, 0, len(x.Admins))
	for _, id := range x.Admins {
		admins = append(admins, int64(id))
	}

	input := map[string]any{
		"command": x.Command,
		"sender":  int64(x.Sender),
		"admins":  admins,
	}
	if x.Target != nil {
		input["target"] = int64(*x.Target)
	}
	return input
}

type Decision struct {
	Allow  bool
	Reason Reason
}

// Authorizer evaluates command authorization with a rego policy
type Authorizer struct {
	query *rego.PreparedEvalQuery
}

type Option func(*config)

type config struct {
	policyDir string
}

// WithPolicyDir replaces the built-in policy with all *.rego files in dir
func WithPolicyDir(dir string) Option {
	return func(c *config) {
		c.policyDir = dir
	}
}

// New prepares the authorization query
func New(ctx context.Context, opts ...Option) (*Authorizer, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	var modules []func(*rego.Rego)
	var err error
	if cfg.policyDir != "" {
		modules, err = loadDir(cfg.policyDir)
	} else {
		modules, err = loadEmbedded()
	}
	if err != nil {
		return nil, err
	}

	options := make([]func(*rego.Rego), 0, len(modules)+1)
	options = append(options, rego.Query(query))
	options = append(options, modules...)

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare authorization query", goerr.V("query", query))
	}

	return &Authorizer{query: &prepared}, nil
}

func loadEmbedded() ([]func(*rego.Rego), error) {
	entries, err := defaultPolicies.ReadDir("rego")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read embedded policies")
	}

	modules := make([]func(*rego.Rego), 0, len(entries))
	for _, entry := range entries {
		path := "rego/" + entry.Name()
		data, err := defaultPolicies.ReadFile(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read embedded policy", goerr.V("path", path))
		}
		modules = append(modules, rego.Module(path, string(data)))
	}
	return modules, nil
}

func loadDir(dir string) ([]func(*rego.Rego), error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	if len(files) == 0 {
		return nil, goerr.New("no policy file found", goerr.V("dir", dir))
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}
	return modules, nil
}

// Evaluate returns the decision for input. Any evaluation problem yields a denial together with the error.
func (a *Authorizer) Evaluate(ctx context.Context, input Input) (*Decision, error) {
	denied := &Decision{Allow: false, Reason: ReasonNotAdmin}

	rs, err := a.query.Eval(ctx, rego.EvalInput(input.toRego()))
	if err != nil {
		return denied, goerr.Wrap(err, "failed to evaluate authorization policy", goerr.V("command", input.Command))
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return denied, goerr.New("authorization policy returned no decision", goerr.V("command", input.Command))
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return denied, goerr.New("unexpected authorization decision type", goerr.V("command", input.Command))
	}

	allow, _ := data["allow"].(bool)
	reason, _ := data["reason"].(string)
	if reason == "" {
		reason = string(ReasonNotAdmin)
	}

	return &Decision{Allow: allow, Reason: Reason(reason)}, nil
}
