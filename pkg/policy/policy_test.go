package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/murmur/pkg/model"
	"github.com/m-mizutani/murmur/pkg/policy"
)

func uid(id int64) *model.UserID {
	v := model.UserID(id)
	return &v
}

func TestEvaluate(t *testing.T) {
	authz, err := policy.New(context.Background())
	gt.NoError(t, err)

	testCases := map[string]struct {
		input  policy.Input
		allow  bool
		reason policy.Reason
	}{
		"start is open": {
			input: policy.Input{Command: "start", Sender: 9},
			allow: true, reason: policy.ReasonAllowed,
		},
		"get_personality is open without admins": {
			input: policy.Input{Command: "get_personality", Sender: 9},
			allow: true, reason: policy.ReasonAllowed,
		},
		"unknown command is open": {
			input: policy.Input{Command: "unknown", Sender: 0},
			allow: true, reason: policy.ReasonAllowed,
		},
		"bootstrap self add": {
			input: policy.Input{Command: "add_admin", Sender: 5, Target: uid(5)},
			allow: true, reason: policy.ReasonAllowed,
		},
		"bootstrap adding someone else": {
			input: policy.Input{Command: "add_admin", Sender: 5, Target: uid(6)},
			allow: false, reason: policy.ReasonBootstrapSelfOnly,
		},
		"bootstrap with unknown sender": {
			input: policy.Input{Command: "add_admin", Sender: 0, Target: uid(0)},
			allow: false, reason: policy.ReasonBootstrapSelfOnly,
		},
		"admin adds another user": {
			input: policy.Input{Command: "add_admin", Sender: 5, Target: uid(9), Admins: []model.UserID{5}},
			allow: true, reason: policy.ReasonAllowed,
		},
		"non admin adds self when admins exist": {
			input: policy.Input{Command: "add_admin", Sender: 9, Target: uid(9), Admins: []model.UserID{5}},
			allow: false, reason: policy.ReasonNotAdmin,
		},
		"set_personality by admin": {
			input: policy.Input{Command: "set_personality", Sender: 5, Admins: []model.UserID{5}},
			allow: true, reason: policy.ReasonAllowed,
		},
		"set_personality with empty admins": {
			input: policy.Input{Command: "set_personality", Sender: 5},
			allow: false, reason: policy.ReasonNotAdmin,
		},
		"list_admins by non admin": {
			input: policy.Input{Command: "list_admins", Sender: 9, Admins: []model.UserID{5}},
			allow: false, reason: policy.ReasonNotAdmin,
		},
		"remove sole admin": {
			input: policy.Input{Command: "remove_admin", Sender: 5, Target: uid(5), Admins: []model.UserID{5}},
			allow: false, reason: policy.ReasonLastAdmin,
		},
		"remove one of two admins": {
			input: policy.Input{Command: "remove_admin", Sender: 5, Target: uid(5), Admins: []model.UserID{5, 6}},
			allow: true, reason: policy.ReasonAllowed,
		},
		"remove by non admin": {
			input: policy.Input{Command: "remove_admin", Sender: 9, Target: uid(5), Admins: []model.UserID{5}},
			allow: false, reason: policy.ReasonNotAdmin,
		},
		"unlisted command fails closed": {
			input: policy.Input{Command: "drop_database", Sender: 5, Admins: []model.UserID{5}},
			allow: false, reason: policy.ReasonNotAdmin,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			decision, err := authz.Evaluate(context.Background(), tc.input)
			gt.NoError(t, err)
			gt.Equal(t, decision.Allow, tc.allow)
			gt.Equal(t, decision.Reason, tc.reason)
		})
	}
}

func TestPolicyDir(t *testing.T) {
	tmpDir := t.TempDir()
	src := `package murmur.auth

decision := {"allow": false, "reason": "not_admin"}
`
	gt.NoError(t, os.WriteFile(filepath.Join(tmpDir, "deny.rego"), []byte(src), 0644))

	authz, err := policy.New(context.Background(), policy.WithPolicyDir(tmpDir))
	gt.NoError(t, err)

	decision, err := authz.Evaluate(context.Background(), policy.Input{Command: "start", Sender: 1})
	gt.NoError(t, err)
	gt.False(t, decision.Allow)
}

func TestPolicyDirWithoutFiles(t *testing.T) {
	_, err := policy.New(context.Background(), policy.WithPolicyDir(t.TempDir()))
	gt.Error(t, err)
}
