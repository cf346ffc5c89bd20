package conversation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/m-mizutani/murmur/pkg/model"
	"github.com/m-mizutani/murmur/pkg/policy"
	"github.com/m-mizutani/murmur/pkg/utils/logging"
)

const commandUnknown = "unknown"

// commandArgs holds validated arguments of a command
type commandArgs struct {
	target      *model.UserID
	description string
}

type command struct {
	// parse validates raw argument text. A non-empty usage means the arguments were rejected.
	parse func(raw string) (args *commandArgs, usage string)
	// denied renders the refusal for an authorization reason
	denied func(reason policy.Reason) string
	run    func(ctx context.Context, u *UseCase, ev *model.Event, group *model.Group, args *commandArgs) string
}

func noArgs(string) (*commandArgs, string) {
	return &commandArgs{}, ""
}

func deniedWith(msg string) func(policy.Reason) string {
	return func(policy.Reason) string { return msg }
}

func userIDArg(usage string) func(string) (*commandArgs, string) {
	return func(raw string) (*commandArgs, string) {
		arg := strings.TrimSpace(raw)
		if arg == "" {
			return nil, usage
		}
		// the whole argument must be one integer, so trailing words are rejected
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, "Invalid user ID."
		}
		target := model.UserID(id)
		return &commandArgs{target: &target}, ""
	}
}

var commands = map[string]command{
	"start": {
		parse:  noArgs,
		denied: deniedWith("Sorry, you are not authorized to use this command."),
		run: func(_ context.Context, u *UseCase, _ *model.Event, _ *model.Group, _ *commandArgs) string {
			return u.greeting
		},
	},
	"help": {
		parse:  noArgs,
		denied: deniedWith("Sorry, you are not authorized to use this command."),
		run: func(_ context.Context, u *UseCase, _ *model.Event, _ *model.Group, _ *commandArgs) string {
			return u.helpText
		},
	},
	"set_personality": {
		parse: func(raw string) (*commandArgs, string) {
			if raw == "" {
				return nil, "Usage: /set_personality <description>"
			}
			return &commandArgs{description: raw}, ""
		},
		denied: deniedWith("Sorry, only admins can set the personality."),
		run:    runSetPersonality,
	},
	"get_personality": {
		parse:  noArgs,
		denied: deniedWith("Sorry, you are not authorized to use this command."),
		run: func(_ context.Context, _ *UseCase, _ *model.Event, group *model.Group, _ *commandArgs) string {
			if !group.HasPersonality() {
				return "No custom personality set."
			}
			return "Current personality prompt:\n\n" + group.Personality
		},
	},
	"add_admin": {
		parse: userIDArg("Usage: /add_admin <user_id>"),
		denied: func(reason policy.Reason) string {
			if reason == policy.ReasonBootstrapSelfOnly {
				return "No admins set. First admin must add themselves."
			}
			return "You are not authorized to add admins."
		},
		run: runAddAdmin,
	},
	"remove_admin": {
		parse: userIDArg("Usage: /remove_admin <user_id>"),
		denied: func(reason policy.Reason) string {
			if reason == policy.ReasonLastAdmin {
				return "Cannot remove the last admin."
			}
			return "You are not authorized to remove admins."
		},
		run: runRemoveAdmin,
	},
	"list_admins": {
		parse:  noArgs,
		denied: deniedWith("You must be an admin to list admins."),
		run:    runListAdmins,
	},
	commandUnknown: {
		parse:  noArgs,
		denied: deniedWith("Sorry, I don't recognize that command. Use /help."),
		run: func(context.Context, *UseCase, *model.Event, *model.Group, *commandArgs) string {
			return "Sorry, I don't recognize that command. Use /help."
		},
	},
}

// dispatch runs one command: parse, authorize, execute, then deliver exactly one reply
func (u *UseCase) dispatch(ctx context.Context, ev *model.Event, group *model.Group) *Outcome {
	name, raw := splitCommand(ev.Text)
	cmd, ok := commands[name]
	if !ok {
		name = commandUnknown
		cmd = commands[commandUnknown]
	}

	ctx, _ = logging.WithAttrs(ctx, "command", name, "sender", ev.SenderID)

	reply := u.execute(ctx, name, cmd, raw, ev, group)

	outcome := &Outcome{
		Classification: model.ClassCommand,
		Command:        name,
		Reply:          reply,
		Detail:         "Command processed",
	}
	outcome.ReplyID, outcome.Delivered = u.deliver(ctx, ev.ChatID, reply)
	return outcome
}

func (u *UseCase) execute(ctx context.Context, name string, cmd command, raw string, ev *model.Event, group *model.Group) string {
	logger := logging.From(ctx)

	args, usage := cmd.parse(raw)
	if usage != "" {
		logger.Info("invalid command arguments", "args", raw)
		return usage
	}

	decision, err := u.authz.Evaluate(ctx, policy.Input{
		Command: name,
		Sender:  ev.SenderID,
		Target:  args.target,
		Admins:  group.AdminIDs,
	})
	if err != nil {
		logger.Error("authorization evaluation failed, denying", "error", err)
	}
	if decision == nil || !decision.Allow {
		reason := policy.ReasonNotAdmin
		if decision != nil {
			reason = decision.Reason
		}
		logger.Info("command denied", "reason", reason)
		return cmd.denied(reason)
	}

	logger.Info("processing command")
	return cmd.run(ctx, u, ev, group, args)
}

func runSetPersonality(ctx context.Context, u *UseCase, ev *model.Event, _ *model.Group, args *commandArgs) string {
	logger := logging.From(ctx)

	persona, err := u.generatePersona(ctx, args.description)
	if err != nil {
		logger.Error("failed to generate personality prompt", "error", err)
		return "Error: Could not generate personality prompt."
	}

	storeCtx, cancel := u.withTimeout(ctx, u.timeouts.Store)
	defer cancel()
	if err := u.repo.SetPersonality(storeCtx, ev.ChatID, persona); err != nil {
		logger.Error("failed to save personality", "error", err)
		return "Error: Could not save personality."
	}

	return "Personality prompt generated and set!"
}

func runAddAdmin(ctx context.Context, u *UseCase, ev *model.Event, _ *model.Group, args *commandArgs) string {
	storeCtx, cancel := u.withTimeout(ctx, u.timeouts.Store)
	defer cancel()

	if err := u.repo.AddAdmin(storeCtx, ev.ChatID, *args.target); err != nil {
		logging.From(ctx).Error("failed to add admin", "error", err, "target", *args.target)
		return fmt.Sprintf("User %d could not be added.", *args.target)
	}
	return fmt.Sprintf("User %d added as admin.", *args.target)
}

func runRemoveAdmin(ctx context.Context, u *UseCase, ev *model.Event, _ *model.Group, args *commandArgs) string {
	storeCtx, cancel := u.withTimeout(ctx, u.timeouts.Store)
	defer cancel()

	if err := u.repo.RemoveAdmin(storeCtx, ev.ChatID, *args.target); err != nil {
		logging.From(ctx).Error("failed to remove admin", "error", err, "target", *args.target)
		return fmt.Sprintf("User %d could not be removed.", *args.target)
	}
	return fmt.Sprintf("User %d removed from admins.", *args.target)
}

func runListAdmins(ctx context.Context, u *UseCase, ev *model.Event, group *model.Group, _ *commandArgs) string {
	storeCtx, cancel := u.withTimeout(ctx, u.timeouts.Store)
	defer cancel()

	admins, err := u.repo.ListAdmins(storeCtx, ev.ChatID)
	if err != nil {
		logging.From(ctx).Warn("failed to list admins, using loaded group", "error", err)
		admins = group.AdminIDs
	}
	if len(admins) == 0 {
		return "Current Admins:\nNone"
	}

	ids := make([]string, len(admins))
	for i, id := range admins {
		ids[i] = id.String()
	}
	return "Current Admins:\n" + strings.Join(ids, "\n")
}
