package conversation

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/murmur/pkg/adapter"
	"github.com/m-mizutani/murmur/pkg/model"
)

//go:embed prompt/persona.md
var personaPromptRaw string

var personaPromptTmpl = template.Must(template.New("persona").Parse(personaPromptRaw))

// generatePersona turns a free-text description into a system prompt
func (u *UseCase) generatePersona(ctx context.Context, description string) (string, error) {
	var buf bytes.Buffer
	if err := personaPromptTmpl.Execute(&buf, map[string]any{
		"Description": description,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute persona prompt template")
	}

	ctx, cancel := u.withTimeout(ctx, u.timeouts.Generate)
	defer cancel()

	resp, err := u.generator.Generate(ctx,
		[]model.Turn{model.UserTurn(buf.String())},
		adapter.WithTemperature(0.5),
		adapter.WithMaxTokens(200),
	)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate persona")
	}

	persona := strings.TrimSpace(resp)
	if len(persona) >= 2 && strings.HasPrefix(persona, `"`) && strings.HasSuffix(persona, `"`) {
		persona = persona[1 : len(persona)-1]
	}
	if persona == "" {
		return "", goerr.Wrap(model.ErrEmptyResponse, "generated persona is empty")
	}

	return persona, nil
}

// resolvePersona returns the group's persona or the process default
func (u *UseCase) resolvePersona(group *model.Group) string {
	if group.HasPersonality() {
		return group.Personality
	}
	return u.defaultPersona
}
