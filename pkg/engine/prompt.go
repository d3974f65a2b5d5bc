package engine

import (
	"context"

	"taskpilot/pkg/llm"
	"taskpilot/pkg/logx"
	"taskpilot/pkg/templates"
)

// Request purposes, used by metrics and run history.
const (
	PurposePlan     = "plan"
	PurposeStep     = "step"
	PurposeRecovery = "recovery"
)

// ModelOptions shape every request sent to the model.
type ModelOptions struct {
	MaxTokens   int
	Temperature float32
	// Instructions are project rules appended to the system prompt.
	Instructions string
}

// prompter renders a template and sends it with the shared system prompt.
type prompter struct {
	client   llm.Client
	renderer *templates.Renderer
	system   string
	model    ModelOptions
	logger   *logx.Logger
}

func newPrompter(client llm.Client, model ModelOptions) (*prompter, error) {
	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, err
	}
	system, err := renderer.Render(templates.SystemTemplate, &templates.TemplateData{Instructions: model.Instructions})
	if err != nil {
		return nil, err
	}
	if model.MaxTokens <= 0 {
		model.MaxTokens = llm.DefaultMaxTokens
	}
	return &prompter{client: client, renderer: renderer, system: system, model: model, logger: logx.NewLogger("prompt")}, nil
}

func (p *prompter) ask(ctx context.Context, purpose string, tpl templates.PromptTemplate, data *templates.TemplateData) (llm.Response, error) {
	prompt, err := p.renderer.Render(tpl, data)
	if err != nil {
		return llm.Response{}, err
	}

	req := llm.NewRequest(purpose, llm.NewSystemMessage(p.system), llm.NewUserMessage(prompt))
	req.MaxTokens = p.model.MaxTokens
	req.Temperature = p.model.Temperature

	resp, err := p.client.Complete(ctx, req)
	if err != nil {
		// Model errors are returned verbatim.
		p.logger.Error("%s request to %s failed: %v", purpose, p.client.GetModelName(), err)
		return resp, err
	}
	return resp, nil
}
