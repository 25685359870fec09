package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

type Prompt struct {
	System string
	User   string
}

// Executor produces the model response for a task.
type Executor interface {
	Name() string
	Complete(ctx context.Context, p Prompt) (string, error)
}

// EchoExecutor answers without a model. Delay simulates latency.
type EchoExecutor struct {
	Delay time.Duration
}

func (EchoExecutor) Name() string { return "echo" }

func (e EchoExecutor) Complete(ctx context.Context, p Prompt) (string, error) {
	if e.Delay > 0 {
		t := time.NewTimer(e.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	if strings.TrimSpace(p.User) == "" {
		return "", errors.New("empty prompt")
	}
	return "Echo: " + p.User, nil
}

// OllamaExecutor sends each task to an Ollama server as a single
// non-streaming generate call.
type OllamaExecutor struct {
	Client *api.Client
	Model  string
}

// NewOllamaExecutor reads OLLAMA_HOST for the server address.
func NewOllamaExecutor(model string) (*OllamaExecutor, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, err
	}
	return &OllamaExecutor{Client: client, Model: model}, nil
}

func (e *OllamaExecutor) Name() string { return "Ollama (" + e.Model + ")" }

func (e *OllamaExecutor) Complete(ctx context.Context, p Prompt) (string, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:  e.Model,
		System: p.System,
		Prompt: p.User,
		Stream: &stream,
	}
	var out strings.Builder
	err := e.Client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}
