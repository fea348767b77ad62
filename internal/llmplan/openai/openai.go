// Package openai implements the navigation planner against OpenAI's chat
// completions API, gated by an API key and a cumulative spend budget.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/milesc-bot/gym-scraper/internal/llmplan"
	"github.com/milesc-bot/gym-scraper/internal/model"
)

const (
	defaultModel    = "gpt-4.1-mini"
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
	// estimatedCallCostCents is a conservative flat estimate for one small
	// structured-output call against defaultModel, used only to decide
	// whether a call fits under the remaining budget.
	estimatedCallCostCents = 1
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Planner implements llmplan.Planner against OpenAI.
type Planner struct {
	apiKey   string
	model    string
	endpoint string
	client   httpClient
	budget   *llmplan.BudgetGuard
}

// New builds a Planner. apiKey must be non-empty; callers should simply not
// construct a Planner when OPENAI_API_KEY is unset.
func New(apiKey string, budget *llmplan.BudgetGuard) (*Planner, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm planner requires an API key")
	}
	return &Planner{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 45 * time.Second},
		budget:   budget,
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// PlanPage implements llmplan.Planner.
func (p *Planner) PlanPage(ctx context.Context, html string) (model.Plan, error) {
	var plan model.Plan
	prompt := "Given this HTML, respond with JSON {schedule_selector, next_button_selector, load_more_selector, auth_wall_detected}. HTML:\n" + truncate(html, 8000)
	if err := p.complete(ctx, prompt, &plan); err != nil {
		return model.Plan{}, err
	}
	return plan, nil
}

// PlanLoginSelectors implements llmplan.Planner.
func (p *Planner) PlanLoginSelectors(ctx context.Context, html string) (string, string, string, error) {
	var out struct {
		UsernameSelector string `json:"username_selector"`
		PasswordSelector string `json:"password_selector"`
		SubmitSelector   string `json:"submit_selector"`
	}
	prompt := "Given this login page HTML, respond with JSON {username_selector, password_selector, submit_selector} giving CSS selectors. HTML:\n" + truncate(html, 8000)
	if err := p.complete(ctx, prompt, &out); err != nil {
		return "", "", "", err
	}
	return out.UsernameSelector, out.PasswordSelector, out.SubmitSelector, nil
}

func (p *Planner) complete(ctx context.Context, prompt string, into interface{}) error {
	if !p.budget.Reserve(estimatedCallCostCents) {
		return errors.New("llm planner budget exhausted")
	}

	reqBody, err := json.Marshal(chatRequest{
		Model:    p.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat completion request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("chat completion: status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return errors.New("chat completion returned no choices")
	}
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), into); err != nil {
		return fmt.Errorf("decode planner content: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ llmplan.Planner = (*Planner)(nil)
