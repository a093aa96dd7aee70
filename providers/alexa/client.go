package alexa

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tiger/lex-bot-tester/api/dialog"
	"github.com/tiger/lex-bot-tester/internal/interactionmodel"
	"github.com/tiger/lex-bot-tester/internal/simulation"
	"github.com/tiger/lex-bot-tester/providers/common/httpadapter"
)

// Session modes of a simulation request.
const (
	SessionModeDefault  = "DEFAULT"
	SessionModeForceNew = "FORCE_NEW_SESSION"
)

// Config configures an SMAPI client for one skill.
type Config struct {
	Endpoint   string
	SkillID    string
	Locale     string
	Stage      string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the Alexa Skill Management API on behalf of one skill.
type Client struct {
	cfg  Config
	http *httpadapter.Client

	mu         sync.Mutex
	newSession bool
}

// New returns a client. The first simulation opens a new skill session.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SkillID) == "" {
		return nil, fmt.Errorf("%w: skill id is required", dialog.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("%w: no valid SMAPI access token", dialog.ErrConfiguration)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.amazonalexa.com"
	}
	if cfg.Locale == "" {
		cfg.Locale = "en-US"
	}
	if cfg.Stage == "" {
		cfg.Stage = "development"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc, err := httpadapter.New(httpadapter.Config{
		BaseURL:    cfg.Endpoint,
		Token:      cfg.Token,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, http: hc, newSession: true}, nil
}

// SkillID returns the skill the client is bound to.
func (c *Client) SkillID() string { return c.cfg.SkillID }

// Locale returns the locale simulations run in.
func (c *Client) Locale() string { return c.cfg.Locale }

// ResetSession makes the next simulation open a new skill session.
func (c *Client) ResetSession() {
	c.mu.Lock()
	c.newSession = true
	c.mu.Unlock()
}

func (c *Client) skillPath(version string) string {
	return fmt.Sprintf("/%s/skills/%s/stages/%s", version, url.PathEscape(c.cfg.SkillID), url.PathEscape(c.cfg.Stage))
}

func (c *Client) interactionModelPath() string {
	return c.skillPath("v1") + "/interactionModel/locales/" + url.PathEscape(c.cfg.Locale)
}

// InteractionModelDocument fetches the raw interaction model of the skill.
func (c *Client) InteractionModelDocument(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if _, err := c.http.Do(ctx, http.MethodGet, c.interactionModelPath(), nil, &raw); err != nil {
		return nil, fmt.Errorf("get interaction model: %w", err)
	}
	return raw, nil
}

// InteractionModel fetches and parses the interaction model of the skill.
func (c *Client) InteractionModel(ctx context.Context) (*interactionmodel.Model, error) {
	raw, err := c.InteractionModelDocument(ctx)
	if err != nil {
		return nil, err
	}
	model, err := interactionmodel.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dialog.ErrRemoteFailure, err)
	}
	return model.WithLogger(c.cfg.Logger), nil
}

// InteractionModelETag returns the entity tag of the current interaction model.
func (c *Client) InteractionModelETag(ctx context.Context) (string, error) {
	header, err := c.http.Do(ctx, http.MethodHead, c.interactionModelPath(), nil, nil)
	if err != nil {
		return "", fmt.Errorf("head interaction model: %w", err)
	}
	return header.Get("ETag"), nil
}

type simulationRequest struct {
	Session struct {
		Mode string `json:"mode"`
	} `json:"session"`
	Input struct {
		Content string `json:"content"`
	} `json:"input"`
	Device struct {
		Locale string `json:"locale"`
	} `json:"device"`
}

// SubmitSimulation posts an utterance to the skill simulator.
func (c *Client) SubmitSimulation(ctx context.Context, text string) (simulation.Job, error) {
	c.mu.Lock()
	mode := SessionModeDefault
	if c.newSession {
		mode = SessionModeForceNew
	}
	c.mu.Unlock()

	var body simulationRequest
	body.Session.Mode = mode
	body.Input.Content = text
	body.Device.Locale = c.cfg.Locale

	var resp simulationResponse
	if _, err := c.http.Do(ctx, http.MethodPost, c.skillPath("v2")+"/simulations", body, &resp); err != nil {
		return simulation.Job{}, err
	}
	c.mu.Lock()
	c.newSession = false
	c.mu.Unlock()
	return resp.job(), nil
}

// GetSimulation reads back a simulation job.
func (c *Client) GetSimulation(ctx context.Context, id string) (simulation.Job, error) {
	var resp simulationResponse
	path := c.skillPath("v2") + "/simulations/" + url.PathEscape(id)
	if _, err := c.http.Do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return simulation.Job{}, err
	}
	job := resp.job()
	if job.ID == "" {
		job.ID = id
	}
	return job, nil
}
