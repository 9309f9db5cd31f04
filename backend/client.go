package backend

import (
	"context"
	"encoding/base64"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/transport"
)

const DefaultBaseURL = "https://api.manus.ai/v1"

type Config struct {
	BaseURL      string
	APIKey       string
	AgentProfile string
	Timeout      time.Duration
}

// ConfigFrom maps the relay configuration onto client settings.
func ConfigFrom(cfg core.Config) Config {
	return Config{
		BaseURL:      cfg.Backend.BaseURL,
		APIKey:       cfg.Backend.APIKey,
		AgentProfile: cfg.Backend.AgentProfile,
		Timeout:      cfg.Transport.TimeoutDuration(),
	}
}

// Throttle gates calls per operation key and learns from each response.
type Throttle interface {
	BeforeCall(ctx context.Context, key string) error
	AfterCall(ctx context.Context, key string, statusCode int, headers map[string]string) error
}

type Client struct {
	adapter      *transport.RESTAdapter
	baseURL      string
	agentProfile string
	timeout      time.Duration

	// Throttle is optional.
	Throttle Throttle
}

func NewClient(cfg Config, doer transport.HTTPDoer) *Client {
	adapter := transport.NewRESTAdapter(doer)
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		adapter.DefaultHeaders["Authorization"] = "Bearer " + key
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		adapter:      adapter,
		baseURL:      baseURL,
		agentProfile: strings.TrimSpace(cfg.AgentProfile),
		timeout:      cfg.Timeout,
	}
}

type attachmentPayload struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	Filename string `json:"filename"`
}

type createTaskPayload struct {
	Prompt       string              `json:"prompt"`
	AgentProfile string              `json:"agent_profile,omitempty"`
	Attachments  []attachmentPayload `json:"attachments,omitempty"`
}

type createTaskResponse struct {
	TaskID    string `json:"task_id"`
	TaskTitle string `json:"task_title"`
	TaskURL   string `json:"task_url"`
}

type outputContent struct {
	Text    string `json:"text"`
	FileURL string `json:"fileUrl"`
}

type taskOutput struct {
	Content []outputContent `json:"content"`
}

type getTaskResponse struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	CreditUsage float64      `json:"credit_usage"`
	Output      []taskOutput `json:"output"`
}

type publicKeyResponse struct {
	PublicKey string `json:"public_key"`
	Algorithm string `json:"algorithm"`
}

func (c *Client) CreateTask(ctx context.Context, req core.CreateTaskRequest) (core.Task, error) {
	payload := createTaskPayload{
		Prompt:       req.Prompt,
		AgentProfile: strings.TrimSpace(req.AgentProfile),
	}
	if payload.AgentProfile == "" {
		payload.AgentProfile = c.agentProfile
	}
	for _, attachment := range req.Attachments {
		payload.Attachments = append(payload.Attachments, attachmentPayload{
			Type:     "base64",
			Data:     base64.StdEncoding.EncodeToString(attachment.Content),
			Filename: attachment.Filename,
		})
	}

	request, err := transport.JSONRequest(http.MethodPost, c.baseURL+"/tasks", payload)
	if err != nil {
		return core.Task{}, err
	}
	var created createTaskResponse
	if err := c.call(ctx, request, "create task", &created); err != nil {
		return core.Task{}, err
	}
	if strings.TrimSpace(created.TaskID) == "" {
		return core.Task{}, core.NewExternalError(nil, "backend: create task returned no task id", nil)
	}
	return core.Task{ID: created.TaskID, Title: created.TaskTitle, URL: created.TaskURL}, nil
}

func (c *Client) GetTask(ctx context.Context, taskID string) (core.TaskStatus, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return core.TaskStatus{}, core.NewBadInputError("backend: task id is required", nil)
	}
	request := transport.Request{
		Method:  http.MethodGet,
		URL:     c.baseURL + "/tasks/" + url.PathEscape(taskID),
		Headers: map[string]string{"Accept": "application/json"},
	}
	var status getTaskResponse
	if err := c.call(ctx, request, "get task", &status); err != nil {
		return core.TaskStatus{}, err
	}

	result := core.TaskStatus{
		ID:          status.ID,
		Status:      status.Status,
		CreditUsage: int(math.Round(status.CreditUsage)),
	}
	if result.CreditUsage < 0 {
		result.CreditUsage = 0
	}
	for _, output := range status.Output {
		converted := core.TaskOutput{}
		for _, content := range output.Content {
			converted.Content = append(converted.Content, core.TaskOutputContent{
				Text:    content.Text,
				FileURL: content.FileURL,
			})
		}
		result.Output = append(result.Output, converted)
	}
	return result, nil
}

// DownloadAttachment fetches a result file. Attachment urls are pre-signed so
// the request goes out without the backend credentials.
func (c *Client) DownloadAttachment(ctx context.Context, rawURL string) ([]byte, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, core.NewBadInputError("backend: attachment url is required", nil)
	}
	downloader := &transport.RESTAdapter{
		Client:               c.adapter.Client,
		MaxResponseBodyBytes: c.adapter.MaxResponseBodyBytes,
	}
	res, err := downloader.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     rawURL,
		Timeout: c.timeout,
	})
	if err != nil {
		return nil, err
	}
	if err := transport.StatusError(res, "download attachment"); err != nil {
		return nil, err
	}
	return res.Body, nil
}

// PublicKey returns the PEM encoded key the backend signs webhooks with.
func (c *Client) PublicKey(ctx context.Context) (string, error) {
	request := transport.Request{
		Method:  http.MethodGet,
		URL:     c.baseURL + "/webhook/public_key",
		Headers: map[string]string{"Accept": "application/json"},
	}
	var key publicKeyResponse
	if err := c.call(ctx, request, "get public key", &key); err != nil {
		return "", err
	}
	if strings.TrimSpace(key.PublicKey) == "" {
		return "", core.NewExternalError(nil, "backend: public key response is empty", nil)
	}
	return key.PublicKey, nil
}

func (c *Client) call(ctx context.Context, request transport.Request, operation string, target any) error {
	if request.Timeout <= 0 {
		request.Timeout = c.timeout
	}
	key := "tasks." + strings.ReplaceAll(operation, " ", "_")
	if c.Throttle != nil {
		if err := c.Throttle.BeforeCall(ctx, key); err != nil {
			return err
		}
	}
	res, err := c.adapter.Do(ctx, request)
	if err != nil {
		return err
	}
	if c.Throttle != nil {
		if err := c.Throttle.AfterCall(ctx, key, res.StatusCode, res.Headers); err != nil {
			return err
		}
	}
	if err := transport.StatusError(res, operation); err != nil {
		return err
	}
	return res.Decode(target)
}

var _ core.TaskBackend = (*Client)(nil)
