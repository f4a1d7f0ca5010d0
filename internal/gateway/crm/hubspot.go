package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Freeeeeet/consult_booking/internal/cache"
	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/Freeeeeet/consult_booking/internal/resilience"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.hubapi.com"

const contactsPath = "/crm/v3/objects/contacts"

var errContactNotFound = errors.New("contact not found")

// HubSpotGateway шлюз к HubSpot CRM v3 (контакты).
// Идентификатор контакта по email кешируется на 30 минут.
type HubSpotGateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
	client     *resilience.Client
	cache      cache.Cache
	logger     *zap.Logger
}

func NewHubSpotGateway(
	baseURL, token string,
	httpClient *http.Client,
	client *resilience.Client,
	c cache.Cache,
	logger *zap.Logger,
) *HubSpotGateway {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if c == nil {
		c = cache.Nop{}
	}
	return &HubSpotGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		client:     client,
		cache:      c,
		logger:     logger,
	}
}

type contactRequest struct {
	Properties model.ContactProperties `json:"properties"`
}

type contactResponse struct {
	ID string `json:"id"`
}

// UpsertContact создаёт или обновляет контакт с данным email и возвращает его id
func (g *HubSpotGateway) UpsertContact(ctx context.Context, email string, props model.ContactProperties) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("upsert contact: email is required")
	}

	merged := make(model.ContactProperties, len(props)+1)
	for k, v := range props {
		merged[k] = v
	}
	merged["email"] = email

	return resilience.Call(ctx, g.client, "upsert_contact", func(ctx context.Context) (string, error) {
		id, err := g.lookupContact(ctx, email)
		switch {
		case errors.Is(err, errContactNotFound):
			id, err = g.createContact(ctx, merged)
		case err == nil:
			err = g.updateContact(ctx, id, merged)
		}
		if err != nil {
			return "", err
		}

		if err := g.cache.Set(ctx, cache.CRMContactKey(email), id, cache.CRMContactTTL); err != nil {
			g.logger.Warn("Failed to cache CRM contact", zap.String("email", email), zap.Error(err))
		}
		return id, nil
	})
}

// VerifyCredentials запрашивает один контакт, чтобы проверить токен при старте
func (g *HubSpotGateway) VerifyCredentials(ctx context.Context) error {
	return g.client.Do(ctx, "verify_credentials", func(ctx context.Context) error {
		return g.do(ctx, http.MethodGet, contactsPath+"?limit=1", nil, nil)
	})
}

func (g *HubSpotGateway) lookupContact(ctx context.Context, email string) (string, error) {
	var id string
	found, err := g.cache.Get(ctx, cache.CRMContactKey(email), &id)
	if err != nil {
		g.logger.Warn("CRM contact cache lookup failed", zap.String("email", email), zap.Error(err))
	}
	if found && id != "" {
		return id, nil
	}

	path := contactsPath + "/" + url.PathEscape(email) + "?idProperty=email"
	var resp contactResponse
	if err := g.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (g *HubSpotGateway) createContact(ctx context.Context, props model.ContactProperties) (string, error) {
	var resp contactResponse
	if err := g.do(ctx, http.MethodPost, contactsPath, contactRequest{Properties: props}, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", resilience.Permanent(fmt.Errorf("create contact: empty id in response"))
	}
	return resp.ID, nil
}

func (g *HubSpotGateway) updateContact(ctx context.Context, id string, props model.ContactProperties) error {
	err := g.do(ctx, http.MethodPatch, contactsPath+"/"+url.PathEscape(id), contactRequest{Properties: props}, nil)
	if errors.Is(err, errContactNotFound) {
		// Контакт удалили в CRM, id из кеша устарел
		if derr := g.cache.Delete(ctx, cache.CRMContactKey(props["email"])); derr != nil {
			g.logger.Warn("Failed to drop stale CRM contact", zap.Error(derr))
		}
		return resilience.Transient(fmt.Errorf("contact %s disappeared during update", id))
	}
	return err
}

func (g *HubSpotGateway) do(ctx context.Context, method, path string, body interface{}, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return resilience.Transient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errContactNotFound
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return classifyStatus(resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return resilience.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func classifyStatus(code int, err error) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return resilience.Auth(err)
	// 409: контакт с таким email создан параллельно, повтор найдёт его поиском
	case code == http.StatusConflict, code == http.StatusTooManyRequests, code >= 500:
		return resilience.Transient(err)
	default:
		return resilience.Permanent(err)
	}
}
