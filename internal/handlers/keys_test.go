package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"moderation-gateway/internal/database"
	"moderation-gateway/internal/keys"
	"moderation-gateway/internal/middleware"
	"moderation-gateway/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegistry implements KeyRegistry and QuotaReader. CreateAPIKey holds
// one lock across count-and-insert, mirroring the transactional guarantee of
// the Postgres implementation.
type fakeRegistry struct {
	mu         sync.Mutex
	developers map[uuid.UUID]*models.Developer
	keys       map[uuid.UUID]*models.APIKey
	usage      map[string]int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		developers: make(map[uuid.UUID]*models.Developer),
		keys:       make(map[uuid.UUID]*models.APIKey),
		usage:      make(map[string]int),
	}
}

func (f *fakeRegistry) addDeveloper() *models.Developer {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev := &models.Developer{ID: uuid.New(), Email: "dev@example.com", IsActive: true, CreatedAt: time.Now()}
	f.developers[dev.ID] = dev
	return dev
}

func (f *fakeRegistry) GetDeveloper(_ context.Context, id uuid.UUID) (*models.Developer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, ok := f.developers[id]
	if !ok || !dev.IsActive {
		return nil, database.ErrNotFound
	}
	return dev, nil
}

func (f *fakeRegistry) CreateAPIKey(_ context.Context, developerID uuid.UUID, value, name string, monthlyQuota, maxKeys int) (*models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dev, ok := f.developers[developerID]
	if !ok || !dev.IsActive {
		return nil, database.ErrNotFound
	}

	active := 0
	for _, k := range f.keys {
		if k.DeveloperID == developerID && k.IsActive {
			active++
		}
	}
	if active >= maxKeys {
		return nil, database.ErrKeyLimitExceeded
	}

	key := &models.APIKey{
		ID:           uuid.New(),
		DeveloperID:  developerID,
		Key:          value,
		Name:         name,
		MonthlyQuota: monthlyQuota,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	f.keys[key.ID] = key
	return key, nil
}

func (f *fakeRegistry) ListAPIKeys(_ context.Context, developerID uuid.UUID) ([]models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.APIKey
	for _, k := range f.keys {
		if k.DeveloperID == developerID {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (f *fakeRegistry) CountActiveKeys(_ context.Context, developerID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	active := 0
	for _, k := range f.keys {
		if k.DeveloperID == developerID && k.IsActive {
			active++
		}
	}
	return active, nil
}

func (f *fakeRegistry) RevokeAPIKey(_ context.Context, developerID, keyID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[keyID]
	if !ok || !key.IsActive {
		return database.ErrNotFound
	}
	if key.DeveloperID != developerID {
		return database.ErrForbidden
	}
	key.IsActive = false
	return nil
}

func (f *fakeRegistry) GetQuotaUsage(_ context.Context, apiKeyID uuid.UUID, periodKey string) (*models.QuotaUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	used, ok := f.usage[apiKeyID.String()+"|"+periodKey]
	if !ok {
		return nil, nil
	}
	return &models.QuotaUsage{APIKeyID: apiKeyID, PeriodKey: periodKey, RequestsUsed: used}, nil
}

func newKeysHandler(t *testing.T, reg *fakeRegistry) *KeysHandler {
	t.Helper()
	format, err := keys.NewFormat("bal", "test")
	require.NoError(t, err)
	return NewKeysHandler(reg, reg, format, 100, 3)
}

func TestCreateAPIKey(t *testing.T) {
	reg := newFakeRegistry()
	dev := reg.addDeveloper()
	h := newKeysHandler(t, reg)

	req := httptest.NewRequest(http.MethodPost, "/v1/keys", strings.NewReader(`{"name":"ci key"}`))
	req.Header.Set("X-Developer-ID", dev.ID.String())

	rec := httptest.NewRecorder()
	h.CreateAPIKey(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.APIKey
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "ci key", created.Name)
	assert.Equal(t, 100, created.MonthlyQuota, "default quota applies when unspecified")
	assert.Regexp(t, `^bal_test_\d{4}_[a-z0-9]+$`, created.Key, "the full credential is returned exactly once")
}

func TestCreateAPIKeyEnforcesCap(t *testing.T) {
	reg := newFakeRegistry()
	dev := reg.addDeveloper()
	h := newKeysHandler(t, reg)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/keys", strings.NewReader(`{"name":"key"}`))
		req.Header.Set("X-Developer-ID", dev.ID.String())
		rec := httptest.NewRecorder()
		h.CreateAPIKey(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/keys", strings.NewReader(`{"name":"one too many"}`))
	req.Header.Set("X-Developer-ID", dev.ID.String())
	rec := httptest.NewRecorder()
	h.CreateAPIKey(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "key_limit_exceeded", body["error"])
}

func TestCreateAPIKeyCapHoldsUnderConcurrency(t *testing.T) {
	reg := newFakeRegistry()
	dev := reg.addDeveloper()
	h := newKeysHandler(t, reg)

	var wg sync.WaitGroup
	codes := make(chan int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/v1/keys", strings.NewReader(`{"name":"key"}`))
			req.Header.Set("X-Developer-ID", dev.ID.String())
			rec := httptest.NewRecorder()
			h.CreateAPIKey(rec, req)
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)

	created := 0
	for code := range codes {
		if code == http.StatusCreated {
			created++
		}
	}
	assert.Equal(t, 3, created, "never more than 3 active keys per developer")
}

func TestRevokeAPIKeyOwnership(t *testing.T) {
	reg := newFakeRegistry()
	owner := reg.addDeveloper()
	other := reg.addDeveloper()
	h := newKeysHandler(t, reg)

	key, err := reg.CreateAPIKey(context.Background(), owner.ID, "bal_test_2026_abcdef123456", "k", 100, 3)
	require.NoError(t, err)

	// A different developer cannot revoke it.
	req := httptest.NewRequest(http.MethodDelete, "/v1/keys?id="+key.ID.String(), nil)
	req.Header.Set("X-Developer-ID", other.ID.String())
	rec := httptest.NewRecorder()
	h.RevokeAPIKey(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The owner can.
	req = httptest.NewRequest(http.MethodDelete, "/v1/keys?id="+key.ID.String(), nil)
	req.Header.Set("X-Developer-ID", owner.ID.String())
	rec = httptest.NewRecorder()
	h.RevokeAPIKey(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A second revoke finds nothing.
	req = httptest.NewRequest(http.MethodDelete, "/v1/keys?id="+key.ID.String(), nil)
	req.Header.Set("X-Developer-ID", owner.ID.String())
	rec = httptest.NewRecorder()
	h.RevokeAPIKey(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAPIKeysRedactsValues(t *testing.T) {
	reg := newFakeRegistry()
	dev := reg.addDeveloper()
	h := newKeysHandler(t, reg)

	_, err := reg.CreateAPIKey(context.Background(), dev.ID, "bal_test_2026_abcdef123456", "k", 100, 3)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/keys", nil)
	req.Header.Set("X-Developer-ID", dev.ID.String())
	rec := httptest.NewRecorder()
	h.ListAPIKeys(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp KeyListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Keys, 1)
	assert.Equal(t, "bal_test_2026_ab****", resp.Keys[0].Key)
	assert.Equal(t, 1, resp.ActiveKeys)
	assert.Equal(t, 3, resp.MaxKeys)
}

func TestUsageEndpoint(t *testing.T) {
	reg := newFakeRegistry()
	h := newKeysHandler(t, reg)
	h.now = func() time.Time { return time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC) }

	apiKey := &models.APIKey{ID: uuid.New(), MonthlyQuota: 100, Name: "k", IsActive: true}
	reg.usage[apiKey.ID.String()+"|2026-03"] = 37

	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	ctx := context.WithValue(req.Context(), middleware.APIKeyContextKey, apiKey)

	rec := httptest.NewRecorder()
	h.Usage(rec, req.WithContext(ctx))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp UsageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 37, resp.Used)
	assert.Equal(t, 100, resp.Limit)
	assert.Equal(t, 63, resp.Remaining)
	assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), resp.ResetAt)
}
