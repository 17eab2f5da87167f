package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"katalog/internal/assets"
	"katalog/internal/database"
	"katalog/internal/handlers"
	"katalog/internal/middleware"
	"katalog/internal/models"
	"katalog/internal/query"
	"katalog/internal/repositories"
	"katalog/internal/services"
	"katalog/internal/storage"
)

const (
	testBaseURL   = "http://catalog.test"
	testMaxUpload = 64 << 10
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type testEnv struct {
	app  *fiber.App
	auth *services.AuthService
	repo *repositories.GORMProductRepository
	fs   afero.Fs
}

// setupApp wires a Fiber app against in-memory SQLite and an in-memory
// upload directory.
func setupApp(t *testing.T) *testEnv {
	t.Helper()
	lg := zaptest.NewLogger(t)

	db, err := database.Open(database.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), true)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	fs := afero.NewMemMapFs()
	manager := assets.NewManager(storage.NewFSStore(fs), assets.Options{
		BaseURL:     testBaseURL,
		MaxFileSize: testMaxUpload,
	}, lg)
	repo := repositories.NewGORMProductRepository(db)
	productService := services.NewProductService(repo, manager, lg)
	authService := services.NewAuthService("test_jwt_secret", time.Hour)

	app := fiber.New(fiber.Config{
		BodyLimit:    testMaxUpload * 16,
		ErrorHandler: handlers.ErrorHandler(lg),
	})
	handlers.NewUploadHandler(manager, lg).RegisterRoutes(app)
	handlers.NewProductHandler(productService, lg).RegisterRoutes(app.Group("/api/v1"), middleware.AuthRequired(authService, lg))

	return &testEnv{app: app, auth: authService, repo: repo, fs: fs}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.auth.IssueToken(userID)
	require.NoError(t, err)
	return token
}

func (e *testEnv) fileCount(t *testing.T) int {
	t.Helper()
	infos, err := afero.ReadDir(e.fs, "/")
	require.NoError(t, err)
	return len(infos)
}

type apiResponse struct {
	Success    bool              `json:"success"`
	Message    string            `json:"message"`
	Data       json.RawMessage   `json:"data"`
	Pagination *query.Pagination `json:"pagination"`
	Errors     map[string]string `json:"errors"`
}

type productJSON struct {
	ID                  string   `json:"id"`
	UserID              string   `json:"userId"`
	Name                string   `json:"name"`
	SKU                 string   `json:"sku"`
	Stock               int      `json:"stock"`
	StockStatus         string   `json:"stockStatus"`
	MainImageURL        *string  `json:"mainImageUrl"`
	AdditionalImageURLs []string `json:"additionalImageUrls"`
	Tags                []string `json:"tags"`
}

func (e *testEnv) do(t *testing.T, req *http.Request, userID string) (int, apiResponse, string) {
	t.Helper()
	if userID != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+e.token(t, userID))
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body apiResponse
	if strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	}
	return resp.StatusCode, body, string(raw)
}

type formFile struct {
	field, name, contentType string
	data                     []byte
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	return req
}

func pngFile(field, name string) formFile {
	return formFile{field: field, name: name, contentType: "image/png", data: pngBytes}
}

func decodeProduct(t *testing.T, body apiResponse) productJSON {
	t.Helper()
	var p productJSON
	require.NoError(t, json.Unmarshal(body.Data, &p))
	return p
}

func (e *testEnv) createWidget(t *testing.T, owner string, files ...formFile) productJSON {
	t.Helper()
	req := multipartRequest(t, fiber.MethodPost, "/api/v1/products", map[string]string{
		"name":     "Widget",
		"price":    "9.99",
		"category": "tools",
		"stock":    "3",
	}, files...)
	status, body, raw := e.do(t, req, owner)
	require.Equal(t, fiber.StatusCreated, status, raw)
	return decodeProduct(t, body)
}

func TestCreateProduct_WithMainImage(t *testing.T) {
	env := setupApp(t)

	req := multipartRequest(t, fiber.MethodPost, "/api/v1/products", map[string]string{
		"name":     "Widget",
		"price":    "9.99",
		"category": "tools",
		"stock":    "3",
		"tags":     "metal, small",
		"userId":   "someone-else",
	}, pngFile(handlers.FieldMainImage, "widget.png"))
	status, body, raw := env.do(t, req, "user-a")
	require.Equal(t, fiber.StatusCreated, status, raw)
	assert.True(t, body.Success)

	p := decodeProduct(t, body)
	assert.Equal(t, "low", p.StockStatus)
	assert.Equal(t, "user-a", p.UserID)
	assert.Equal(t, []string{"metal", "small"}, p.Tags)
	require.NotNil(t, p.MainImageURL)
	assert.True(t, strings.HasPrefix(*p.MainImageURL, testBaseURL+"/uploads/"), *p.MainImageURL)
	assert.Empty(t, p.AdditionalImageURLs)
	assert.NotContains(t, raw, "mainImageKey")
	assert.NotContains(t, raw, "additionalImageKeys")
	assert.Equal(t, 1, env.fileCount(t))

	// The URL resolves to the stored bytes.
	path := strings.TrimPrefix(*p.MainImageURL, testBaseURL)
	resp, err := env.app.Test(httptest.NewRequest(fiber.MethodGet, path, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get(fiber.HeaderContentType))
	served, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, served)
}

func TestCreateProduct_JSONBody(t *testing.T) {
	env := setupApp(t)

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/products",
		strings.NewReader(`{"name":"Gadget","price":19.5,"category":"toys","stock":50,"tags":["a","b"],"active":false}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	status, body, raw := env.do(t, req, "user-a")
	require.Equal(t, fiber.StatusCreated, status, raw)

	p := decodeProduct(t, body)
	assert.Equal(t, "high", p.StockStatus)
	assert.Equal(t, []string{"a", "b"}, p.Tags)
	assert.Nil(t, p.MainImageURL)
}

func TestCreateProduct_Rejections(t *testing.T) {
	env := setupApp(t)

	t.Run("validation", func(t *testing.T) {
		req := multipartRequest(t, fiber.MethodPost, "/api/v1/products", map[string]string{
			"name":  "W",
			"price": "-1",
		}, pngFile(handlers.FieldMainImage, "w.png"))
		status, body, _ := env.do(t, req, "user-a")
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.False(t, body.Success)
		assert.Contains(t, body.Errors, "name")
		assert.Contains(t, body.Errors, "price")
		assert.Contains(t, body.Errors, "category")
	})

	t.Run("price out of column range", func(t *testing.T) {
		for _, price := range []string{"123456789", "0.001"} {
			req := multipartRequest(t, fiber.MethodPost, "/api/v1/products", map[string]string{
				"name": "Widget", "price": price, "category": "tools",
			}, pngFile(handlers.FieldMainImage, "w.png"))
			status, body, _ := env.do(t, req, "user-a")
			assert.Equal(t, fiber.StatusBadRequest, status, price)
			assert.Contains(t, body.Errors, "price")
		}
		assert.Zero(t, env.fileCount(t))
	})

	t.Run("not an image", func(t *testing.T) {
		req := multipartRequest(t, fiber.MethodPost, "/api/v1/products", map[string]string{
			"name": "Widget", "price": "1", "category": "tools",
		}, formFile{field: handlers.FieldMainImage, name: "x.txt", contentType: "text/plain", data: []byte("hello")})
		status, body, _ := env.do(t, req, "user-a")
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.False(t, body.Success)
	})

	t.Run("too large", func(t *testing.T) {
		big := formFile{field: handlers.FieldAdditionalImages, name: "big.png", contentType: "image/png", data: make([]byte, testMaxUpload+1)}
		req := multipartRequest(t, fiber.MethodPost, "/api/v1/products", map[string]string{
			"name": "Widget", "price": "1", "category": "tools",
		}, big)
		status, body, _ := env.do(t, req, "user-a")
		assert.Equal(t, fiber.StatusRequestEntityTooLarge, status)
		assert.False(t, body.Success)
	})

	t.Run("two main images", func(t *testing.T) {
		req := multipartRequest(t, fiber.MethodPost, "/api/v1/products", map[string]string{
			"name": "Widget", "price": "1", "category": "tools",
		}, pngFile(handlers.FieldMainImage, "a.png"), pngFile(handlers.FieldMainImage, "b.png"))
		status, _, _ := env.do(t, req, "user-a")
		assert.Equal(t, fiber.StatusBadRequest, status)
	})

	assert.Zero(t, env.fileCount(t))
}

func TestCreateProduct_DuplicateSKU(t *testing.T) {
	env := setupApp(t)
	fields := map[string]string{"name": "Widget", "price": "1", "category": "tools", "sku": "FIXED-1"}

	status, _, raw := env.do(t, multipartRequest(t, fiber.MethodPost, "/api/v1/products", fields), "user-a")
	require.Equal(t, fiber.StatusCreated, status, raw)

	req := multipartRequest(t, fiber.MethodPost, "/api/v1/products", fields,
		pngFile(handlers.FieldMainImage, "a.png"), pngFile(handlers.FieldAdditionalImages, "b.png"))
	status, body, _ := env.do(t, req, "user-b")
	assert.Equal(t, fiber.StatusConflict, status)
	assert.False(t, body.Success)
	assert.Zero(t, env.fileCount(t))
}

func TestUpdateProduct_ByNonOwner(t *testing.T) {
	env := setupApp(t)
	created := env.createWidget(t, "user-a", pngFile(handlers.FieldMainImage, "w.png"))

	req := multipartRequest(t, fiber.MethodPut, "/api/v1/products/"+created.ID,
		map[string]string{"name": "Hijacked"}, pngFile(handlers.FieldMainImage, "evil.png"))
	status, body, _ := env.do(t, req, "user-b")
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.False(t, body.Success)
	assert.NotEmpty(t, body.Message)

	stored, err := env.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget", stored.Name)
	assert.Equal(t, 1, env.fileCount(t))

	status, _, _ = env.do(t, httptest.NewRequest(fiber.MethodDelete, "/api/v1/products/"+created.ID, nil), "user-b")
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestUpdateProduct_ReplacesMainAndAppends(t *testing.T) {
	env := setupApp(t)
	created := env.createWidget(t, "user-a",
		pngFile(handlers.FieldMainImage, "old.png"),
		pngFile(handlers.FieldAdditionalImages, "side.png"))
	require.Equal(t, 2, env.fileCount(t))

	req := multipartRequest(t, fiber.MethodPut, "/api/v1/products/"+created.ID,
		map[string]string{"stock": "0", "active": "false"},
		pngFile(handlers.FieldMainImage, "new.png"),
		pngFile(handlers.FieldAdditionalImages, "back.png"))
	status, body, raw := env.do(t, req, "user-a")
	require.Equal(t, fiber.StatusOK, status, raw)

	p := decodeProduct(t, body)
	assert.Equal(t, "out", p.StockStatus)
	require.NotNil(t, p.MainImageURL)
	assert.NotEqual(t, *created.MainImageURL, *p.MainImageURL)
	assert.Len(t, p.AdditionalImageURLs, 2)
	assert.Equal(t, created.AdditionalImageURLs[0], p.AdditionalImageURLs[0])
	assert.Equal(t, 3, env.fileCount(t))

	old := strings.TrimPrefix(*created.MainImageURL, testBaseURL)
	resp, err := env.app.Test(httptest.NewRequest(fiber.MethodGet, old, nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestRemoveImageAndDelete(t *testing.T) {
	env := setupApp(t)
	created := env.createWidget(t, "user-a",
		pngFile(handlers.FieldMainImage, "main.png"),
		pngFile(handlers.FieldAdditionalImages, "a.png"),
		pngFile(handlers.FieldAdditionalImages, "b.png"))
	require.Equal(t, 3, env.fileCount(t))

	target := "/api/v1/products/" + created.ID + "/images?image=" + created.AdditionalImageURLs[0]
	status, body, raw := env.do(t, httptest.NewRequest(fiber.MethodDelete, target, nil), "user-a")
	require.Equal(t, fiber.StatusOK, status, raw)
	p := decodeProduct(t, body)
	assert.Equal(t, created.AdditionalImageURLs[1:], p.AdditionalImageURLs)
	assert.Equal(t, 2, env.fileCount(t))

	status, _, _ = env.do(t, httptest.NewRequest(fiber.MethodDelete, target, nil), "user-a")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body, _ = env.do(t, httptest.NewRequest(fiber.MethodDelete, "/api/v1/products/"+created.ID, nil), "user-a")
	assert.Equal(t, fiber.StatusOK, status)
	assert.True(t, body.Success)
	assert.Zero(t, env.fileCount(t))

	status, body, _ = env.do(t, httptest.NewRequest(fiber.MethodDelete, "/api/v1/products/"+created.ID, nil), "user-a")
	assert.Equal(t, fiber.StatusOK, status)
	assert.True(t, body.Success)

	status, _, _ = env.do(t, httptest.NewRequest(fiber.MethodGet, "/api/v1/products/"+created.ID, nil), "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestAttachImages(t *testing.T) {
	env := setupApp(t)
	created := env.createWidget(t, "user-a")

	req := multipartRequest(t, fiber.MethodPost, "/api/v1/products/"+created.ID+"/images", nil,
		pngFile(handlers.FieldMainImage, "m.png"), pngFile(handlers.FieldAdditionalImages, "a.png"))
	status, body, raw := env.do(t, req, "user-a")
	require.Equal(t, fiber.StatusOK, status, raw)

	p := decodeProduct(t, body)
	assert.NotNil(t, p.MainImageURL)
	assert.Len(t, p.AdditionalImageURLs, 1)
	assert.Equal(t, "Widget", p.Name)

	status, _, _ = env.do(t, multipartRequest(t, fiber.MethodPost, "/api/v1/products/"+created.ID+"/images", nil), "user-a")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestListProducts_Pagination(t *testing.T) {
	env := setupApp(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		require.NoError(t, env.repo.Create(ctx, &models.Product{
			UserID:    "user-a",
			Name:      fmt.Sprintf("Widget %02d", i),
			Category:  "tools",
			Condition: models.ConditionNew,
			Price:     decimal.NewFromInt(int64(i + 1)),
			Stock:     i,
			Active:    true,
			SKU:       fmt.Sprintf("WID-%02d", i),
			Tags:      []string{},
		}))
	}
	require.NoError(t, env.repo.Create(ctx, &models.Product{
		UserID: "user-b", Name: "Gizmo", Category: "toys", Condition: models.ConditionNew,
		Price: decimal.NewFromInt(5), Active: true, SKU: "GIZ-1", Tags: []string{},
	}))

	status, body, raw := env.do(t, httptest.NewRequest(fiber.MethodGet, "/api/v1/products?search=widget&page=2&limit=5", nil), "")
	require.Equal(t, fiber.StatusOK, status, raw)
	require.NotNil(t, body.Pagination)
	assert.Equal(t, query.Pagination{
		CurrentPage:   2,
		TotalPages:    3,
		TotalProducts: 12,
		HasNext:       true,
		HasPrev:       true,
		PageSize:      5,
	}, *body.Pagination)

	var items []productJSON
	require.NoError(t, json.Unmarshal(body.Data, &items))
	require.Len(t, items, 5)
	assert.Empty(t, items[0].UserID)

	status, body, _ = env.do(t, httptest.NewRequest(fiber.MethodGet, "/api/v1/products?priceMin=10&priceMax=2", nil), "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.False(t, body.Success)

	status, body, _ = env.do(t, httptest.NewRequest(fiber.MethodGet, "/api/v1/products/mine", nil), "user-b")
	require.Equal(t, fiber.StatusOK, status)
	require.NoError(t, json.Unmarshal(body.Data, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "Gizmo", items[0].Name)

	status, body, _ = env.do(t, httptest.NewRequest(fiber.MethodGet, "/api/v1/products/categories", nil), "")
	require.Equal(t, fiber.StatusOK, status)
	var cats []string
	require.NoError(t, json.Unmarshal(body.Data, &cats))
	assert.Equal(t, []string{"tools", "toys"}, cats)
}
