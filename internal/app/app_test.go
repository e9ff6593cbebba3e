package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridexport/internal/config"
	apierrors "gridexport/internal/errors"
	"gridexport/internal/shared/testutil"
)

const testGrids = `
grids:
  - name: product_listing
    query: SELECT entity_id, sku, name, attribute_set_id, websites FROM products
    id_column: entity_id
    search_columns: [sku, name]
    columns:
      - {name: ids, label: "", data_type: text, visible: true}
      - {name: entity_id, label: ID, data_type: number, visible: true}
      - {name: sku, label: SKU, data_type: text, visible: true}
      - {name: name, label: Name, data_type: text, visible: true}
      - {name: attribute_set_id, label: Attribute Set, data_type: select, visible: true}
      - {name: websites, label: Websites, data_type: text, visible: true, list_separator: ","}
      - {name: actions, label: Actions, data_type: actions, visible: true}
`

const testSchema = `
CREATE TABLE products (
	entity_id INTEGER PRIMARY KEY,
	sku TEXT NOT NULL,
	name TEXT,
	attribute_set_id INTEGER,
	websites TEXT
);
CREATE TABLE eav_attribute_set (attribute_set_id INTEGER PRIMARY KEY, attribute_set_name TEXT NOT NULL);
CREATE TABLE store_website (website_id INTEGER PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE ui_bookmark (
	bookmark_id INTEGER PRIMARY KEY AUTOINCREMENT,
	namespace TEXT NOT NULL,
	identifier TEXT NOT NULL,
	config TEXT
);
INSERT INTO products VALUES
	(1, 'SKU-1', 'Shirt', 4, '1,2'),
	(2, 'SKU-2', 'Trousers', 4, '1'),
	(3, 'SKU-3', 'Hat', 4, '2');
INSERT INTO eav_attribute_set VALUES (4, 'Default');
INSERT INTO store_website VALUES (1, 'Main Website'), (2, 'Outlet');
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	gridsFile := filepath.Join(dir, "grids.yaml")
	require.NoError(t, os.WriteFile(gridsFile, []byte(testGrids), 0644))

	cfg := config.Default()
	cfg.Paths = config.PathsConfig{
		VarDir:    filepath.Join(dir, "var"),
		GridsFile: gridsFile,
		LogsDir:   filepath.Join(dir, "logs"),
	}
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(dir, "catalog.db")
	cfg.Export.PageSize = 2
	cfg.Security.RateLimit.Enabled = false
	return cfg
}

func newTestApplication(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)

	app, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { app.closeResources(context.Background()) })

	_, err = app.DB.ExecContext(context.Background(), testSchema)
	require.NoError(t, err)
	return app
}

func (a *Application) serve(method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)
	app := newTestApplication(t, cfg)

	assert.NotNil(t, app.Router)
	assert.NotNil(t, app.ExportService)
	assert.NotNil(t, app.HealthService)
	assert.Equal(t, []string{"product_listing"}, app.Grids.Names())

	assert.Equal(t, ":8080", app.Server.Addr)
	assert.Equal(t, cfg.Server.ReadTimeout, app.Server.ReadTimeout)
	assert.Equal(t, cfg.Server.WriteTimeout, app.Server.WriteTimeout)
	assert.Equal(t, cfg.Server.MaxHeaderBytes, app.Server.MaxHeaderBytes)

	assert.DirExists(t, filepath.Join(cfg.Paths.VarDir, "export"))
	assert.DirExists(t, cfg.Paths.LogsDir)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
		want   string
	}{
		{"unsupported driver", func(cfg *config.Config) { cfg.Database.Driver = "oracle" }, "failed to open database"},
		{"missing grids file", func(cfg *config.Config) { cfg.Paths.GridsFile += ".missing" }, "failed to load grid definitions"},
		{"bad timezone", func(cfg *config.Config) { cfg.Export.Timezone = "Mars/Olympus" }, "invalid export date settings"},
		{"bad cleanup schedule", func(cfg *config.Config) { cfg.Export.CleanupSchedule = "every now and then" }, "failed to create export janitor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)

			_, err := New(cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplication_ExportCSV(t *testing.T) {
	app := newTestApplication(t, testConfig(t))

	w := app.serve(http.MethodGet, "/api/export/product_listing/csv")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	rows, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"ID", "SKU", "Name", "Attribute Set", "Websites"},
		{"1", "SKU-1", "Shirt", "Default", "Main Website, Outlet"},
		{"2", "SKU-2", "Trousers", "Default", "Main Website"},
		{"3", "SKU-3", "Hat", "Default", "Outlet"},
	}, rows)
}

func TestApplication_ExportJSONLWithSelection(t *testing.T) {
	app := newTestApplication(t, testConfig(t))

	w := app.serve(http.MethodGet, "/api/export/product_listing/jsonl?excluded=2&search=h")

	require.Equal(t, http.StatusOK, w.Code)
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "SKU-1", first["sku"])
	assert.Equal(t, []interface{}{"Main Website", "Outlet"}, first["websites"])
}

func TestApplication_Routes(t *testing.T) {
	app := newTestApplication(t, testConfig(t))

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
	}{
		{"health", http.MethodGet, "/api/health", http.StatusOK},
		{"liveness", http.MethodGet, "/api/health/live", http.StatusOK},
		{"version", http.MethodGet, "/api/version", http.StatusOK},
		{"stats", http.MethodGet, "/api/stats", http.StatusOK},
		{"grids", http.MethodGet, "/api/export/grids", http.StatusOK},
		{"head export", http.MethodHead, "/api/export/product_listing/csv", http.StatusOK},
		{"unknown grid", http.MethodGet, "/api/export/customer_listing/jsonl", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/nothing", http.StatusNotFound},
		{"method not allowed", http.MethodDelete, "/api/export/product_listing/csv", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := app.serve(tt.method, tt.target)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestApplication_UnknownGridProblem(t *testing.T) {
	app := newTestApplication(t, testConfig(t))

	w := app.serve(http.MethodGet, "/api/export/customer_listing/csv")

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, apierrors.TypeGridNotFound, problem["type"])
}

func TestApplication_FileExportRoundTrip(t *testing.T) {
	app := newTestApplication(t, testConfig(t))

	w := app.serve(http.MethodPost, "/api/export/product_listing/file?selected=3")
	require.Equal(t, http.StatusCreated, w.Code)

	var desc struct {
		Path string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &desc))
	name := filepath.Base(desc.Path)

	w = app.serve(http.MethodGet, "/api/export/files/"+name)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ID,SKU,Name,Attribute Set,Websites\n3,SKU-3,Hat,Default,Outlet\n", w.Body.String())
}

func TestApplication_Metrics(t *testing.T) {
	app := newTestApplication(t, testConfig(t))
	require.Equal(t, http.StatusOK, app.serve(http.MethodGet, "/api/export/product_listing/csv").Code)

	w := app.serve(http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "grid_export")
}

func TestApplication_CORSConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.AllowedOrigins = []string{"https://admin.example.com"}
	app := newTestApplication(t, cfg)

	cors := app.getCORSConfig()
	assert.Equal(t, []string{"https://admin.example.com"}, cors.AllowedOrigins)
	assert.Contains(t, cors.ExposedHeaders, "Content-Disposition")
	assert.Contains(t, cors.AllowedMethods, http.MethodHead)
}

func TestApplication_Run(t *testing.T) {
	cfg := testConfig(t)
	app := newTestApplication(t, cfg)
	app.Server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, app.Janitor.IsRunning, 5*time.Second, 10*time.Millisecond)

	w := app.serve(http.MethodGet, "/api/health/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.False(t, app.Janitor.IsRunning())
}
