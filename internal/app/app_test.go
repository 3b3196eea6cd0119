package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	u "texreport/internal/utils"
)

type generateResponse struct {
	Success bool   `json:"success"`
	PDFURL  string `json:"pdf_url"`
	Error   string `json:"error"`
}

func e2eConfig(t *testing.T, script string) u.Config {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "lualatex")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "static"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "fonts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "static", "Logo.png"), []byte("png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fonts", "TimesNewRoman.ttf"), []byte("ttf"), 0o644))

	cfg := u.DefaultConfig()
	cfg.Paths.InstallRoot = dir
	cfg.Paths.ScratchRoot = filepath.Join(dir, "tmp")
	cfg.Paths.PublishDir = filepath.Join(dir, "static", "pdfs")
	cfg.Compiler.Command = bin
	cfg.Compiler.Timeout = 10 * time.Second
	return cfg
}

func generate(t *testing.T, app *fiber.App) (int, generateResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/generate-pdf",
		strings.NewReader(`{"name":"Jane Doe","regNumber":"12345","teacherName":"Dr. Rao","pronoun":"her"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out generateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestEndToEnd_Success(t *testing.T) {
	cfg := e2eConfig(t, `grep -q 'Ms. ' "$2" || exit 5
printf '%%PDF-1.4 report\n' > document.pdf
`)
	app, err := SetupApp(cfg, nil)
	require.NoError(t, err)

	code, out := generate(t, app)
	require.Equal(t, fiber.StatusOK, code)
	assert.True(t, out.Success)
	assert.Regexp(t, `^/static/pdfs/[0-9a-f-]{36}\.pdf$`, out.PDFURL)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, out.PDFURL, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "%PDF-1.4 report\n", string(body))

	entries, err := os.ReadDir(cfg.Paths.ScratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStaticPDF_GoneAfterRemoval(t *testing.T) {
	cfg := e2eConfig(t, "printf '%%PDF-1.4 report\\n' > document.pdf\n")
	app, err := SetupApp(cfg, nil)
	require.NoError(t, err)

	code, out := generate(t, app)
	require.Equal(t, fiber.StatusOK, code)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, out.PDFURL, nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.NoError(t, os.Remove(filepath.Join(cfg.Paths.PublishDir, filepath.Base(out.PDFURL))))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, out.PDFURL, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestEndToEnd_CompilerFailure(t *testing.T) {
	cfg := e2eConfig(t, `echo "! Emergency stop. <*> document.tex" >&2
exit 1
`)
	app, err := SetupApp(cfg, nil)
	require.NoError(t, err)

	code, out := generate(t, app)
	assert.Equal(t, fiber.StatusInternalServerError, code)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "LaTeX compilation failed")
	assert.Contains(t, out.Error, "! Emergency stop.")
}

func TestSetupApp_HealthAndJSON404(t *testing.T) {
	app, err := SetupApp(e2eConfig(t, "exit 0\n"), nil)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	var out generateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.Success)
	assert.Equal(t, "Not Found", out.Error)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/static/pdfs/missing.pdf", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestSetupApp_InvalidEscapePolicy(t *testing.T) {
	cfg := e2eConfig(t, "exit 0\n")
	cfg.Template.Escape = "html"
	_, err := SetupApp(cfg, nil)
	assert.Error(t, err)
}

func TestErrorHandler_RecoversPanics(t *testing.T) {
	cfg := e2eConfig(t, "exit 0\n")
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	RegisterMiddleware(app, cfg)
	app.Get("/panic", func(c *fiber.Ctx) error { panic("unexpected") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/panic", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	var out generateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.Success)
}
