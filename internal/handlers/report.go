package handlers

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"texreport/internal/job"
	"texreport/internal/latex"
	u "texreport/internal/utils"
)

//go:embed web/index.html
var indexHTML []byte

// GenerateRequest is the JSON body of POST /generate-pdf.
type GenerateRequest struct {
	Name        FormValue `json:"name"`
	RegNumber   FormValue `json:"regNumber"`
	TeacherName FormValue `json:"teacherName"`
	Pronoun     FormValue `json:"pronoun"`
}

// FormValue is a request field. Numbers and booleans are accepted and kept in
// their JSON literal form; objects and arrays are rejected.
type FormValue string

// UnmarshalJSON implements json.Unmarshaler.
func (v *FormValue) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = FormValue(s)
		return nil
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == '{' || b[0] == '[' {
		return fmt.Errorf("expected a string, number or boolean, got %s", b)
	}
	*v = FormValue(b)
	return nil
}

// ReportService bundles configuration and dependencies for report generation.
type ReportService struct {
	Config   *u.Config
	Redis    *redis.Client
	Renderer *latex.Renderer
	Runner   *job.Runner

	now func() time.Time
}

// NewReportService creates a ReportService from the configuration. rdb may be
// nil, which disables the PDF cache.
func NewReportService(cfg u.Config, rdb *redis.Client) (*ReportService, error) {
	renderer, err := latex.NewRenderer(latex.EscapePolicy(cfg.Template.Escape), cfg.Paths.Font)
	if err != nil {
		return nil, err
	}
	return &ReportService{
		Config:   &cfg,
		Redis:    rdb,
		Renderer: renderer,
		Runner:   job.NewRunner(job.OptionsFromConfig(cfg)),
		now:      time.Now,
	}, nil
}

// HandleIndex serves the HTML form.
func (svc *ReportService) HandleIndex(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(indexHTML)
}

// HandleGenerate renders the report, compiles it and returns the PDF URL.
func (svc *ReportService) HandleGenerate(c *fiber.Ctx) error {
	req, err := svc.parseRequest(c)
	if err != nil {
		return err
	}

	source, err := svc.Renderer.Render(latex.Fields{
		Name:        string(req.Name),
		RegNumber:   string(req.RegNumber),
		TeacherName: string(req.TeacherName),
		Pronoun:     string(req.Pronoun),
		Date:        svc.reportDate(),
	})
	if err != nil {
		u.Error("Template rendering failed", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	artifact, err := svc.compile(c, source)
	if err != nil {
		u.Error("PDF generation failed", "error", err, "request_id", c.GetRespHeader(fiber.HeaderXRequestID))
		return httpError(err)
	}

	u.Info("PDF generated", "url", artifact.URL, "bytes", artifact.Size, "request_id", c.GetRespHeader(fiber.HeaderXRequestID))
	return c.JSON(fiber.Map{
		"success": true,
		"pdf_url": artifact.URL,
	})
}

func (svc *ReportService) parseRequest(c *fiber.Ctx) (*GenerateRequest, error) {
	var req GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid request body: expected JSON")
	}

	limit := svc.Config.Limits.MaxFieldBytes
	if limit > 0 {
		for field, v := range map[string]FormValue{
			"name":        req.Name,
			"regNumber":   req.RegNumber,
			"teacherName": req.TeacherName,
			"pronoun":     req.Pronoun,
		} {
			if len(v) > limit {
				return nil, fiber.NewError(fiber.StatusRequestEntityTooLarge, fmt.Sprintf("Field %s exceeds %d bytes", field, limit))
			}
		}
	}
	return &req, nil
}

// compile serves the PDF from the Redis cache when possible, otherwise runs a
// compilation job. A cache hit is still published under a new filename.
func (svc *ReportService) compile(c *fiber.Ctx, source string) (*job.Artifact, error) {
	cacheOn := svc.Redis != nil && svc.Config.Cache.PDFCacheEnabled
	key := computeCacheKey(source)

	if cacheOn {
		if cached, err := getCachedPDF(c, svc.Redis, key); err == nil && cached != nil {
			return svc.Runner.PublishBytes(cached)
		}
	}

	artifact, err := svc.Runner.Run(c.UserContext(), source)
	if err != nil {
		return nil, err
	}

	if cacheOn {
		data, err := os.ReadFile(artifact.Path)
		if err != nil {
			u.Warn("Cannot read published PDF for caching", "path", artifact.Path, "error", err)
		} else {
			setCachedPDF(c, svc.Redis, key, data, svc.Config.Cache.PDFCacheTTL)
		}
	}
	return artifact, nil
}

func (svc *ReportService) reportDate() string {
	if svc.Config.Template.Date != "" {
		return svc.Config.Template.Date
	}
	return svc.now().Format("January, 2006")
}

// httpError maps job failures to HTTP errors. Compiler diagnostics are passed
// through verbatim.
func httpError(err error) error {
	switch {
	case errors.Is(err, job.ErrTimeout):
		return fiber.NewError(fiber.StatusRequestTimeout, err.Error())
	case errors.Is(err, job.ErrArtifactMissing):
		return fiber.NewError(fiber.StatusInternalServerError, job.ErrArtifactMissing.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
