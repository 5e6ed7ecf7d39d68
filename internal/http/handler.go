package http

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"github.com/pariz/gountries"

	"pixelry/internal/config"
	"pixelry/internal/privacy"
	"pixelry/internal/visits"
)

// transparentPixel is the 1x1 transparent PNG the beacon endpoint returns.
var transparentPixel = func() []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1)))
	return buf.Bytes()
}()

// Handler bundles the HTTP actions with their collaborators.
type Handler struct {
	cfg       *config.Config
	pipeline  *visits.Pipeline
	dbManager cartridge.DBManager
	countries *gountries.Query
	logger    *slog.Logger
}

func NewHandler(cfg *config.Config, pipeline *visits.Pipeline, dbManager cartridge.DBManager, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		pipeline:  pipeline,
		dbManager: dbManager,
		countries: gountries.New(),
		logger:    logger,
	}
}

// PixelAction serves the tracking pixel. The request is rewritten into a
// pseudo edge-log line and pushed through the same ingestion pipeline as
// CDN deliveries. The pixel is always returned with a 200, even when
// ingestion fails; a broken collector must never break the page embedding it.
func (h *Handler) PixelAction(c *fiber.Ctx) error {
	h.ingestDirectHit(c)

	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderCacheControl, "no-store, max-age=0")
	return c.Status(fiber.StatusOK).Send(transparentPixel)
}

// PingAction is the beacon variant used by navigator.sendBeacon, where no
// image response is needed.
func (h *Handler) PingAction(c *fiber.Ctx) error {
	h.ingestDirectHit(c)
	return c.Status(fiber.StatusOK).SendString("ok")
}

func (h *Handler) ingestDirectHit(c *fiber.Ctx) {
	// Shape the request as one edge-log line so direct pings and CDN log
	// deliveries share a single normalization path.
	line := fmt.Sprintf("HIT|200|%d|||%s|%s|%s||%s|%s|",
		time.Now().UnixMilli(),
		getClientIP(c, h.logger),
		c.Get(fiber.HeaderReferer),
		c.Protocol()+"://"+c.Hostname()+c.OriginalURL(),
		c.Get(fiber.HeaderUserAgent),
		uuid.NewString(),
	)

	if err := h.pipeline.Ingest(line); err != nil {
		h.logger.Error("Direct hit ingestion failed", slog.Any("error", err))
	}
}

// LogsAction accepts a blob of newline-separated edge-log lines. The shipper
// treats any 2xx as delivered, so the response is 202 regardless of how many
// lines survived normalization; a batch-level storage failure is a 500 so the
// shipper retries.
func (h *Handler) LogsAction(c *fiber.Ctx) error {
	if err := h.pipeline.Ingest(string(c.Body())); err != nil {
		h.logger.Error("Log batch ingestion failed", slog.Any("error", err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to persist batch",
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

// KeypairAction mints a tenant key pair: a random public token for the beacon
// to send, and the derived key material the tenant keeps to decrypt their own
// data. Nothing is stored server-side; the same token always derives the same
// material.
func (h *Handler) KeypairAction(c *fiber.Ctx) error {
	length := c.QueryInt("length", 14)
	if length < 8 {
		length = 8
	}
	if length > 64 {
		length = 64
	}

	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		h.logger.Error("Keypair generation failed", slog.Any("error", err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "could not generate key",
		})
	}
	publicKey := hex.EncodeToString(raw)

	privateKey := privacy.DeriveKeyMaterial(publicKey, h.cfg.ServerSecret)

	return c.JSON(fiber.Map{
		"public_key":           publicKey,
		"public_key_length":    length,
		"private_key":          privateKey,
		"private_key_length":   len(privateKey),
		"url_safe_private_key": url.QueryEscape(privateKey),
		"strength":             fmt.Sprintf("%d bit", len(privateKey)*16),
	})
}

// SummariesAction returns the stored aggregate document for a host and
// period. Hosts ingested under a tenant key must be requested by their
// ciphertext value, which is all the server ever saw.
func (h *Handler) SummariesAction(c *fiber.Ctx) error {
	host := c.Query("host")
	if host == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "host parameter is required",
		})
	}
	period := c.Query("period")
	if period == "" {
		period = visits.PreviousMonth(time.Now())
	}

	summary, err := visits.GetSummary(h.dbManager.GetConnection(), host, period)
	if err != nil {
		h.logger.Error("Summary lookup failed", slog.Any("error", err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "summary lookup failed",
		})
	}
	if summary == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no summary for host and period",
		})
	}

	var document map[string]interface{}
	if err := json.Unmarshal([]byte(summary.Data), &document); err != nil {
		h.logger.Error("Summary document is corrupt",
			slog.String("host", summary.Host),
			slog.String("period", summary.Date),
			slog.Any("error", err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "stored summary is unreadable",
		})
	}

	document["country_names"] = h.countryNames(document)
	document["period"] = summary.Date

	return c.JSON(document)
}

// countryNames maps the ISO codes in the country_code dimension to display
// names. Unknown or encrypted values are left out.
func (h *Handler) countryNames(document map[string]interface{}) map[string]string {
	names := make(map[string]string)
	byCountry, ok := document["country_code"].(map[string]interface{})
	if !ok {
		return names
	}
	for code := range byCountry {
		country, err := h.countries.FindCountryByAlpha(code)
		if err != nil {
			continue
		}
		names[code] = country.Name.Common
	}
	return names
}

// HealthAction reports process and database health.
func (h *Handler) HealthAction(c *fiber.Ctx) error {
	dbStatus := "ok"

	db := h.dbManager.GetConnection()
	if db == nil {
		dbStatus = "error"
	} else if sqlDB, err := db.DB(); err != nil {
		dbStatus = "error"
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error"
	}

	status := "ok"
	code := fiber.StatusOK
	if dbStatus != "ok" {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"db_status": dbStatus,
		"timestamp": time.Now().UTC(),
	})
}
