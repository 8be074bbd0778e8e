package middleware

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/paperlogin/paperlogin/internal/kvstore"
	"github.com/paperlogin/paperlogin/internal/logging"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyNamespace = "idempotency:v1:"

	fieldState   = "state"
	fieldStatus  = "status"
	fieldBody    = "body"
	fieldHeaders = "headers"

	stateInProgress = "in_progress"
	stateDone       = "done"
)

// Idempotency replays the stored response for a repeated Idempotency-Key on
// unsafe methods. Requests without the header pass through untouched.
// Responses are kept in store under keyPrefix for ttl.
func Idempotency(store kvstore.Store, keyPrefix string, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := c.Get(idempotencyKeyHeader)
		if key == "" {
			return c.Next()
		}

		ctx := c.UserContext()
		log := logging.FromContext(ctx, logger)
		cacheKey := keyPrefix + idempotencyNamespace + c.Method() + ":" + c.Path() + ":" + key

		reserved, err := store.PutRecord(ctx, cacheKey, map[string]string{fieldState: stateInProgress}, ttl, kvstore.PutIfAbsent)
		if err != nil {
			log.Error("idempotency reservation failed", slog.String("key", key), slog.Any("error", err))
			return err
		}
		if !reserved {
			return replay(c, store, cacheKey, key, log)
		}

		release := func() {
			if _, derr := store.Delete(ctx, cacheKey); derr != nil {
				log.Warn("idempotency cleanup failed", slog.String("key", key), slog.Any("error", derr))
			}
		}
		// A panicking handler must not leave the key reserved until ttl.
		defer func() {
			if r := recover(); r != nil {
				release()
				panic(r)
			}
		}()

		if err := c.Next(); err != nil {
			release()
			return err
		}

		headers := map[string]string{}
		c.Response().Header.VisitAll(func(k, v []byte) {
			name := string(k)
			if strings.EqualFold(name, fiber.HeaderContentLength) || strings.EqualFold(name, requestIDHeader) {
				return
			}
			headers[name] = string(v)
		})
		encoded, err := json.Marshal(headers)
		if err != nil {
			log.Error("failed to encode idempotent response", slog.String("key", key), slog.Any("error", err))
			release()
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency persistence failure")
		}

		stored := map[string]string{
			fieldState:   stateDone,
			fieldStatus:  strconv.Itoa(c.Response().StatusCode()),
			fieldBody:    string(c.Response().Body()),
			fieldHeaders: string(encoded),
		}
		if _, err := store.PutRecord(ctx, cacheKey, stored, ttl, kvstore.PutAlways); err != nil {
			// The response is already produced; a retry will simply run again.
			log.Error("failed to persist idempotent response", slog.String("key", key), slog.Any("error", err))
			release()
		}
		return nil
	}
}

func replay(c *fiber.Ctx, store kvstore.Store, cacheKey, key string, log *slog.Logger) error {
	fields, err := store.GetFields(c.UserContext(), cacheKey)
	if err != nil {
		log.Error("idempotency lookup failed", slog.String("key", key), slog.Any("error", err))
		return err
	}
	if fields[fieldState] != stateDone {
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}

	status, err := strconv.Atoi(fields[fieldStatus])
	if err != nil {
		log.Warn("failed to decode stored idempotent response", slog.String("key", key), slog.Any("error", err))
		return fiber.NewError(fiber.StatusConflict, "duplicate request")
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(fields[fieldHeaders]), &headers); err != nil {
		log.Warn("failed to decode stored idempotent response", slog.String("key", key), slog.Any("error", err))
		return fiber.NewError(fiber.StatusConflict, "duplicate request")
	}
	for header, value := range headers {
		c.Set(header, value)
	}
	c.Set("Idempotent-Replayed", "true")
	return c.Status(status).SendString(fields[fieldBody])
}
