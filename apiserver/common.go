// Copyright 2025 Tomas Machalek <tomas.machalek@gmail.com>
// Copyright 2025 Department of Linguistics,
// Faculty of Arts, Charles University
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apiserver

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/cache"
	"github.com/andrewimpellitteri/awning-wo-sub000/cnf"
	"github.com/andrewimpellitteri/awning-wo-sub000/model/registry"
	"github.com/andrewimpellitteri/awning-wo-sub000/prediction"
	"github.com/andrewimpellitteri/awning-wo-sub000/training"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	cronSecretHeader = "X-Cron-Secret"

	// maxSecretBodySize limits bodies read before authentication
	maxSecretBodySize = 4096
)

type service interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}

// ------

type failure struct {
	Error     string    `json:"error"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func failureReason(err error) (string, int) {
	switch {
	case errors.Is(err, training.ErrInsufficientData):
		return "insufficient_data", http.StatusUnprocessableEntity
	case errors.Is(err, training.ErrNoFeatures):
		return "no_features", http.StatusUnprocessableEntity
	case errors.Is(err, prediction.ErrSnapshotExists):
		return "snapshot_exists", http.StatusConflict
	case errors.Is(err, prediction.ErrNoModel), errors.Is(err, cache.ErrUnavailable):
		return "model_unavailable", http.StatusServiceUnavailable
	case errors.Is(err, registry.ErrArtifactUnavailable):
		return "artifact_unavailable", http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", http.StatusGatewayTimeout
	}
	return "internal_error", http.StatusInternalServerError
}

func respondWithFailure(ctx *gin.Context, err error, status int, reason string) {
	ctx.AbortWithStatusJSON(
		status,
		failure{Error: err.Error(), Reason: reason, Timestamp: time.Now()},
	)
}

// respondWithError derives both the reason and the HTTP status
// from the error.
func respondWithError(ctx *gin.Context, err error) {
	reason, status := failureReason(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("reason", reason).Msg("request failed")
	}
	respondWithFailure(ctx, err, status, reason)
}

// -----

type secretPayload struct {
	Secret string `json:"secret"`
}

// secretMiddleware accepts a request only if it carries the configured
// shared secret either in the X-Cron-Secret header or in the `secret`
// field of a JSON body. With no secret configured, the endpoints
// are disabled.
func secretMiddleware(conf *cnf.Conf) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if conf.CronSecret == "" {
			respondWithFailure(
				ctx, errors.New("endpoint disabled"), http.StatusForbidden, "forbidden")
			return
		}
		provided := ctx.GetHeader(cronSecretHeader)
		if provided == "" && ctx.Request.Body != nil {
			body, err := io.ReadAll(
				http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxSecretBodySize))
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				log.Warn().Str("path", ctx.Request.URL.Path).Msg("rejected oversized unauthenticated body")
				respondWithFailure(
					ctx, errors.New("request body too large"),
					http.StatusRequestEntityTooLarge, "request_too_large")
				return
			}
			if err == nil && len(body) > 0 {
				var payload secretPayload
				if json.Unmarshal(body, &payload) == nil {
					provided = payload.Secret
				}
			}
			ctx.Request.Body = io.NopCloser(bytes.NewReader(body))
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(conf.CronSecret)) != 1 {
			log.Warn().Str("path", ctx.Request.URL.Path).Msg("rejected request with invalid secret")
			respondWithFailure(
				ctx, errors.New("invalid secret"), http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx.Next()
	}
}

func corsMiddleware(conf *cnf.Conf) gin.HandlerFunc {
	return func(ctx *gin.Context) {

		var allowedOrigin string
		currOrigin := ctx.Request.Header.Get("Origin")
		for _, origin := range conf.CorsAllowedOrigins {
			if currOrigin == origin || origin == "*" {
				allowedOrigin = origin
				break
			}
		}
		if allowedOrigin != "" {
			ctx.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			ctx.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			ctx.Writer.Header().Set(
				"Access-Control-Allow-Headers",
				"Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With, X-Cron-Secret",
			)
			ctx.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		}

		if ctx.Request.Method == "OPTIONS" {
			ctx.AbortWithStatus(204)
			return
		}
		ctx.Next()
	}
}
