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
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/artifact"
	"github.com/andrewimpellitteri/awning-wo-sub000/cache"
	"github.com/andrewimpellitteri/awning-wo-sub000/cnf"
	"github.com/andrewimpellitteri/awning-wo-sub000/eval"
	"github.com/andrewimpellitteri/awning-wo-sub000/prediction"
	"github.com/andrewimpellitteri/awning-wo-sub000/training"
	"github.com/czcorpus/cnc-gokit/logging"
	"github.com/czcorpus/cnc-gokit/uniresp"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Components are the already initialized parts of the model
// lifecycle the API server exposes.
type Components struct {
	Store     artifact.Store
	Models    *cache.ModelCache
	Trainer   *training.Trainer
	Predictor *prediction.Service
	Evaluator *eval.Evaluator
}

// -----

type apiServer struct {
	conf    *cnf.Conf
	version cnf.VersionInfo
	server  *http.Server
	comps   Components
}

func (api *apiServer) routes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logging.GinMiddleware())
	engine.Use(uniresp.AlwaysJSONContentType())
	engine.Use(corsMiddleware(api.conf))
	engine.NoMethod(uniresp.NoMethodHandler)
	engine.NoRoute(uniresp.NotFoundHandler)

	withSecret := secretMiddleware(api.conf)

	engine.POST("/train", api.handleTrain)
	engine.POST("/train/scheduled", withSecret, api.handleScheduledTrain)
	engine.POST("/predict", api.handlePredict)
	engine.POST("/snapshots", withSecret, api.handleSnapshot)
	engine.POST("/cleanup", withSecret, api.handleCleanup)
	engine.GET("/status", api.handleStatus)
	engine.GET("/evaluation", api.handleEvaluation)
	engine.GET("/version", api.handleVersion)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return engine
}

func (api *apiServer) Start(ctx context.Context) {
	if !api.conf.Logging.Level.IsDebugMode() {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info().Msgf("starting to listen at %s:%d", api.conf.ListenAddress, api.conf.ListenPort)
	api.server = &http.Server{
		Handler:      api.routes(),
		Addr:         fmt.Sprintf("%s:%d", api.conf.ListenAddress, api.conf.ListenPort),
		WriteTimeout: time.Duration(api.conf.ServerWriteTimeoutSecs) * time.Second,
		ReadTimeout:  time.Duration(api.conf.ServerReadTimeoutSecs) * time.Second,
	}
	go func() {
		if err := api.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()
}

func (api *apiServer) Stop(ctx context.Context) error {
	log.Warn().Msg("shutting down turnaround HTTP API server")
	return api.server.Shutdown(ctx)
}

// -------------------------

func Run(
	ctx context.Context,
	conf *cnf.Conf,
	version cnf.VersionInfo,
	comps Components,
) {

	server := &apiServer{
		conf:    conf,
		version: version,
		comps:   comps,
	}

	// warm-up only, an empty store is a valid state
	if _, err := comps.Models.Get(ctx); err != nil {
		log.Warn().Err(err).Msg("no model available at startup")
	}

	services := []service{server}
	for _, m := range services {
		m.Start(ctx)
	}
	<-ctx.Done()
	log.Warn().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range services {
		wg.Add(1)
		go func(srv service) {
			defer wg.Done()
			if err := srv.Stop(shutdownCtx); err != nil {
				log.Error().Err(err).Type("service", srv).Msg("Error shutting down service")
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Graceful shutdown completed")
	case <-shutdownCtx.Done():
		log.Warn().Msg("Shutdown timed out")
	}
}
