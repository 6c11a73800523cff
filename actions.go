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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/apiserver"
	"github.com/andrewimpellitteri/awning-wo-sub000/artifact"
	"github.com/andrewimpellitteri/awning-wo-sub000/cache"
	"github.com/andrewimpellitteri/awning-wo-sub000/cnf"
	"github.com/andrewimpellitteri/awning-wo-sub000/eval"
	"github.com/andrewimpellitteri/awning-wo-sub000/model"
	"github.com/andrewimpellitteri/awning-wo-sub000/model/registry"
	"github.com/andrewimpellitteri/awning-wo-sub000/orders"
	"github.com/andrewimpellitteri/awning-wo-sub000/prediction"
	"github.com/andrewimpellitteri/awning-wo-sub000/training"
	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

const (
	errColor = color.FgHiRed
	okColor  = color.FgHiGreen
)

func exitWithError(err error, code int) {
	color.New(errColor).Fprintln(os.Stderr, err)
	os.Exit(code)
}

func openComponents(ctx context.Context, conf *cnf.Conf) (apiserver.Components, func(), error) {
	src, closeSrc, err := orders.Open(ctx, conf.OrdersDB)
	if err != nil {
		return apiserver.Components{}, nil, fmt.Errorf("failed to open orders database: %w", err)
	}
	store, closeStore, err := artifact.Open(conf.ArtifactStore)
	if err != nil {
		closeSrc()
		return apiserver.Components{}, nil, fmt.Errorf("failed to open artifact store: %w", err)
	}
	loc := conf.Location()
	clock := func() time.Time { return time.Now().In(loc) }

	models := cache.NewModelCache(
		&registry.StoreLoader{Store: store},
		cache.WithTTL(conf.ModelCache.TTL()),
		cache.WithLoadTimeout(conf.ArtifactStore.Timeout()),
	)
	comps := apiserver.Components{
		Store:  store,
		Models: models,
		Trainer: training.NewTrainer(
			src, store, models, training.OptionsFromConf(conf.Training), clock),
		Predictor: prediction.NewService(
			models, store, src, conf.Prediction.IntervalHalfWidthDays, clock),
		Evaluator: eval.NewEvaluator(store, src, clock),
	}
	closeFn := func() {
		if err := closeStore(); err != nil {
			log.Error().Err(err).Msg("failed to close artifact store")
		}
		closeSrc()
	}
	return comps, closeFn, nil
}

func runServer(conf *cnf.Conf, version cnf.VersionInfo) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	comps, closeFn, err := openComponents(ctx, conf)
	if err != nil {
		exitWithError(err, exitErrorFailedToOpenComponents)
	}
	defer closeFn()
	apiserver.Run(ctx, conf, version, comps)
}

func runTraining(conf *cnf.Conf, fullData bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	comps, closeFn, err := openComponents(ctx, conf)
	if err != nil {
		exitWithError(err, exitErrorFailedToOpenComponents)
	}
	defer closeFn()

	mode := model.ModeInteractive
	if fullData {
		mode = model.ModeCron
	}
	tm, err := comps.Trainer.Run(ctx, mode)
	if err != nil {
		closeFn()
		exitWithError(err, exitErrorTrainingFailed)
	}
	md := tm.Metadata
	color.New(okColor).Fprintf(os.Stderr, "published model %s\n", md.Name)
	fmt.Fprintf(os.Stderr, "\tmodel type:\t%s\n", md.ModelType)
	fmt.Fprintf(os.Stderr, "\tfeatures:\t%d\n", len(md.FeatureColumns))
	fmt.Fprintf(os.Stderr, "\tusable rows:\t%d (excluded: %d)\n", md.UsableRows, md.ExcludedRows)
	fmt.Fprintf(os.Stderr, "\tsamples:\t%d training, %d holdout\n", md.TrainingSamples, md.HoldoutSamples)
	fmt.Fprintf(
		os.Stderr, "\tmetrics (%s):\tMAE %01.2f, RMSE %01.2f, R2 %01.3f\n",
		md.MetricsScope, md.MAE, md.RMSE, md.R2)
}

func runSnapshot(conf *cnf.Conf) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	comps, closeFn, err := openComponents(ctx, conf)
	if err != nil {
		exitWithError(err, exitErrorFailedToOpenComponents)
	}
	defer closeFn()

	summary, err := comps.Predictor.GenerateSnapshot(ctx)
	if err != nil {
		closeFn()
		exitWithError(err, exitErrorSnapshotFailed)
	}
	color.New(okColor).Fprintf(
		os.Stderr, "stored %s: %d predictions, %d skipped (model %s)\n",
		summary.Key, summary.Generated, summary.Skipped, summary.ModelName)
}

func runEvaluation(conf *cnf.Conf, asJSON bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	comps, closeFn, err := openComponents(ctx, conf)
	if err != nil {
		exitWithError(err, exitErrorFailedToOpenComponents)
	}
	defer closeFn()

	numSnapshots, err := comps.Evaluator.NumSnapshots(ctx)
	if err != nil {
		closeFn()
		exitWithError(err, exitErrorEvaluationFailed)
	}
	bar := progressbar.Default(int64(numSnapshots), "evaluating snapshots")
	comps.Evaluator.SetProgressReporter(bar)
	report, err := comps.Evaluator.Report(ctx)
	if err != nil {
		closeFn()
		exitWithError(err, exitErrorEvaluationFailed)
	}
	bar.Finish()

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			closeFn()
			exitWithError(err, exitErrorEvaluationFailed)
		}
		return
	}
	fmt.Println()
	for _, se := range report.Snapshots {
		fmt.Printf(
			"%s\tevaluated: %d\topen: %d\tskipped: %d\tMAE: %01.2f [%01.2f, %01.2f]\tRMSE: %01.2f\n",
			se.Date, se.NumEvaluated, se.NumOpen, se.NumSkipped,
			se.MAE, se.MAECI.Lower, se.MAECI.Upper, se.RMSE)
	}
	fmt.Printf(
		"\ntrend: %s (slope %01.3f, p = %01.3f, points: %d)\n",
		report.Trend.Direction, report.Trend.Slope, report.Trend.PValue, report.Trend.NumPoints)
	stMsg := fmt.Sprintf(
		"model staleness: r = %01.2f, p = %01.3f",
		report.Staleness.Correlation, report.Staleness.PValue)
	if report.Staleness.DegradesWithAge {
		color.New(errColor).Println(stMsg + ", errors grow with model age")

	} else {
		fmt.Println(stMsg)
	}
}

func runCleanup(conf *cnf.Conf, keep int) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	store, closeStore, err := artifact.Open(conf.ArtifactStore)
	if err != nil {
		exitWithError(err, exitErrorFailedToOpenComponents)
	}
	defer closeStore()
	if keep == 0 {
		keep = conf.Retention.KeepScheduled
	}
	deleted, err := registry.Cleanup(ctx, store, keep)
	if err != nil {
		closeStore()
		exitWithError(err, exitErrorCleanupFailed)
	}
	for _, key := range deleted {
		fmt.Fprintf(os.Stderr, "\tdeleted %s\n", key)
	}
	color.New(okColor).Fprintf(os.Stderr, "removed %d objects, kept %d newest scheduled models\n", len(deleted), keep)
}
