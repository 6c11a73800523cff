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
	"fmt"
	"net/http"

	"github.com/andrewimpellitteri/awning-wo-sub000/model"
	"github.com/andrewimpellitteri/awning-wo-sub000/model/registry"
	"github.com/andrewimpellitteri/awning-wo-sub000/orders"
	"github.com/czcorpus/cnc-gokit/unireq"
	"github.com/czcorpus/cnc-gokit/uniresp"
	"github.com/gin-gonic/gin"
)

func (api *apiServer) handleVersion(ctx *gin.Context) {
	uniresp.WriteJSONResponse(ctx.Writer, api.version)
}

type trainingResponse struct {
	ModelName string         `json:"modelName"`
	Metadata  model.Metadata `json:"metadata"`
}

func (api *apiServer) train(ctx *gin.Context, mode string) {
	tm, err := api.comps.Trainer.Run(ctx.Request.Context(), mode)
	if err != nil {
		respondWithError(ctx, err)
		return
	}
	uniresp.WriteJSONResponse(
		ctx.Writer,
		trainingResponse{ModelName: tm.Metadata.Name, Metadata: tm.Metadata},
	)
}

func (api *apiServer) handleTrain(ctx *gin.Context) {
	api.train(ctx, model.ModeInteractive)
}

func (api *apiServer) handleScheduledTrain(ctx *gin.Context) {
	api.train(ctx, model.ModeCron)
}

// predictRequest accepts dates in any of the formats orders.ParseDate
// understands. Unparseable dates are treated as missing.
type predictRequest struct {
	ID                  string `json:"id"`
	CustomerID          string `json:"customerId"`
	IntakeDate          string `json:"intakeDate"`
	RequiredDate        string `json:"requiredDate"`
	CleanDate           string `json:"cleanDate"`
	TreatDate           string `json:"treatDate"`
	RushOrder           bool   `json:"rushOrder"`
	FirmRush            bool   `json:"firmRush"`
	SpecialInstructions string `json:"specialInstructions"`
	RepairsNeeded       string `json:"repairsNeeded"`
	StorageTime         string `json:"storageTime"`
}

func (req predictRequest) toRecord() orders.Record {
	return orders.Record{
		ID:                  req.ID,
		CustomerID:          req.CustomerID,
		IntakeDate:          orders.ParseDate(req.IntakeDate),
		RequiredDate:        orders.ParseDate(req.RequiredDate),
		CleanDate:           orders.ParseDate(req.CleanDate),
		TreatDate:           orders.ParseDate(req.TreatDate),
		RushOrder:           req.RushOrder,
		FirmRush:            req.FirmRush,
		SpecialInstructions: req.SpecialInstructions,
		RepairsNeeded:       req.RepairsNeeded,
		StorageTime:         req.StorageTime,
	}
}

func (api *apiServer) handlePredict(ctx *gin.Context) {
	var req predictRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		respondWithFailure(
			ctx, fmt.Errorf("invalid request: %w", err), http.StatusBadRequest, "invalid_request")
		return
	}
	pred, err := api.comps.Predictor.PredictOne(ctx.Request.Context(), req.toRecord())
	if err != nil {
		respondWithError(ctx, err)
		return
	}
	uniresp.WriteJSONResponse(ctx.Writer, pred)
}

func (api *apiServer) handleSnapshot(ctx *gin.Context) {
	summary, err := api.comps.Predictor.GenerateSnapshot(ctx.Request.Context())
	if err != nil {
		respondWithError(ctx, err)
		return
	}
	uniresp.WriteJSONResponse(ctx.Writer, summary)
}

type cleanupResponse struct {
	Kept    int      `json:"kept"`
	Deleted []string `json:"deleted"`
}

func (api *apiServer) handleCleanup(ctx *gin.Context) {
	keep, ok := unireq.GetURLIntArgOrFail(ctx, "keep", api.conf.Retention.KeepScheduled)
	if !ok {
		return
	}
	if keep < 1 {
		respondWithFailure(
			ctx, fmt.Errorf("keep must be a positive number"), http.StatusBadRequest, "invalid_request")
		return
	}
	deleted, err := registry.Cleanup(ctx.Request.Context(), api.comps.Store, keep)
	if err != nil {
		respondWithError(ctx, err)
		return
	}
	uniresp.WriteJSONResponse(ctx.Writer, cleanupResponse{Kept: keep, Deleted: deleted})
}

func (api *apiServer) handleStatus(ctx *gin.Context) {
	uniresp.WriteJSONResponse(ctx.Writer, api.comps.Models.Status())
}

func (api *apiServer) handleEvaluation(ctx *gin.Context) {
	report, err := api.comps.Evaluator.Report(ctx.Request.Context())
	if err != nil {
		respondWithError(ctx, err)
		return
	}
	uniresp.WriteJSONResponse(ctx.Writer, report)
}
