// Copyright 2024 Tomas Machalek <tomas.machalek@gmail.com>
// Copyright 2024 Department of Linguistics,
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

package cnf

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/czcorpus/cnc-gokit/logging"
	"github.com/rs/zerolog/log"
)

const (
	dfltServerWriteTimeoutSecs = 30
	dfltServerReadTimeoutSecs  = 10
	dfltTimeZone               = "America/New_York"
	dfltOrdersTable            = "work_orders"
	dfltStoreNamespace         = "turnaround"
	dfltStoreTimeoutSecs       = 10
	dfltCacheTTLSecs           = 300
	dfltConfigName             = "turnaround"
	dfltModelType              = "ridge"
	dfltHoldoutRatio           = 0.2
	dfltRecencyDecay           = 2.0
	dfltOutlierSigmas          = 3.0
	dfltRidgeLambda            = 1.0
	dfltIntervalHalfWidthDays  = 3.0
	dfltKeepScheduled          = 5
)

// OrdersDBConf configures the read-only access to work orders.
// For `postgres` and `mysql`, either DSN or the individual
// connection fields may be used. For `sqlite`, Path is required.
type OrdersDBConf struct {
	Type   string `json:"type"`
	DSN    string `json:"dsn"`
	Host   string `json:"host"`
	User   string `json:"user"`
	Passwd string `json:"passwd"`
	Name   string `json:"db"`
	Path   string `json:"path"`
	Table  string `json:"table"`
}

type ArtifactStoreConf struct {
	Type        string `json:"type"`
	Path        string `json:"path"`
	RedisURL    string `json:"redisUrl"`
	Namespace   string `json:"namespace"`
	TimeoutSecs int    `json:"timeoutSecs"`
}

func (asc ArtifactStoreConf) Timeout() time.Duration {
	return time.Duration(asc.TimeoutSecs) * time.Second
}

type ModelCacheConf struct {
	TTLSecs int `json:"ttlSecs"`
}

func (mcc ModelCacheConf) TTL() time.Duration {
	return time.Duration(mcc.TTLSecs) * time.Second
}

type TrainingConf struct {
	ConfigName    string  `json:"configName"`
	ModelType     string  `json:"modelType"`
	HoldoutRatio  float64 `json:"holdoutRatio"`
	RecencyDecay  float64 `json:"recencyDecay"`
	OutlierSigmas float64 `json:"outlierSigmas"`
	RidgeLambda   float64 `json:"ridgeLambda"`
	Seed          uint64  `json:"seed"`
}

type PredictionConf struct {

	// IntervalHalfWidthDays is a fixed engineering constant used
	// to produce the lower/upper bounds of a single prediction.
	// It is not derived from the model's residuals.
	IntervalHalfWidthDays float64 `json:"intervalHalfWidthDays"`
}

type RetentionConf struct {
	KeepScheduled int `json:"keepScheduled"`
}

type Conf struct {
	srcPath                string
	Logging                logging.LoggingConf `json:"logging"`
	ListenAddress          string              `json:"listenAddress"`
	ListenPort             int                 `json:"listenPort"`
	ServerReadTimeoutSecs  int                 `json:"serverReadTimeoutSecs"`
	ServerWriteTimeoutSecs int                 `json:"serverWriteTimeoutSecs"`
	CorsAllowedOrigins     []string            `json:"corsAllowedOrigins"`
	TimeZone               string              `json:"timeZone"`
	OrdersDB               OrdersDBConf        `json:"ordersDB"`
	ArtifactStore          ArtifactStoreConf   `json:"artifactStore"`
	ModelCache             ModelCacheConf      `json:"modelCache"`
	Training               TrainingConf        `json:"training"`
	Prediction             PredictionConf      `json:"prediction"`
	Retention              RetentionConf       `json:"retention"`

	// CronSecret gates endpoints meant for unattended invocation
	// (scheduled retraining, snapshot generation, cleanup).
	// An empty value disables these endpoints.
	CronSecret string `json:"cronSecret"`
}

func (conf *Conf) SrcPath() string {
	return conf.srcPath
}

// Location returns the configured time zone. ValidateAndDefaults
// guarantees the zone is loadable.
func (conf *Conf) Location() *time.Location {
	loc, err := time.LoadLocation(conf.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func LoadConfig(path string) *Conf {
	if path == "" {
		log.Fatal().Msg("Cannot load config - path not specified")
	}
	rawData, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load config")
	}
	var conf Conf
	conf.srcPath = path
	err = json.Unmarshal(rawData, &conf)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load config")
	}
	return &conf
}

// Validate checks values which cannot be defaulted.
func Validate(conf *Conf) error {
	switch conf.OrdersDB.Type {
	case "postgres", "mysql":
	case "sqlite":
		if conf.OrdersDB.Path == "" {
			return fmt.Errorf("ordersDB.path must be set for sqlite")
		}
	default:
		return fmt.Errorf("unsupported ordersDB.type '%s'", conf.OrdersDB.Type)
	}
	switch conf.ArtifactStore.Type {
	case "memory":
	case "badger":
		if conf.ArtifactStore.Path == "" {
			return fmt.Errorf("artifactStore.path must be set for badger")
		}
	case "redis":
		if conf.ArtifactStore.RedisURL == "" {
			return fmt.Errorf("artifactStore.redisUrl must be set for redis")
		}
	default:
		return fmt.Errorf("unsupported artifactStore.type '%s'", conf.ArtifactStore.Type)
	}
	switch conf.Training.ModelType {
	case "ridge", "huber":
	default:
		return fmt.Errorf("unsupported training.modelType '%s'", conf.Training.ModelType)
	}
	if conf.Training.HoldoutRatio <= 0 || conf.Training.HoldoutRatio >= 1 {
		return fmt.Errorf("training.holdoutRatio must be in (0, 1)")
	}
	if _, err := time.LoadLocation(conf.TimeZone); err != nil {
		return fmt.Errorf("invalid time zone: %w", err)
	}
	return nil
}

func ValidateAndDefaults(conf *Conf) {
	if conf.ServerWriteTimeoutSecs == 0 {
		conf.ServerWriteTimeoutSecs = dfltServerWriteTimeoutSecs
		log.Warn().Msgf(
			"serverWriteTimeoutSecs not specified, using default: %d",
			dfltServerWriteTimeoutSecs,
		)
	}
	if conf.ServerReadTimeoutSecs == 0 {
		conf.ServerReadTimeoutSecs = dfltServerReadTimeoutSecs
		log.Warn().Msgf(
			"serverReadTimeoutSecs not specified, using default: %d",
			dfltServerReadTimeoutSecs,
		)
	}
	if conf.TimeZone == "" {
		log.Warn().
			Str("timeZone", dfltTimeZone).
			Msg("time zone not specified, using default")
		conf.TimeZone = dfltTimeZone
	}

	if conf.OrdersDB.Table == "" {
		conf.OrdersDB.Table = dfltOrdersTable
		log.Warn().Str("table", dfltOrdersTable).Msg("ordersDB.table not set, using default")
	}

	if conf.ArtifactStore.Type == "" {
		conf.ArtifactStore.Type = "memory"
		log.Warn().Msg("artifactStore.type not set, using in-memory store (artifacts will not survive restart)")
	}
	if conf.ArtifactStore.Namespace == "" {
		conf.ArtifactStore.Namespace = dfltStoreNamespace
	}
	if conf.ArtifactStore.TimeoutSecs == 0 {
		conf.ArtifactStore.TimeoutSecs = dfltStoreTimeoutSecs
		log.Warn().Msgf("artifactStore.timeoutSecs not set, using default: %d", dfltStoreTimeoutSecs)
	}

	if conf.ModelCache.TTLSecs == 0 {
		conf.ModelCache.TTLSecs = dfltCacheTTLSecs
		log.Warn().Msgf("modelCache.ttlSecs not set, using default: %d", dfltCacheTTLSecs)
	}

	if conf.Training.ConfigName == "" {
		conf.Training.ConfigName = dfltConfigName
	}
	if conf.Training.ModelType == "" {
		conf.Training.ModelType = dfltModelType
		log.Warn().Str("modelType", dfltModelType).Msg("training.modelType not set, using default")
	}
	if conf.Training.HoldoutRatio == 0 {
		conf.Training.HoldoutRatio = dfltHoldoutRatio
		log.Warn().Float64("holdoutRatio", dfltHoldoutRatio).Msg("training.holdoutRatio not set, using default")
	}
	if conf.Training.RecencyDecay == 0 {
		conf.Training.RecencyDecay = dfltRecencyDecay
		log.Warn().Float64("recencyDecay", dfltRecencyDecay).Msg("training.recencyDecay not set, using default")
	}
	if conf.Training.OutlierSigmas == 0 {
		conf.Training.OutlierSigmas = dfltOutlierSigmas
	}
	if conf.Training.RidgeLambda == 0 {
		conf.Training.RidgeLambda = dfltRidgeLambda
	}

	if conf.Prediction.IntervalHalfWidthDays == 0 {
		conf.Prediction.IntervalHalfWidthDays = dfltIntervalHalfWidthDays
		log.Warn().
			Float64("intervalHalfWidthDays", dfltIntervalHalfWidthDays).
			Msg("prediction.intervalHalfWidthDays not set, using default")
	}
	if conf.Retention.KeepScheduled == 0 {
		conf.Retention.KeepScheduled = dfltKeepScheduled
		log.Warn().Msgf("retention.keepScheduled not set, using default: %d", dfltKeepScheduled)
	}

	if conf.CronSecret == "" {
		log.Warn().Msg("cronSecret not set - scheduled endpoints will be disabled")
	}

	if err := Validate(conf); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
}

// VersionInfo provides a detailed information about the actual build
type VersionInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"buildDate"`
	GitCommit string `json:"gitCommit"`
}
