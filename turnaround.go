// Copyright 2024 Tomas Machalek <tomas.machalek@gmail.com>
// Copyright 2024 Institute of the Czech National Corpus,
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
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andrewimpellitteri/awning-wo-sub000/cnf"
	"github.com/czcorpus/cnc-gokit/logging"
)

const (
	actionServer   = "server"
	actionTrain    = "train"
	actionSnapshot = "snapshot"
	actionEvaluate = "evaluate"
	actionCleanup  = "cleanup"
	actionVersion  = "version"
	actionHelp     = "help"
)

const (
	exitErrorGeneralFailure = iota + 1
	exitErrorFailedToOpenComponents
	exitErrorTrainingFailed
	exitErrorSnapshotFailed
	exitErrorEvaluationFailed
	exitErrorCleanupFailed
)

var (
	version   string
	buildDate string
	gitCommit string
)

func topLevelUsage() {
	fmt.Fprintf(os.Stderr, "TURNAROUND - work order turnaround prediction service\n")
	fmt.Fprintf(os.Stderr, "-----------------------------\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "\t%s\t\t\tshow version info\n", actionVersion)
	fmt.Fprintf(os.Stderr, "\t%s\t\t\trun the HTTP API server\n", actionServer)
	fmt.Fprintf(os.Stderr, "\t%s\t\t\ttrain and publish a new model\n", actionTrain)
	fmt.Fprintf(os.Stderr, "\t%s\t\tstore a prediction snapshot of open orders\n", actionSnapshot)
	fmt.Fprintf(os.Stderr, "\t%s\t\tevaluate stored snapshots against realized turnaround\n", actionEvaluate)
	fmt.Fprintf(os.Stderr, "\t%s\t\tremove old scheduled models\n", actionCleanup)
	fmt.Fprintf(os.Stderr, "\nUse `turnaround help ACTION` for information about a specific action\n\n")
}

func setup(confPath string) *cnf.Conf {
	conf := cnf.LoadConfig(confPath)
	if conf.Logging.Level == "" {
		conf.Logging.Level = "info"
	}
	logging.SetupLogging(conf.Logging)
	cnf.ValidateAndDefaults(conf)
	return conf
}

func cleanVersionInfo(v string) string {
	return strings.TrimLeft(strings.Trim(v, "'"), "v")
}

func runActionVersion(ver cnf.VersionInfo) {
	fmt.Fprintln(os.Stderr, "turnaround version: ", ver)
}

func actionUsage(fs *flag.FlagSet, action, descr string) func() {
	return func() {
		fmt.Fprintf(
			os.Stderr,
			"Usage:\t%s %s [options] config.json\n\t",
			filepath.Base(os.Args[0]), action)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n%s\n", descr)
	}
}

func main() {
	version := cnf.VersionInfo{
		Version:   cleanVersionInfo(version),
		BuildDate: cleanVersionInfo(buildDate),
		GitCommit: cleanVersionInfo(gitCommit),
	}

	cmdServer := flag.NewFlagSet(actionServer, flag.ExitOnError)
	cmdServer.Usage = actionUsage(cmdServer, actionServer, "Run the HTTP API server")

	cmdTrain := flag.NewFlagSet(actionTrain, flag.ExitOnError)
	fullData := cmdTrain.Bool(
		"full", false,
		"train on all the data without a holdout (the same as the scheduled retraining)")
	cmdTrain.Usage = actionUsage(
		cmdTrain, actionTrain, "Train a turnaround model and publish it to the artifact store")

	cmdSnapshot := flag.NewFlagSet(actionSnapshot, flag.ExitOnError)
	cmdSnapshot.Usage = actionUsage(
		cmdSnapshot, actionSnapshot, "Predict all the open orders and store the results as today's snapshot")

	cmdEvaluate := flag.NewFlagSet(actionEvaluate, flag.ExitOnError)
	asJSON := cmdEvaluate.Bool("json", false, "print the whole report as JSON")
	cmdEvaluate.Usage = actionUsage(
		cmdEvaluate, actionEvaluate, "Compare stored snapshots with realized turnaround of closed orders")

	cmdCleanup := flag.NewFlagSet(actionCleanup, flag.ExitOnError)
	keep := cmdCleanup.Int("keep", 0, "number of newest scheduled models to keep (default: from config)")
	cmdCleanup.Usage = actionUsage(
		cmdCleanup, actionCleanup, "Remove all but the newest scheduled models")

	cmdVersion := flag.NewFlagSet(actionVersion, flag.ExitOnError)
	cmdVersion.Usage = func() {
		cmdVersion.PrintDefaults()
	}

	cmdHelp := flag.NewFlagSet(actionHelp, flag.ExitOnError)
	cmdHelp.Usage = func() {
		cmdHelp.PrintDefaults()
	}

	action := actionHelp
	if len(os.Args) > 1 {
		action = os.Args[1]
	}

	switch action {
	case actionHelp:
		var subj string
		if len(os.Args) > 2 {
			cmdHelp.Parse(os.Args[2:])
			subj = cmdHelp.Arg(0)
		}
		if subj == "" {
			topLevelUsage()
			return
		}
		switch subj {
		case actionServer:
			cmdServer.Usage()
		case actionTrain:
			cmdTrain.Usage()
		case actionSnapshot:
			cmdSnapshot.Usage()
		case actionEvaluate:
			cmdEvaluate.Usage()
		case actionCleanup:
			cmdCleanup.Usage()
		}
	case actionVersion:
		cmdVersion.Parse(os.Args[2:])
		runActionVersion(version)
	case actionServer:
		cmdServer.Parse(os.Args[2:])
		conf := setup(cmdServer.Arg(0))
		runServer(conf, version)
	case actionTrain:
		cmdTrain.Parse(os.Args[2:])
		conf := setup(cmdTrain.Arg(0))
		runTraining(conf, *fullData)
	case actionSnapshot:
		cmdSnapshot.Parse(os.Args[2:])
		conf := setup(cmdSnapshot.Arg(0))
		runSnapshot(conf)
	case actionEvaluate:
		cmdEvaluate.Parse(os.Args[2:])
		conf := setup(cmdEvaluate.Arg(0))
		runEvaluation(conf, *asJSON)
	case actionCleanup:
		cmdCleanup.Parse(os.Args[2:])
		conf := setup(cmdCleanup.Arg(0))
		runCleanup(conf, *keep)
	default:
		fmt.Fprintf(os.Stderr, "Unknown action, please use 'help' to get more information\n")
		os.Exit(exitErrorGeneralFailure)
	}

}
