package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/grid-outage-risk/internal/dataset"
	"github.com/couchcryptid/grid-outage-risk/internal/domain"
)

// TrainConfig configures a full training run.
type TrainConfig struct {
	TestFraction float64
	Seed         uint64
	GBDT         GBDTParams
	LSTM         LSTMParams
	SkipLSTM     bool
}

// DefaultTrainConfig is an 80/20 stratified split with seed 42.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		TestFraction: 0.2,
		Seed:         42,
		GBDT:         DefaultGBDTParams(),
		LSTM:         DefaultLSTMParams(),
	}
}

// Report describes a completed training run.
type Report struct {
	TrainSamples int           `json:"train_samples"`
	TestSamples  int           `json:"test_samples"`
	Tree         Evaluation    `json:"tree"`
	TreeRounds   int           `json:"tree_rounds"`
	Recurrent    *Evaluation   `json:"recurrent,omitempty"`
	BestEpoch    int           `json:"best_epoch,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Train splits records, fits the scaler and both classifiers on the training
// part, and evaluates them on the held-out part.
func Train(ctx context.Context, records []domain.Record, cfg TrainConfig, logger *slog.Logger) (Artifacts, Report, error) {
	start := time.Now()
	var rep Report

	if len(records) == 0 {
		return Artifacts{}, rep, errors.New("train: empty dataset")
	}

	trainSet, testSet := dataset.StratifiedSplit(records, cfg.TestFraction, cfg.Seed)
	rep.TrainSamples, rep.TestSamples = len(trainSet), len(testSet)
	logger.Info("dataset split", "train", len(trainSet), "test", len(testSet))

	xTrain, yTrain := Matrix(trainSet)
	xTest, yTest := Matrix(testSet)

	scaler, err := FitScaler(xTrain)
	if err != nil {
		return Artifacts{}, rep, err
	}
	if xTrain, err = scaler.TransformAll(xTrain); err != nil {
		return Artifacts{}, rep, err
	}
	if xTest, err = scaler.TransformAll(xTest); err != nil {
		return Artifacts{}, rep, err
	}

	tree, treeHist, err := TrainGBDT(ctx, xTrain, yTrain, xTest, yTest, cfg.GBDT)
	if err != nil {
		return Artifacts{}, rep, fmt.Errorf("train gbdt: %w", err)
	}
	rep.TreeRounds = treeHist.BestRound
	if rep.Tree, err = Evaluate(tree, xTest, yTest); err != nil {
		return Artifacts{}, rep, err
	}
	logger.Info("gbdt trained",
		"rounds", treeHist.BestRound,
		"accuracy", rep.Tree.Accuracy,
		"log_loss", rep.Tree.LogLoss,
	)

	arts := Artifacts{Scaler: scaler, Tree: tree}
	if cfg.SkipLSTM {
		rep.Duration = time.Since(start)
		return arts, rep, nil
	}

	lstm, lstmHist, err := TrainLSTM(ctx, xTrain, yTrain, xTest, yTest, cfg.LSTM)
	if err != nil {
		return Artifacts{}, rep, fmt.Errorf("train lstm: %w", err)
	}
	ev, err := Evaluate(lstm, xTest, yTest)
	if err != nil {
		return Artifacts{}, rep, err
	}
	rep.Recurrent = &ev
	rep.BestEpoch = lstmHist.BestEpoch
	arts.Recurrent = lstm
	logger.Info("lstm trained",
		"epochs", len(lstmHist.TrainLoss),
		"best_epoch", lstmHist.BestEpoch,
		"accuracy", ev.Accuracy,
		"log_loss", ev.LogLoss,
	)

	rep.Duration = time.Since(start)
	return arts, rep, nil
}
