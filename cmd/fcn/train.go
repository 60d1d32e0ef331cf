package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	"k8s.io/klog/v2"

	"github.com/sugarme/fcn/backbone"
	"github.com/sugarme/fcn/dataset"
	"github.com/sugarme/fcn/fcn"
	"github.com/sugarme/fcn/inference"
	"github.com/sugarme/fcn/report"
	"github.com/sugarme/fcn/train"
)

// checkTrainConfig rejects flag values the road dataset or the optimizer
// cannot work with.
func checkTrainConfig() error {
	if NumClasses != dataset.RoadClasses {
		return errors.Errorf("-classes %d: road labels have %d classes", NumClasses, dataset.RoadClasses)
	}
	if Epochs <= 0 || BatchSize <= 0 {
		return errors.Errorf("-epochs %d, -batch %d: both must be > 0", Epochs, BatchSize)
	}
	if KeepProb <= 0 || KeepProb > 1 {
		return errors.Errorf("-keep %g: must be in (0, 1]", KeepProb)
	}
	if LR <= 0 {
		return errors.Errorf("-lr %g: must be > 0", LR)
	}
	return nil
}

func runTrain() {
	if err := checkTrainConfig(); err != nil {
		klog.Fatalf("config: %v", err)
	}

	trainDir := filepath.Join(DataPath, "data_road", "training")
	testDir := filepath.Join(DataPath, "data_road", "testing")

	roadCfg := dataset.DefaultRoadConfig()
	roadCfg.Height = Height
	roadCfg.Width = Width
	roadCfg.Seed = Seed
	src, err := dataset.NewRoad(trainDir, roadCfg)
	if err != nil {
		klog.Fatalf("dataset: %v", err)
	}

	vs := nn.NewVarStore(Device)
	bb, err := backbone.Load(vs, BackbonePath, Tag)
	if err != nil {
		klog.Fatalf("load backbone: %v", err)
	}

	decCfg := fcn.DefaultDecoderConfig(bb, int64(NumClasses))
	decCfg.RegRate = RegRate
	net, err := fcn.New(vs, bb, decCfg)
	if err != nil {
		klog.Fatalf("build decoder: %v", err)
	}

	optCfg := train.DefaultOptimizerConfig()
	optCfg.Regularize = Regularize
	op, err := train.Optimize(vs, net, optCfg, LR)
	if err != nil {
		klog.Fatalf("build optimizer: %v", err)
	}

	hist := &report.History{}
	loop := &train.Loop{
		Epochs:    Epochs,
		BatchSize: BatchSize,
		Hyper:     train.Hyperparams{LearningRate: LR, KeepProb: KeepProb},
		Out:       os.Stdout,
		History:   hist,
	}
	klog.Infof("training %d samples on %v: epochs=%d batch=%d lr=%g keep=%g",
		src.Len(), Device, Epochs, BatchSize, LR, KeepProb)
	if _, err := loop.Run(src, op); err != nil {
		klog.Fatalf("training failed: %v", err)
	}

	writeHistory(hist)

	infCfg := inference.DefaultConfig()
	infCfg.Height = Height
	infCfg.Width = Width
	outDir, err := inference.SaveSamples(RunsPath, testDir, net, infCfg)
	if err != nil {
		klog.Fatalf("save inference samples: %v", err)
	}
	klog.Infof("inference samples saved to %s", outDir)
}

func writeHistory(hist *report.History) {
	if HistoryPath != "" {
		f, err := os.Create(HistoryPath)
		if err != nil {
			klog.Fatalf("history: %v", err)
		}
		if err := hist.WriteCSV(f); err != nil {
			klog.Fatalf("history: %v", err)
		}
		f.Close()
	}
	if PlotPath != "" {
		if err := hist.SavePlot(PlotPath); err != nil {
			klog.Fatalf("plot: %v", err)
		}
	}
}

// runExportBackbone writes a freshly initialized backbone artifact, for
// smoke runs without downloaded weights.
func runExportBackbone() {
	vs := nn.NewVarStore(Device)
	if err := backbone.Export(vs, BackbonePath, Tag); err != nil {
		klog.Fatalf("export backbone: %v", err)
	}
	klog.Infof("backbone %q written to %s", Tag, BackbonePath)
}
