package main

import (
	"flag"
	"path/filepath"

	"github.com/sugarme/gotch"
	"k8s.io/klog/v2"
)

// flag variables
var (
	DataPath     string
	BackbonePath string
	Tag          string
	RunsPath     string
	HistoryPath  string
	PlotPath     string
	Cuda         bool
	task         string
	Device       gotch.Device
)

// hyperparameters
var (
	Epochs     int
	BatchSize  int
	NumClasses int
	Height     int
	Width      int
	LR         float64 // learning rate
	KeepProb   float64 // dropout keep probability while training
	RegRate    float64 // decoder L2 rate
	Regularize bool
	Seed       int64
)

func init() {
	flag.StringVar(&DataPath, "data", "./data", "specify data directory containing 'data_road/'")
	flag.StringVar(&BackbonePath, "backbone", "./data/vgg", "specify pretrained backbone directory.")
	flag.StringVar(&Tag, "tag", "vgg16", "specify backbone tag (vgg16, vgg-mini, resnet18, resnet34)")
	flag.StringVar(&RunsPath, "runs", "./runs", "specify output directory of inference samples")
	flag.StringVar(&HistoryPath, "history", "", "write per-step losses to this CSV file")
	flag.StringVar(&PlotPath, "plot", "", "plot per-step losses to this image file")
	flag.BoolVar(&Cuda, "cuda", false, "specify whether using CUDA or not.")
	flag.StringVar(&task, "task", "train", "specify task to run (train, backbone)")

	flag.IntVar(&Epochs, "epochs", 3, "specify number of epochs")
	flag.IntVar(&BatchSize, "batch", 20, "specify batch size")
	flag.IntVar(&NumClasses, "classes", 2, "specify number of classes")
	flag.IntVar(&Height, "height", 160, "specify image height")
	flag.IntVar(&Width, "width", 576, "specify image width")
	flag.Float64Var(&LR, "lr", 0.001, "specify learning rate")
	flag.Float64Var(&KeepProb, "keep", 0.8, "specify dropout keep probability")
	flag.Float64Var(&RegRate, "reg", 1e-3, "specify decoder L2 regularization rate")
	flag.BoolVar(&Regularize, "regularize", false, "add decoder L2 term to the optimized loss")
	flag.Int64Var(&Seed, "seed", 1, "specify shuffling seed")
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	DataPath = absPath(DataPath)
	BackbonePath = absPath(BackbonePath)
	RunsPath = absPath(RunsPath)

	Device = gotch.CPU
	if Cuda {
		Device = gotch.NewCuda().CudaIfAvailable()
	}

	switch task {
	case "train":
		runTrain()
	case "backbone":
		runExportBackbone()
	default:
		klog.Fatalf("unknown task %q, expected 'train' or 'backbone'", task)
	}
}

// helper to get absolute file path
func absPath(p string) string {
	fullpath, err := filepath.Abs(p)
	if err != nil {
		klog.Fatal(err)
	}
	return fullpath
}
