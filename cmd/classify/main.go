package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/deepfake-api/internal/config"
	"github.com/Brownie44l1/deepfake-api/internal/frame"
	"github.com/Brownie44l1/deepfake-api/internal/model"
	"github.com/Brownie44l1/deepfake-api/internal/pipeline"
)

func main() {
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print one JSON result per line")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] file...\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
	}

	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	logger := cfg.NewLogger()
	logger.SetOutput(os.Stderr)

	inference := model.NewInferenceContext(cfg.Model, logger)
	defer inference.Close()
	logger.Info(inference.Status())

	video := frame.NewVideoExtractor(cfg.Video.FFmpegPath, cfg.Video.FFprobePath, logger)
	analyzer := pipeline.NewAnalyzer(frame.NewAcquirer(video), inference, cfg.RequestTimeout, logger)

	failed := 0
	enc := json.NewEncoder(os.Stdout)
	for _, path := range fs.Args() {
		res, err := analyze(analyzer, path)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			continue
		}

		if *asJSON {
			if err := enc.Encode(res); err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			}
			continue
		}
		fmt.Printf("%s\t%3d%%\t%s\t(%s, %s)\n", path, res.Verdict.Percentage, res.Verdict.Label, res.Source, res.Mode)
	}

	if failed > 0 {
		inference.Close()
		os.Exit(1)
	}
}

func analyze(analyzer *pipeline.Analyzer, path string) (*pipeline.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return analyzer.Analyze(context.Background(), filepath.Base(path), f)
}
