package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/Brownie44l1/classify-web/internal/config"
	"github.com/Brownie44l1/classify-web/internal/feedback"
	"github.com/Brownie44l1/classify-web/internal/handlers"
	"github.com/Brownie44l1/classify-web/internal/metrics"
	"github.com/Brownie44l1/classify-web/internal/model"
	"github.com/Brownie44l1/classify-web/internal/preprocess"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-config file] [serve | predict <image> | stats]\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	switch cmd := flag.Arg(0); cmd {
	case "", "serve":
		err = serve(cfg, logger)
	case "predict":
		if flag.NArg() < 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = predictOnce(cfg, flag.Arg(1))
	case "stats":
		err = printStats(cfg)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("exiting", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func openClassifier(cfg *config.Config) (model.Classifier, error) {
	return model.Open(model.Options{
		ModelPath:    cfg.ModelPath,
		LabelsPath:   cfg.LabelsPath,
		MetadataPath: cfg.MetadataPath,
		Backend:      cfg.Backend,
		LibraryPath:  cfg.ORTLibrary,
		ImageSize:    cfg.ImageSize,
		NumThreads:   cfg.NumThreads,
		TopK:         cfg.TopK,
	})
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("loading model", slog.String("path", cfg.ModelPath), slog.String("backend", cfg.Backend))
	classifier, err := openClassifier(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize classifier: %w", err)
	}
	defer classifier.Close()

	meta := classifier.Metadata()
	logger.Info("model loaded",
		slog.Any("classes", meta.Classes),
		slog.Any("input_shape", meta.InputShape),
		slog.String("layout", string(meta.Layout)),
	)

	handler := handlers.NewHandler(classifier, feedback.NewLogger(cfg.FeedbackPath), metrics.New(), logger, cfg.MaxUploadBytes())
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", srv.Addr), slog.String("feedback_log", cfg.FeedbackPath))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func predictOnce(cfg *config.Config, imgPath string) error {
	data, err := os.ReadFile(imgPath)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	classifier, err := openClassifier(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize classifier: %w", err)
	}
	defer classifier.Close()

	start := time.Now()
	input, err := preprocess.ForModel(classifier.Metadata()).Prepare(data)
	if err != nil {
		return err
	}
	pred, err := classifier.Predict(input)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s %s (in %s)\n", imgPath, pred.Class, handlers.FormatConfidence(pred.Confidence), time.Since(start))
	for _, s := range pred.Top {
		fmt.Printf("  - %s: %.4f\n", s.Class, s.Probability)
	}
	return nil
}

func printStats(cfg *config.Config) error {
	log := feedback.NewLogger(cfg.FeedbackPath)
	entries, err := log.Read()
	if err != nil {
		return err
	}
	tally := feedback.Summarize(entries)

	classes := make([]string, 0, len(tally))
	for class := range tally {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	fmt.Printf("%d feedback entries in %s\n", len(entries), log.Path())
	for _, class := range classes {
		t := tally[class]
		fmt.Printf("  %-24s correct=%d incorrect=%d other=%d\n", class, t.Correct, t.Incorrect, t.Other)
	}
	return nil
}
