package ingest

import (
	"bufio"
	"context"
	"log/slog"
	"os"

	"examguard/internal/config"
	"examguard/internal/model"
	"examguard/internal/normalize"
)

// StartReplay feeds recorded capture files through the pipeline, one JSON
// sample per line. Used to rerun a session against new detection settings.
func StartReplay(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Sample, logger *slog.Logger) {
	current := cfg.Get().Ingest.Replay
	if !current.Enabled {
		if logger != nil {
			logger.Info("replay ingest disabled")
		}
		return
	}
	go func() {
		for _, path := range current.Files {
			if ctx.Err() != nil {
				return
			}
			if logger != nil {
				logger.Info("replaying capture file", "path", path)
			}
			if err := replayFile(ctx, path, parser, out, logger); err != nil {
				if logger != nil {
					logger.Warn("replay failed", "path", path, "err", err)
				}
			}
		}
		if logger != nil {
			logger.Info("replay complete", "files", len(current.Files))
		}
	}()
}

func replayFile(ctx context.Context, path string, parser *Parser, out chan<- model.Sample, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		fields, err := parser.ParseLine(scanner.Text())
		if err != nil || fields == nil {
			continue
		}
		fields.Source = model.SourceReplay
		sample, err := normalize.Normalize(*fields, parser.Location())
		if err != nil {
			if logger != nil {
				logger.Warn("replay normalize error", "path", path, "err", err)
			}
			continue
		}
		// Replay must not drop samples; block until the pipeline drains.
		select {
		case out <- sample:
		case <-ctx.Done():
			return nil
		}
	}
	return scanner.Err()
}
