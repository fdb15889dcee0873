package main

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

// deps holds the wiring every command shares.
type deps struct {
	cfg        *domain.Config
	configHash string
	repo       *repository.SQLRepository
	chain      *audit.Chain
}

// buildDependencies loads and validates configuration, then opens the
// repository. The caller owns repo.Close.
func buildDependencies() (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	setupLogger(cfg)

	configHash, err := config.Fingerprint(cfg)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting config: %w", err)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("initializing repository: %w", err)
	}

	return &deps{
		cfg:        cfg,
		configHash: configHash,
		repo:       repo,
		chain:      audit.NewChain(repo.Driver()),
	}, nil
}
