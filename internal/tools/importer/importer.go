// Package catalogimporter loads badge catalog seed files into the story
// engine's reference database.
package catalogimporter

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	apperrors "github.com/mystira/story-engine/internal/errors"
	"github.com/mystira/story-engine/internal/story/domain/badge"
	"github.com/mystira/story-engine/internal/story/storage"
	storagesqlite "github.com/mystira/story-engine/internal/story/storage/sqlite"
)

// Config holds configuration for the catalog importer.
type Config struct {
	Dir    string
	DBPath string
	DryRun bool
}

type envConfig struct {
	DBPath string `env:"MYSTIRA_STORY_DB_PATH"`
}

// ParseConfig parses environment defaults and CLI flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{DBPath: envCfg.DBPath}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "story.db")
	}

	fs.StringVar(&cfg.Dir, "dir", "", "directory containing badge catalog YAML files")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "story database path (default: MYSTIRA_STORY_DB_PATH or data/story.db)")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "validate without writing to the database")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.Dir) == "" {
		return Config{}, errors.New("dir is required")
	}
	return cfg, nil
}

// catalogFile is one badge catalog seed document.
type catalogFile struct {
	AgeGroup string        `yaml:"age_group"`
	Badges   []badgeRecord `yaml:"badges"`
}

type badgeRecord struct {
	ID            string  `yaml:"id"`
	Axis          string  `yaml:"axis"`
	Tier          string  `yaml:"tier"`
	TierOrder     int     `yaml:"tier_order"`
	RequiredScore float64 `yaml:"required_score"`
	Name          string  `yaml:"name"`
	Description   string  `yaml:"description"`
}

// Run executes the importer using the provided Config.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if out == nil {
		out = io.Discard
	}

	files, err := listCatalogFiles(cfg.Dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no catalog files found in %s", cfg.Dir)
	}

	var store storage.BadgeCatalogStore
	if !cfg.DryRun {
		sqliteStore, err := storagesqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open story store: %w", err)
		}
		defer sqliteStore.Close()
		store = sqliteStore
	}

	imported := 0
	for _, path := range files {
		entries, err := loadCatalogFile(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", filepath.Base(path), err)
		}
		if !cfg.DryRun {
			for _, entry := range entries {
				if err := store.PutBadge(ctx, entry); err != nil {
					return fmt.Errorf("put badge %s: %w", entry.ID, err)
				}
			}
		}
		imported += len(entries)
	}

	if cfg.DryRun {
		_, err = fmt.Fprintf(out, "validated %d badge(s) in %d file(s)\n", imported, len(files))
		return err
	}
	_, err = fmt.Fprintf(out, "imported %d badge(s) into %s\n", imported, cfg.DBPath)
	return err
}

// loadCatalogFile parses and validates one catalog seed document. Tier
// orders must be unique per axis within the file's age group.
func loadCatalogFile(path string) ([]badge.Badge, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc catalogFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if strings.TrimSpace(doc.AgeGroup) == "" {
		return nil, apperrors.New(apperrors.CodeBadgeEmptyAgeGroup, "age_group is required")
	}
	if len(doc.Badges) == 0 {
		return nil, errors.New("badges list is empty")
	}

	seenIDs := map[string]bool{}
	seenTiers := map[string]bool{}
	entries := make([]badge.Badge, 0, len(doc.Badges))
	for _, record := range doc.Badges {
		normalized, err := badge.Normalize(badge.Badge{
			ID:            record.ID,
			AgeGroupID:    doc.AgeGroup,
			Axis:          record.Axis,
			Tier:          record.Tier,
			TierOrder:     record.TierOrder,
			RequiredScore: record.RequiredScore,
			Name:          record.Name,
			Description:   record.Description,
		})
		if err != nil {
			return nil, fmt.Errorf("badge %s: %w", record.ID, err)
		}
		if seenIDs[normalized.ID] {
			return nil, fmt.Errorf("duplicate badge id %s", normalized.ID)
		}
		seenIDs[normalized.ID] = true
		tierKey := fmt.Sprintf("%s/%d", normalized.Axis, normalized.TierOrder)
		if seenTiers[tierKey] {
			return nil, apperrors.WithMetadata(apperrors.CodeBadgeDuplicateTier,
				"duplicate tier order for axis "+normalized.Axis,
				map[string]string{"axis": normalized.Axis, "badge_id": normalized.ID})
		}
		seenTiers[tierKey] = true
		entries = append(entries, normalized)
	}
	return entries, nil
}

func listCatalogFiles(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(root, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
