// Package main seeds the approver directory.
//
// Approvers come from the approval.approvers config section and, when -f is
// given, from a YAML file of the form:
//
//	approvers:
//	  - user_id: asha@acme.test
//	    name: Asha Rao
//	    email: asha@acme.test
//	    active: true
//
// Seeding is idempotent; existing approvers are updated in place.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Data-Analyst4/tally-connect/internal/config"
	"github.com/Data-Analyst4/tally-connect/internal/infrastructure"
	"github.com/Data-Analyst4/tally-connect/internal/notification"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	file := flag.String("f", "", "YAML file with approvers to seed")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	approvers := fromConfig(cfg.Approval.Approvers)
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("read %s: %w", *file, err)
		}
		fromFile, err := parseApprovers(data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", *file, err)
		}
		approvers = append(approvers, fromFile...)
	}
	approvers, err = mergeApprovers(approvers)
	if err != nil {
		return err
	}
	if len(approvers) == 0 {
		logger.Warn("No approvers to seed")
		return nil
	}

	ctx := context.Background()

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	// Schema migrations are expected to be applied before seeding.
	dir := notification.NewPostgresDirectory(db.Pool)

	logger.Info("Starting approver seeding...", zap.Int("approvers", len(approvers)))
	for _, a := range approvers {
		inserted, err := dir.Upsert(ctx, a)
		if err != nil {
			return err
		}
		if inserted {
			logger.Info("Seeded approver", zap.String("user_id", a.UserID))
		} else {
			logger.Info("Approver already exists, updated", zap.String("user_id", a.UserID))
		}
	}

	logger.Info("Approver seeding completed successfully")
	return nil
}

type seedFile struct {
	Approvers []seedApprover `yaml:"approvers"`
}

type seedApprover struct {
	UserID string `yaml:"user_id"`
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
	// Active defaults to true.
	Active *bool `yaml:"active"`
}

func parseApprovers(data []byte) ([]notification.Approver, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	out := make([]notification.Approver, 0, len(f.Approvers))
	for _, a := range f.Approvers {
		active := true
		if a.Active != nil {
			active = *a.Active
		}
		out = append(out, notification.Approver{UserID: a.UserID, Name: a.Name, Email: a.Email, Active: active})
	}
	return out, nil
}

func fromConfig(in []config.ApproverConfig) []notification.Approver {
	out := make([]notification.Approver, 0, len(in))
	for _, a := range in {
		out = append(out, notification.Approver{UserID: a.UserID, Name: a.Name, Email: a.Email, Active: true})
	}
	return out
}

// mergeApprovers trims fields and collapses entries by user id; later
// entries win.
func mergeApprovers(in []notification.Approver) ([]notification.Approver, error) {
	index := make(map[string]int, len(in))
	out := make([]notification.Approver, 0, len(in))
	for i, a := range in {
		a.UserID = strings.TrimSpace(a.UserID)
		a.Name = strings.TrimSpace(a.Name)
		a.Email = strings.TrimSpace(a.Email)
		if a.UserID == "" {
			return nil, fmt.Errorf("approver %d: user_id is required", i+1)
		}
		if a.Name == "" {
			a.Name = a.UserID
		}
		if at, ok := index[a.UserID]; ok {
			out[at] = a
			continue
		}
		index[a.UserID] = len(out)
		out = append(out, a)
	}
	return out, nil
}
