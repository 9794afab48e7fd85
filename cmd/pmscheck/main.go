// Command pmscheck verifies that one Sikka integration can authenticate and
// reach the practice management system. It prints the JSON result envelope.
//
//	pmscheck -integration int-123
//	pmscheck -integration scratch -office-id D12345 -secret-key ... (no database)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/parlae/pms-gateway/internal/app/bootstrap"
	appconfig "github.com/parlae/pms-gateway/internal/config"
	"github.com/parlae/pms-gateway/internal/pms"
	"github.com/parlae/pms-gateway/internal/pms/credentials"
	"github.com/parlae/pms-gateway/internal/pms/writebacks"
	"github.com/parlae/pms-gateway/pkg/logging"
)

type options struct {
	integrationID string
	officeID      string
	secretKey     string
	timeout       time.Duration
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.integrationID, "integration", "", "integration id to check")
	flag.StringVar(&opts.officeID, "office-id", "", "office id, seeds an in-memory credential store")
	flag.StringVar(&opts.secretKey, "secret-key", "", "office secret key, used with -office-id")
	flag.DurationVar(&opts.timeout, "timeout", time.Minute, "overall deadline")
	flag.Parse()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	store, closeStore, err := credentialStore(ctx, cfg, opts, logger)
	if err != nil {
		logger.Error("credential store unavailable", "error", err)
		os.Exit(2)
	}
	defer closeStore()

	ok := check(ctx, os.Stdout, cfg, store, opts.integrationID, logger)
	if !ok {
		os.Exit(1)
	}
}

func credentialStore(ctx context.Context, cfg *appconfig.Config, opts options, logger *logging.Logger) (credentials.Store, func(), error) {
	if opts.officeID != "" || opts.secretKey != "" {
		store := credentials.NewMemoryStore()
		err := store.Save(ctx, &credentials.State{
			IntegrationID: opts.integrationID,
			OfficeID:      opts.officeID,
			SecretKey:     opts.secretKey,
		})
		return store, func() {}, err
	}
	pool := connectPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		return nil, nil, fmt.Errorf("DATABASE_URL is required unless -office-id and -secret-key are given")
	}
	return credentials.NewPGStore(pool), pool.Close, nil
}

// check runs TestConnection and writes the envelope to out.
func check(ctx context.Context, out io.Writer, cfg *appconfig.Config, store credentials.Store, integrationID string, logger *logging.Logger) bool {
	reg, err := bootstrap.BuildRegistry(bootstrap.PMSDeps{
		Config:      cfg,
		Credentials: store,
		Writebacks:  writebacks.NewMemoryStore(),
		Logger:      logger,
	})
	var status *pms.ConnectionStatus
	if err == nil {
		var svc pms.Service
		svc, err = reg.Get(ctx, integrationID)
		if err == nil {
			status, err = svc.TestConnection(ctx)
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err != nil {
		_ = enc.Encode(pms.HandleError[any](err))
		return false
	}
	_ = enc.Encode(pms.OK(status))
	return status != nil && status.Connected
}
