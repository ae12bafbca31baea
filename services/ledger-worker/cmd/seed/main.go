// Command seed inserts the demo client CL001 with account CU001. Running it again changes nothing.
//
// Example:
//
//	go run ./services/ledger-worker/cmd/seed -password=demo1234
package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/database"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/models"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/repositories"
	"github.com/nimeshabuddhika/ledger-command-processor/services/ledger-worker/configs"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	password       = flag.String("password", "demo1234", "Credential of the demo client")
	initialBalance = flag.String("balance", "2500.00", "Opening balance of the demo account")
)

var demoClient = models.Client{
	ID:          "CL001",
	Dni:         "45678912",
	Nombres:     "MARÍA ELENA",
	ApellidoPat: "GARCÍA",
	ApellidoMat: "FLORES",
	Direccion:   "Av. Universitaria 1234",
	Telefono:    "987654321",
	Correo:      "maria.garcia@example.com",
}

const demoAccountID = "CU001"

func main() {
	flag.Parse()
	pkg.InitLogger()
	logger := pkg.Logger
	defer logger.Sync()

	balance, err := decimal.NewFromString(*initialBalance)
	if err != nil || balance.IsNegative() {
		logger.Fatal("invalid_initial_balance", zap.String("balance", *initialBalance))
	}

	cfg, err := configs.Load(logger)
	if err != nil {
		logger.Fatal("failed_to_load_config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, disconnect, err := database.New(ctx, logger, database.Config{PrimaryDSN: cfg.PrimaryDbAddr, MaxConns: 2, MinConns: 1})
	if err != nil {
		logger.Fatal("failed_to_connect_db", zap.Error(err))
	}
	defer disconnect()

	if err := database.RunMigrations(logger, cfg.PrimaryDbAddr); err != nil {
		logger.Fatal("failed_to_run_migrations", zap.Error(err))
	}

	clients := repositories.NewClientRepository(cfg.BcryptCost)
	accounts := repositories.NewAccountRepository()
	err = db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := clients.FindById(ctx, tx, demoClient.ID); err == nil {
			logger.Info("demo_client_exists", zap.String("client_id", demoClient.ID))
			return nil
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if err := clients.Insert(ctx, tx, demoClient, *password); err != nil {
			return err
		}
		return accounts.Insert(ctx, tx, models.Account{ID: demoAccountID, ClientID: demoClient.ID, Balance: balance})
	})
	if err != nil {
		logger.Fatal("seed_failed", zap.Error(pkg.HandleSQLError("seed", logger, err)))
	}
	logger.Info("seed_completed", zap.String("client_id", demoClient.ID), zap.String("account_id", demoAccountID))
}
