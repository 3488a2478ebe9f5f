package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Financial-Times/go-logger/v2"
	transactionidutils "github.com/Financial-Times/transactionid-utils-go"
	"github.com/gorilla/mux"
	cli "github.com/jawher/mow.cli"
	"github.com/joho/godotenv"

	"github.com/Financial-Times/vsac-valueset-loader/oids"
	"github.com/Financial-Times/vsac-valueset-loader/store"
	"github.com/Financial-Times/vsac-valueset-loader/vsac"
)

const (
	appSystemCode  = "vsac-valueset-loader"
	appDescription = "Job which retrieves value sets from the VSAC terminology service and upserts their concepts into a reference table"
)

func main() {
	// a missing .env file is fine, the environment may already carry everything
	_ = godotenv.Load()

	app := cli.App("vsac-valueset-loader", appDescription)

	appName := app.String(cli.StringOpt{
		Name:   "app-name",
		Value:  "VSAC Value Set Loader",
		Desc:   "Application name",
		EnvVar: "APP_NAME",
	})
	logLevel := app.String(cli.StringOpt{
		Name:   "log-level",
		Value:  "INFO",
		Desc:   "Log level",
		EnvVar: "LOG_LEVEL",
	})
	oidsFile := app.String(cli.StringOpt{
		Name:   "oids-file",
		Value:  "oids.csv",
		Desc:   "CSV file listing the value set identifiers to load",
		EnvVar: "OIDS_FILE",
	})
	oidColumn := app.String(cli.StringOpt{
		Name:   "oid-column",
		Value:  oids.DefaultColumn,
		Desc:   "Header of the identifier column in the CSV file",
		EnvVar: "OID_COLUMN",
	})
	vsacURL := app.String(cli.StringOpt{
		Name:   "vsac-url",
		Value:  vsac.DefaultEndpoint,
		Desc:   "VSAC RetrieveMultipleValueSets endpoint",
		EnvVar: "VSAC_URL",
	})
	vsacUsername := app.String(cli.StringOpt{
		Name:   "vsac-username",
		Value:  vsac.DefaultUsername,
		Desc:   "User name sent with the API key in basic auth",
		EnvVar: "VSAC_USERNAME",
	})
	apiKey := app.String(cli.StringOpt{
		Name:      "api-key",
		Desc:      "VSAC API key",
		EnvVar:    "VSAC_API_KEY",
		HideValue: true,
	})
	timeout := app.Int(cli.IntOpt{
		Name:   "vsac-timeout",
		Value:  60,
		Desc:   "Timeout in seconds of a single VSAC request",
		EnvVar: "VSAC_TIMEOUT",
	})
	workers := app.Int(cli.IntOpt{
		Name:   "workers",
		Value:  1,
		Desc:   "Number of value sets retrieved concurrently",
		EnvVar: "WORKERS",
	})
	requestsPerSecond := app.Int(cli.IntOpt{
		Name:   "requests-per-second",
		Value:  0,
		Desc:   "Maximum VSAC requests per second, 0 for no limit",
		EnvVar: "REQUESTS_PER_SECOND",
	})
	databaseURL := app.String(cli.StringOpt{
		Name:      "database-url",
		Desc:      "Connection URL of the reference database, postgres:// or sqlserver://",
		EnvVar:    "DATABASE_URL",
		HideValue: true,
	})
	tableName := app.String(cli.StringOpt{
		Name:   "table-name",
		Value:  store.DefaultTable,
		Desc:   "Table the concepts are upserted into, optionally schema qualified",
		EnvVar: "TABLE_NAME",
	})
	errorDir := app.String(cli.StringOpt{
		Name:   "error-dir",
		Value:  vsac.DefaultErrorDir,
		Desc:   "Directory malformed VSAC responses are saved to",
		EnvVar: "ERROR_DIR",
	})
	adminPort := app.String(cli.StringOpt{
		Name:   "admin-port",
		Value:  "",
		Desc:   "Port serving health, gtg and metrics during the run, empty to disable",
		EnvVar: "ADMIN_PORT",
	})

	app.Action = func() {
		log := logger.NewUPPLogger(*appName, *logLevel)
		tid := transactionidutils.NewTransactionID()

		log.WithFields(map[string]interface{}{
			"transaction_id": tid,
			"OIDS_FILE":      *oidsFile,
			"VSAC_URL":       *vsacURL,
			"TABLE_NAME":     *tableName,
			"WORKERS":        *workers,
		}).Infof("[Startup] %s is starting", *appName)

		config := vsac.Config{
			Endpoint:          *vsacURL,
			Username:          *vsacUsername,
			APIKey:            *apiKey,
			Workers:           *workers,
			RequestsPerSecond: float64(*requestsPerSecond),
			ErrorDir:          *errorDir,
		}
		opts := runOptions{
			oidsFile:    *oidsFile,
			oidColumn:   *oidColumn,
			databaseURL: *databaseURL,
			tableName:   *tableName,
			timeout:     time.Duration(*timeout) * time.Second,
			adminPort:   *adminPort,
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := run(ctx, config, opts, tid, log); err != nil {
			stop()
			log.WithError(err).WithField("transaction_id", tid).Fatal("Value set load failed")
		}
		log.WithField("transaction_id", tid).Info("Stopping application")
	}

	if runErr := app.Run(os.Args); runErr != nil {
		fmt.Fprintf(os.Stderr, "App could not start, error=[%s]\n", runErr)
		os.Exit(1)
	}
}

type runOptions struct {
	oidsFile    string
	oidColumn   string
	databaseURL string
	tableName   string
	timeout     time.Duration
	adminPort   string
}

func run(ctx context.Context, config vsac.Config, opts runOptions, tid string, log *logger.UPPLogger) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if opts.databaseURL == "" {
		return errors.New("no database url configured")
	}

	identifiers, err := oids.Load(opts.oidsFile, opts.oidColumn, log)
	if err != nil {
		return err
	}
	log.WithField("transaction_id", tid).Infof("Loaded %d value set identifiers", len(identifiers))

	writer, err := store.Open(ctx, opts.databaseURL, opts.tableName)
	if err != nil {
		return fmt.Errorf("open reference database: %w", err)
	}
	defer func() {
		if err := writer.Close(context.Background()); err != nil {
			log.WithError(err).Error("Could not close reference database connection")
		}
	}()

	httpClient := &http.Client{
		Timeout: opts.timeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 32,
		},
	}
	service := vsac.NewLoaderService(config, httpClient, writer, log)

	if opts.adminPort != "" {
		server := startAdminServer(opts.adminPort, service, writer, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Error("Could not stop admin server")
			}
		}()
	}

	_, err = service.Run(ctx, identifiers, tid)
	return err
}

func startAdminServer(port string, service *vsac.LoaderService, writer store.Writer, log *logger.UPPLogger) *http.Server {
	handler := vsac.NewAdminHandler(service, writer, log)
	router := mux.NewRouter()

	server := &http.Server{
		Addr:    ":" + port,
		Handler: handler.RegisterAdminHandlers(router, appSystemCode, "VSAC Value Set Loader", appDescription),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Unable to start admin server")
		}
	}()
	return server
}
