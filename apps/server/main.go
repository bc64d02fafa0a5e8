package main

import (
	"context"
	"database/sql"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/trezcool/chuo/apps/server/reportapi"
	"github.com/trezcool/chuo/apps/server/tcpapi"
	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/academic"
	"github.com/trezcool/chuo/core/user"
	"github.com/trezcool/chuo/services/advisor"
	"github.com/trezcool/chuo/services/email"
	"github.com/trezcool/chuo/services/logger"
	"github.com/trezcool/chuo/storage/database"
	"github.com/trezcool/chuo/storage/database/inmem"
	"github.com/trezcool/chuo/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "SERVER : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// repositories: Postgres normally; in debug an in-memory repo seeded
	// with demo data gives a zero-setup dev server.
	var (
		usrRepo user.Repository
		archive academic.Archive
		events  reportapi.EventSource
	)
	store := academic.NewStore()
	if conf.Debug {
		memdb, err := inmemdb.Open()
		if err != nil {
			logger.Fatal(fmt.Sprintf("opening in-memory store: %v", err), err)
		}
		usrRepo = inmemdb.NewUserRepository(memdb)
		if _, err = user.SeedDemo(context.Background(), usrRepo); err != nil {
			logger.Fatal(fmt.Sprintf("seeding demo accounts: %v", err), err)
		}
		academic.SeedDemo(store)
	} else {
		db, err := setUpDB(conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		defer func() {
			if err = db.Close(); err != nil {
				dbLogger.Error("Failed to close", err)
			}
		}()
		usrRepo = sqlxrepos.NewUserRepository(db)
		ar := sqlxrepos.NewArchive(db)
		archive, events = ar, ar
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	usrSvc := user.NewService(usrRepo, mailSvc, conf)

	acadSvc := academic.NewService(store, archive, logger)
	defer acadSvc.Close()

	advisor := advisorsvc.NewConsoleService()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Services

	tcpSrv := tcpapi.NewServer(tcpapi.Deps{
		Conf:    conf,
		Logger:  logger,
		UserSvc: usrSvc,
		AcadSvc: acadSvc,
		Advisor: advisor,
	})
	reportSrv := reportapi.NewServer(reportapi.Deps{
		Conf:    conf,
		Logger:  logger,
		UserSvc: usrSvc,
		AcadSvc: acadSvc,
		Events:  events,
	})

	serverErrors := make(chan error, 2)
	go func() { serverErrors <- tcpSrv.Start() }()
	go func() { serverErrors <- reportSrv.Start() }()

	// =========================================================================
	// Shutdown

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal(fmt.Sprintf("server error: %v", err), err)
		}

	case err := <-tcpSrv.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-shutdown:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
	}

	// give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()

	if err := tcpSrv.Stop(ctx); err != nil {
		logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
	}
	if err := reportSrv.Stop(ctx); err != nil {
		logger.Error(fmt.Sprintf("could not stop reporting server gracefully: %v", err), err)
	}
}

func setUpDB(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
