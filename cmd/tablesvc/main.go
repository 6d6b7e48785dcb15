package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"

	config "github.com/cuehall/venue-services/configs"
	"github.com/cuehall/venue-services/internal/comm"
	nats "github.com/cuehall/venue-services/internal/nats"
	"github.com/cuehall/venue-services/internal/notify"
	"github.com/cuehall/venue-services/internal/tablesvc/audit"
	"github.com/cuehall/venue-services/internal/tablesvc/broker"
	svcconfig "github.com/cuehall/venue-services/internal/tablesvc/config"
	"github.com/cuehall/venue-services/internal/tablesvc/db"
	"github.com/cuehall/venue-services/internal/tablesvc/gateway"
	handlers "github.com/cuehall/venue-services/internal/tablesvc/handlers"
	"github.com/cuehall/venue-services/internal/tablesvc/holds"
	"github.com/cuehall/venue-services/internal/tablesvc/service"
	"github.com/cuehall/venue-services/internal/tablesvc/store"
)

const SERVICE_NAME = "table"

var instanceId string

func init() {
	instanceId = "001"
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	cfg := svcconfig.Load()

	// pg connection
	dbpool, err := db.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.ClosePool()
	log.Printf("pg connection established successfully")

	tableStore := store.NewTableStore(dbpool)
	sessionStore := store.NewSessionStore(dbpool)
	venueStore := store.NewVenueStore(dbpool)
	userStore := store.NewUserStore(dbpool)
	ledgerStore := store.NewLedgerStore(dbpool)

	holdStore := holds.NewHoldStore(holds.NewClient())

	// session archive, non fatal when mongo is absent
	var archiver service.Archiver
	if a, err := audit.Connect(context.Background()); err != nil {
		log.Warnf("audit archive disabled: %v", err)
	} else {
		archiver = a
		defer a.Close(context.Background())
	}

	alerter := notify.FromEnv()
	gw := gateway.FromEnv()

	// Connect to NATS
	n, err := nats.Connect()
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(0)
	}

	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	// broker doubles as the admission service's dispatcher
	b := broker.NewBroker(n.Conn, nil, userStore, ledgerStore)
	admission := service.NewAdmissionService(
		tableStore, sessionStore, venueStore, userStore, ledgerStore,
		holdStore, archiver, b, alerter, gw, cfg.PaymentWindow,
	)
	b.Admission = admission

	sub, err := b.SubscribeSocketService(comm.TopicSocketService)
	if err != nil {
		log.Errorf("Error: unable to subscribe to queue %v", err)
		os.Exit(0)
	}

	paySub, err := b.SubscribePaymentEvents(comm.TopicPaymentEvents)
	if err != nil {
		log.Errorf("Error: unable to subscribe to queue %v", err)
		os.Exit(0)
	}

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(c.Handler)

	// to protect the service api from any over requests
	rateLimitStr := os.Getenv("RATE_LIMIT")
	rateLimit, err := strconv.Atoi(rateLimitStr)
	if err != nil {
		log.Fatalf("Invalid RATE_LIMIT value: %v", err)
	}
	r.Use(httprate.LimitByIP(rateLimit, 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(admission, venueStore, tableStore)
	h.InitAuth()
	h.SetRoutes(r)

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + os.Getenv("TABLE_SERVICE_PORT"),
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	sub.Unsubscribe()
	paySub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
