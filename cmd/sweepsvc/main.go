package main

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	config "github.com/cuehall/venue-services/configs"
	natscli "github.com/cuehall/venue-services/internal/nats"
	"github.com/cuehall/venue-services/internal/notify"
	"github.com/cuehall/venue-services/internal/tablesvc/broker"
	svcconfig "github.com/cuehall/venue-services/internal/tablesvc/config"
	"github.com/cuehall/venue-services/internal/tablesvc/db"
	"github.com/cuehall/venue-services/internal/tablesvc/gateway"
	"github.com/cuehall/venue-services/internal/tablesvc/holds"
	"github.com/cuehall/venue-services/internal/tablesvc/service"
	"github.com/cuehall/venue-services/internal/tablesvc/store"
)

const SERVICE_NAME = "sweep"

var instanceId string

func init() {
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

// The sweeper cancels pending sessions whose payment window has lapsed,
// refunding nothing (nothing was debited yet) and returning the reserved
// slot to the queue rotation.
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

	// Connect to NATS
	n, err := natscli.Connect()
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(1)
	}
	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	// publish-only broker, the sweeper consumes nothing
	b := broker.NewBroker(n.Conn, nil, userStore, ledgerStore)
	admission := service.NewAdmissionService(
		tableStore, sessionStore, venueStore, userStore, ledgerStore,
		holdStore, nil, b, notify.FromEnv(), gateway.FromEnv(), cfg.PaymentWindow,
	)
	b.Admission = admission

	ctx := context.Background()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-cfg.PaymentWindow)
		stale, err := sessionStore.ListPendingOlderThan(ctx, cutoff)
		if err != nil {
			log.Printf("ListPendingOlderThan error: %v", err)
			continue
		}

		for _, sess := range stale {
			if err := admission.CancelExpiredPending(ctx, sess.ID); err != nil {
				log.Printf("cancel pending session %s error: %v", sess.ID, err)
			}
		}
	}
}
