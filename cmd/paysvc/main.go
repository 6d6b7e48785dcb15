package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	natsio "github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	config "github.com/cuehall/venue-services/configs"
	"github.com/cuehall/venue-services/internal/comm"
	natscli "github.com/cuehall/venue-services/internal/nats"
	"github.com/cuehall/venue-services/internal/notify"
	"github.com/cuehall/venue-services/internal/tablesvc/gateway"
)

const SERVICE_NAME = "pay"

var instanceId string

func init() {
	instanceId = "001"
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

var telegramNotifier *notify.TelegramNotifier

func main() {
	telegramNotifier = notify.FromEnv()

	webhookSecret := []byte(os.Getenv("PAYMENT_WEBHOOK_SECRET"))
	if len(webhookSecret) == 0 {
		log.Fatal("PAYMENT_WEBHOOK_SECRET is required")
	}

	// Connect to NATS
	nc, err := natscli.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Conn.Close()
	log.Infof("NATS connected at %s", nc.Url)

	// opened intents, for operator visibility
	sub, err := nc.Conn.Subscribe(comm.TopicPaymentService, func(m *natsio.Msg) {
		handleIntentOpened(m)
	})
	if err != nil {
		log.Fatalf("Subscribe %s error: %v", comm.TopicPaymentService, err)
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// to protect the service api from any over requests
	rateLimitStr := os.Getenv("RATE_LIMIT")
	rateLimit, err := strconv.Atoi(rateLimitStr)
	if err != nil {
		log.Fatalf("Invalid RATE_LIMIT value: %v", err)
	}
	r.Use(httprate.LimitByIP(rateLimit, 1*time.Minute))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", healthHandler)
		r.Post("/webhook/payments", webhookHandler(nc, webhookSecret))
	})

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + os.Getenv("PAY_SERVICE_PORT"),
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

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "pay service is running at port " + os.Getenv("PAY_SERVICE_PORT"),
		"code":    200,
	})
}

// webhookHandler verifies the gateway signature over the raw body and
// forwards the event to the table service. The gateway retries until it
// sees a 2xx, so publish failures return 500.
func webhookHandler(nc *natscli.Nats, secret []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "unable to read body", http.StatusBadRequest)
			return
		}

		signature := r.Header.Get("X-Signature")
		if signature == "" || !gateway.VerifySignature(secret, body, signature) {
			log.Warnf("webhook signature rejected from %s", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var ev comm.PaymentEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if ev.PaymentIntentId == "" || (ev.Status != "success" && ev.Status != "failed") {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		if err := nc.Conn.Publish(comm.TopicPaymentEvents, payload); err != nil {
			log.Errorf("publish payment event: %v", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}

		log.Infof("payment event %s status=%s forwarded", ev.PaymentIntentId, ev.Status)

		if ev.Status == "success" && telegramNotifier != nil {
			message := fmt.Sprintf(
				"💰 *PAYMENT VERIFIED*\n\n"+
					"👤 *User ID:* %d\n"+
					"🎟 *Tokens:* %s\n"+
					"🔗 *Intent:* %s\n"+
					"⏰ *Time:* %s",
				ev.UserId,
				ev.Tokens,
				ev.PaymentIntentId,
				time.Now().Format("15:04:05"),
			)
			telegramNotifier.SendNotification(message)
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}
}

func handleIntentOpened(msg *natsio.Msg) {
	var ws comm.WSMessage
	if err := json.Unmarshal(msg.Data, &ws); err != nil {
		log.Errorf("invalid WSMessage: %v", err)
		return
	}
	if ws.Type != "purchase-intent-opened" {
		log.Warnf("unknown message type: %s", ws.Type)
		return
	}

	var intent comm.IntentOpened
	if err := json.Unmarshal(ws.Data, &intent); err != nil {
		log.Errorf("invalid IntentOpened: %v", err)
		return
	}

	log.Infof("purchase intent %s opened for user %d (%s tokens)",
		intent.PaymentIntentId, intent.UserId, intent.Tokens)

	if telegramNotifier != nil {
		message := fmt.Sprintf(
			"🧾 *PURCHASE INTENT OPENED*\n\n"+
				"👤 *User ID:* %d\n"+
				"🎟 *Tokens:* %s\n"+
				"🔗 *Intent:* %s",
			intent.UserId,
			intent.Tokens,
			intent.PaymentIntentId,
		)
		telegramNotifier.SendNotification(message)
	}
}
