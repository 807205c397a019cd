package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"

	"docportal/pkg/mail"
	"docportal/pkg/realtime"
	"docportal/pkg/storage"
	"docportal/pkg/update"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

var (
	jwtSecret     []byte // loaded from env JWT_SECRET (fallback to dev default)
	publicBaseURL string

	hub         *realtime.Hub
	noteSource  *noteStore
	sessions    *sessionRegistry
	objectStore storage.ObjectStore
	localStore  *storage.Local
	mailer      mail.Mailer
	bundles     *update.BundlePlatform
	updater     *update.Coordinator

	reloadCounter atomic.Int64
)

// reloadEpoch increments whenever the active build changes underneath
// running shells; clients reload when they observe a new value.
func reloadEpoch() int64 { return reloadCounter.Load() }

func main() {
	// Auto-load ./.env if present before reading vars; existing env wins.
	_ = godotenv.Load()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-insecure-secret-change" // development fallback
	}
	jwtSecret = []byte(secret)

	publicBaseURL = os.Getenv("PUBLIC_BASE_URL")
	if publicBaseURL == "" {
		publicBaseURL = "http://localhost:8081"
	}

	// Support a lightweight migrate command: `./docportal migrate`
	// It runs AutoMigrate and seeding then exits. Useful for CI or manual DB setup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		initDB()
		fmt.Println("migration and seeding completed")
		return
	}

	initDB()
	initApp()
	updater.StartWatching(context.Background())

	r := gin.Default()
	setupRoutes(r)

	addr := ":8081"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	// CORS is handled at the outer layer so preflight requests never reach
	// method-restricted routes.
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		MaxAge:           600,
		AllowCredentials: false,
	}).Handler(r)
	log.Printf("portal listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, handler))
}

// initApp wires the process-wide collaborators once, after initDB. All
// handlers share these instead of constructing clients per operation.
func initApp() {
	hub = realtime.NewHub()
	noteSource = &noteStore{db: db, hub: hub}
	sessions = newSessionRegistry(noteSource)
	objectStore = buildObjectStore()
	mailer = buildMailer()

	bundles = update.NewBundlePlatform(os.Getenv("BUNDLE_DIR"))
	updater = update.NewCoordinator(bundles, func() {
		reloadCounter.Add(1)
		log.Println("active build changed, shells will reload")
	}, nil)
}

// buildObjectStore prefers GCS when a bucket is configured and falls back
// to the local uploads directory with HMAC-signed links.
func buildObjectStore() storage.ObjectStore {
	if bucket := os.Getenv("GCS_BUCKET"); bucket != "" {
		gcs, err := storage.NewGCS(context.Background(), bucket)
		if err == nil {
			log.Printf("object store: GCS bucket %s", bucket)
			return gcs
		}
		log.Printf("GCS init failed, falling back to local store: %v", err)
	}
	localStore = storage.NewLocal(uploadBaseDir(), publicBaseURL, jwtSecret)
	return localStore
}

func buildMailer() mail.Mailer {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		return mail.LogMailer{}
	}
	port := 587
	if p, err := strconv.Atoi(os.Getenv("SMTP_PORT")); err == nil {
		port = p
	}
	from := os.Getenv("SMTP_FROM")
	if from == "" {
		from = "noreply@portale.local"
	}
	return mail.NewSMTPMailer(host, port, os.Getenv("SMTP_USER"), os.Getenv("SMTP_PASS"), from)
}
