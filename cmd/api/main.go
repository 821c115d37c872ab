// cmd/api/main.go
// Main entry point for the application
// This file bootstraps all components and starts the server

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/connectdesk/crm-backend/internal/auth"
	"github.com/connectdesk/crm-backend/internal/chat"
	"github.com/connectdesk/crm-backend/internal/common/database"
	"github.com/connectdesk/crm-backend/internal/config"
	"github.com/connectdesk/crm-backend/internal/notification"
	"github.com/connectdesk/crm-backend/internal/realtime"
)

func main() {
	// Enable detailed logging
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	log.Println("========================================")
	log.Println("🚀 Starting ConnectDesk CRM Realtime API")
	log.Println("========================================")

	// 1. Load environment variables
	log.Println("📁 Step 1: Loading .env file...")
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  Warning: No .env file found (%v), using environment variables", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// 2. Load configuration
	log.Println("\n📋 Step 2: Loading configuration...")
	cfg := config.Load()
	log.Printf("✅ Configuration loaded")

	// 3. Validate configuration
	log.Println("\n✔️  Step 3: Validating configuration...")
	if err := cfg.Validate(); err != nil {
		log.Fatal("❌ Configuration validation failed:", err)
	}
	log.Println("✅ Configuration is valid")

	// 4. Connect to PostgreSQL
	log.Println("\n🗄️  Step 4: Connecting to PostgreSQL...")
	db, err := database.NewPostgresDBFromURL(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("❌ Failed to connect to PostgreSQL:", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("❌ Failed to ping PostgreSQL:", err)
	}
	log.Println("✅ Connected to PostgreSQL successfully")

	// 5. Connect to Redis (optional, powers the cross-instance broadcast bridge)
	log.Println("\n📮 Step 5: Connecting to Redis...")
	var redisClient *redis.Client

	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClientFromURL(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Warning: Redis unavailable (%v), continuing without Redis", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			log.Println("✅ Connected to Redis successfully")
		}
	} else {
		log.Println("⚠️  Redis URL not configured, skipping Redis connection")
	}

	// Background jobs share this context and stop on shutdown
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	// 6. Initialize realtime core
	log.Println("\n📡 Step 6: Initializing realtime core...")

	registry := realtime.NewRegistry()

	var broadcaster realtime.Broadcaster = registry
	if cfg.BridgeEnabled && redisClient != nil {
		bridge := realtime.NewRedisBridge(redisClient, registry, cfg.BridgeChannel)
		go bridge.Run(jobCtx)
		broadcaster = bridge
		log.Printf("   ✅ Broadcast bridge enabled on channel %q", cfg.BridgeChannel)
	} else {
		log.Println("   📝 Broadcasting to local sessions only")
	}

	limiter := realtime.NewConnLimiter(cfg.ConnAttemptsMax, cfg.ConnAttemptsWindow)
	go limiter.Run(jobCtx, cfg.ConnAttemptsWindow)

	log.Println("✅ Realtime core initialized")

	// 7. Initialize Notification module
	log.Println("\n🔔 Step 7: Initializing Notification module...")

	notificationRepo := notification.NewPostgresRepository(db)
	preferenceStore := notification.NewPostgresPreferences(db)
	recipientDirectory := notification.NewPostgresDirectory(db)

	// Email channel
	var emailService notification.EmailSender
	if cfg.EnableEmailNotifications {
		switch cfg.EmailProvider {
		case "sendgrid":
			emailService, err = notification.NewSendGridEmailService(cfg.SendGridAPIKey, cfg.EmailFrom)
			if err != nil {
				log.Printf("⚠️  Warning: Failed to initialize SendGrid: %v", err)
				emailService = notification.NewMockEmailService()
			} else {
				log.Println("   ✅ Using SendGrid for emails")
			}
		case "smtp":
			emailService, err = notification.NewSMTPEmailService(
				cfg.SMTPHost,
				cfg.SMTPPort,
				cfg.SMTPUser,
				cfg.SMTPPassword,
				cfg.EmailFrom,
			)
			if err != nil {
				log.Printf("⚠️  Warning: Failed to initialize SMTP: %v", err)
				emailService = notification.NewMockEmailService()
			} else {
				log.Println("   ✅ Using SMTP for emails")
			}
		default:
			emailService = notification.NewMockEmailService()
			log.Println("   📝 Using mock email provider (development mode)")
		}
	} else {
		log.Println("   ⚠️  Email notifications disabled")
	}

	// Push channel
	var pushService notification.PushSender
	if cfg.EnablePushNotifications {
		switch cfg.PushProvider {
		case "fcm":
			pushService, err = notification.NewFCMPushService(context.Background(), cfg.FCMCredentialsFile)
			if err != nil {
				log.Printf("⚠️  Warning: Failed to initialize FCM: %v", err)
				pushService = notification.NewMockPushService()
			} else {
				log.Println("   ✅ Using FCM for push notifications")
			}
		default:
			pushService = notification.NewMockPushService()
			log.Println("   📝 Using mock push provider (development mode)")
		}
	} else {
		log.Println("   ⚠️  Push notifications disabled")
	}

	// SMS channel
	var smsService notification.SMSSender
	if cfg.EnableSMSNotifications {
		switch cfg.SMSProvider {
		case "twilio":
			smsService, err = notification.NewTwilioSMSService(
				cfg.TwilioAccountSID,
				cfg.TwilioAuthToken,
				cfg.TwilioFromNumber,
			)
			if err != nil {
				log.Printf("⚠️  Warning: Failed to initialize Twilio: %v", err)
				smsService = notification.NewMockSMSService()
			} else {
				log.Println("   ✅ Using Twilio for SMS")
			}
		default:
			smsService = notification.NewMockSMSService()
			log.Println("   📝 Using mock SMS provider (development mode)")
		}
	} else {
		log.Println("   ⚠️  SMS notifications disabled")
	}

	dispatcher := notification.NewDispatcher(
		notificationRepo,
		preferenceStore,
		recipientDirectory,
		broadcaster,
		emailService,
		pushService,
		smsService,
	)

	notificationHandler := notification.NewHandler(dispatcher, registry, limiter, cfg.SendBufferSize, cfg.SessionIdleTimeout)

	// Expired notification cleanup
	sweeper := notification.NewExpirySweeper(notificationRepo, cfg.NotificationCleanupEvery)
	go sweeper.Start(jobCtx)

	log.Println("✅ Notification module initialized")

	// 8. Initialize Chat module
	log.Println("\n💬 Step 8: Initializing Chat module...")

	chatRepo := chat.NewPostgresRepository(db)

	// Media storage for message attachments
	var storage chat.StorageService
	if cfg.UseS3 {
		awsSess, err := awssession.NewSession(&aws.Config{
			Region:      aws.String(cfg.AWSRegion),
			Credentials: credentials.NewStaticCredentials(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		})
		if err != nil {
			log.Printf("⚠️  Warning: AWS session creation failed, using mock storage: %v", err)
			storage = chat.NewMockStorage()
		} else {
			storage = chat.NewS3Storage(awsSess, cfg.S3BucketName, cfg.BaseURL)
			log.Println("   ✅ Using S3 for message media")
		}
	} else {
		storage = chat.NewMockStorage()
		log.Println("   📝 Using mock media storage (development mode)")
	}

	typingTracker := chat.NewTypingTracker(broadcaster, cfg.TypingWindow)
	go typingTracker.Run(jobCtx, cfg.TypingSweepEvery)

	mentionExtractor := chat.NewMentionExtractor(chatRepo)
	chatNotifier := notification.NewChatNotifier(dispatcher)

	pipeline := chat.NewPipeline(chatRepo, storage, broadcaster, chatNotifier, mentionExtractor)
	guard := chat.NewAccessGuard(chatRepo)

	chatHandler := chat.NewHandler(pipeline, guard, typingTracker, registry, limiter, cfg.SendBufferSize, cfg.SessionIdleTimeout)

	log.Println("✅ Chat module initialized")

	// 9. Initialize authentication middleware
	log.Println("\n🔐 Step 9: Initializing authentication middleware...")
	authMiddleware := auth.NewMiddleware(cfg.JWTSecret)
	log.Println("✅ Authentication middleware initialized")

	// 10. Setup routes
	log.Println("\n🛣️  Step 10: Setting up routes...")
	router := mux.NewRouter()

	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	chat.RegisterRoutes(router, chatHandler, authMiddleware.Authenticate)
	chat.RegisterHealthCheck(router, chatHandler)
	log.Println("   ✅ Chat routes registered")

	notification.RegisterRoutes(router, notificationHandler, authMiddleware.Authenticate, authMiddleware.RequireElevated)
	notification.RegisterHealthCheck(router, notificationHandler)
	log.Println("   ✅ Notification routes registered")

	router.Use(loggingMiddleware)
	router.Use(corsMiddleware)

	// 11. Create and start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Println("\n========================================")
		log.Printf("🚀 Server starting on http://localhost%s", srv.Addr)
		log.Printf("🌍 Environment: %s", cfg.Environment)
		log.Println("========================================")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("❌ Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n⚠️  Shutdown signal received...")

	// Stop background jobs before tearing the server down
	sweeper.Stop()
	cancelJobs()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("❌ Server forced to shutdown:", err)
	}

	log.Println("✅ Server exited gracefully")
}

var startTime = time.Now()

// healthCheck returns server health status
func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":%q,"uptime":%q}`,
		time.Now().Format(time.RFC3339), time.Since(startTime).String())
}

// loggingMiddleware logs all requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		log.Printf("→ %s %s from %s", r.Method, r.RequestURI, r.RemoteAddr)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		log.Printf("← %s %s [%d] %v", r.Method, r.RequestURI, wrapped.statusCode, duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
