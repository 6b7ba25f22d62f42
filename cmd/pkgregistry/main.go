package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"pkgregistry/registry/auth"
	"pkgregistry/registry/bugzilla"
	"pkgregistry/registry/core"
	"pkgregistry/registry/events"
	"pkgregistry/registry/fas"
	"pkgregistry/registry/schema"
	"pkgregistry/registry/services"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type registryEnv struct {
	DatabaseUri string `env:"DATABASE_URI,required"`
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	JwtSecret   string `env:"JWT_SECRET,required"`

	AdminGroups     []string `env:"ADMIN_GROUPS" envSeparator:"," envDefault:"sysadmin-main,sysadmin-cvs"`
	AutoApproveAcls []string `env:"AUTO_APPROVE_ACLS" envSeparator:"," envDefault:"watchcommits,watchbugzilla"`

	FasUrl       string        `env:"FAS_URL,required"`
	FasUsername  string        `env:"FAS_USERNAME"`
	FasPassword  string        `env:"FAS_PASSWORD"`
	FasCacheTtl  time.Duration `env:"FAS_CACHE_TTL" envDefault:"5m"`
	FasVerbose   bool          `env:"FAS_VERBOSE"`
	BugzillaUrl  string        `env:"BUGZILLA_URL"`
	BugzillaKey  string        `env:"BUGZILLA_API_KEY"`
	BugzillaSync bool          `env:"BUGZILLA_SYNC" envDefault:"true"`

	CollectionSeedFile string `env:"COLLECTION_SEED_FILE"`

	LogFile      string `env:"LOG_FILE" envDefault:"pkgregistry.log"`
	AuditLogFile string `env:"AUDIT_LOG_FILE" envDefault:"pkgregistry_audit.log"`
	EventLogFile string `env:"EVENT_LOG_FILE" envDefault:"pkgregistry_events.log"`
}

func loadEnv(envFile string) registryEnv {
	if envFile != "" {
		slog.Info(fmt.Sprintf("loading env from file %v", envFile))
		if err := godotenv.Load(envFile); err != nil {
			log.Fatalf("error loading .env file '%v': %v", envFile, err)
		}
	}

	var cfg registryEnv
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing env config: %v", err)
	}
	return cfg
}

func (e *registryEnv) postgresDsn() string {
	parts, err := url.Parse(e.DatabaseUri)
	if err != nil {
		log.Fatalf("error parsing db uri: %v", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port())
}

func initLogging(logFile *os.File) {
	log.SetFlags(log.Lshortfile | log.Ltime | log.Ldate)
	log.SetOutput(io.MultiWriter(logFile, os.Stderr))
	slog.Info("logging initialized", "log_file", logFile.Name())
}

func initDb(dsn string) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	if err := db.AutoMigrate(schema.All()...); err != nil {
		log.Fatalf("error migrating db schema: %v", err)
	}

	return db
}

type collectionSeed struct {
	Collections []struct {
		Name        string `yaml:"name"`
		Version     string `yaml:"version"`
		Branchname  string `yaml:"branchname"`
		Status      string `yaml:"status"`
		AllowRetire bool   `yaml:"allow_retire"`
		DistTag     string `yaml:"dist_tag"`
		KojiName    string `yaml:"koji_name"`
	} `yaml:"collections"`
}

// seedCollections loads the initial branch set for a fresh deployment.
// Existing branchnames are left untouched.
func seedCollections(db *gorm.DB, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("error reading collection seed file '%v': %v", path, err)
	}

	var seed collectionSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		log.Fatalf("error parsing collection seed file '%v': %v", path, err)
	}

	for _, c := range seed.Collections {
		status := schema.CollectionStatus(c.Status)
		if status == "" {
			status = schema.CollectionUnderDevelopment
		}
		if !status.Valid() {
			log.Fatalf("invalid collection status '%v' in seed file", c.Status)
		}

		collection := schema.Collection{
			Name:        c.Name,
			Version:     c.Version,
			Branchname:  c.Branchname,
			Status:      status,
			AllowRetire: c.AllowRetire,
			DistTag:     c.DistTag,
			KojiName:    c.KojiName,
			CreatedAt:   time.Now().UTC(),
		}
		collection.Id = uuid.New()

		result := db.Where("branchname = ?", c.Branchname).FirstOrCreate(&collection)
		if result.Error != nil {
			log.Fatalf("error seeding collection %v: %v", c.Branchname, result.Error)
		}
	}

	slog.Info("collection seed applied", "path", path, "collections", len(seed.Collections))
}

func openLogFile(path string) *os.File {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("error opening log file '%v': %v", path, err)
	}
	return file
}

func main() {
	envFile := flag.String("env", "", "optional .env file to load")
	flag.Parse()

	cfg := loadEnv(*envFile)

	logFile := openLogFile(cfg.LogFile)
	defer logFile.Close()
	initLogging(logFile)

	db := initDb(cfg.postgresDsn())

	if cfg.CollectionSeedFile != "" {
		seedCollections(db, cfg.CollectionSeedFile)
	}

	dir := fas.NewCachedDirectory(fas.NewClient(fas.ClientArgs{
		BaseUrl:  cfg.FasUrl,
		Username: cfg.FasUsername,
		Password: cfg.FasPassword,
		Verbose:  cfg.FasVerbose,
	}), cfg.FasCacheTtl)

	var ownerSync bugzilla.OwnerSync = bugzilla.Disabled{}
	if cfg.BugzillaSync && cfg.BugzillaUrl != "" {
		ownerSync = bugzilla.NewClient(bugzilla.ClientArgs{
			BaseUrl: cfg.BugzillaUrl,
			ApiKey:  cfg.BugzillaKey,
		})
	}

	eventLog := openLogFile(cfg.EventLogFile)
	defer eventLog.Close()

	autoApprove := make([]schema.AclKind, 0, len(cfg.AutoApproveAcls))
	for _, kind := range cfg.AutoApproveAcls {
		autoApprove = append(autoApprove, schema.AclKind(kind))
	}

	engine := core.New(db, dir, ownerSync, events.NewLogSink(eventLog), core.Config{
		AdminGroups:     cfg.AdminGroups,
		AutoApproveAcls: autoApprove,
	})

	auditLogFile := openLogFile(cfg.AuditLogFile)
	defer auditLogFile.Close()

	registry := services.NewRegistry(
		db, engine,
		auth.NewJwtManager([]byte(cfg.JwtSecret)),
		auth.NewAuditLogger(auditLogFile),
	)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))
	r.Mount("/api/v1", registry.Routes())

	slog.Info("starting pkgregistry", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
