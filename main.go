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

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Samoo1234/clinica-sub000/internal/api"
	"github.com/Samoo1234/clinica-sub000/internal/apperr"
	"github.com/Samoo1234/clinica-sub000/internal/auth"
	"github.com/Samoo1234/clinica-sub000/internal/autosave"
	"github.com/Samoo1234/clinica-sub000/internal/cache"
	"github.com/Samoo1234/clinica-sub000/internal/config"
	"github.com/Samoo1234/clinica-sub000/internal/consultation"
	"github.com/Samoo1234/clinica-sub000/internal/identity"
	"github.com/Samoo1234/clinica-sub000/internal/logging"
	"github.com/Samoo1234/clinica-sub000/internal/middleware"
	"github.com/Samoo1234/clinica-sub000/internal/migrate"
	"github.com/Samoo1234/clinica-sub000/internal/patient"
	"github.com/Samoo1234/clinica-sub000/internal/registry"
	"github.com/Samoo1234/clinica-sub000/internal/repo"
	"github.com/Samoo1234/clinica-sub000/internal/schedule"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinica",
		Short: "Consultas: agenda, cadastro central e prontuário",
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("migrations")
			skip, _ := cmd.Flags().GetBool("skip-migrate")
			return runServer(dir, skip)
		},
	}
	cmd.Flags().String("migrations", "migrations", "Path to migrations directory")
	cmd.Flags().Bool("skip-migrate", false, "Do not apply pending migrations on start")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			dry, _ := cmd.Flags().GetBool("status")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.LogPretty)

			ctx := context.Background()
			pool, err := repo.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBMaxConnLifetime())
			if err != nil {
				return err
			}
			defer pool.Close()

			if dry {
				pending, err := migrate.Pending(ctx, pool, dir)
				if err != nil {
					return err
				}
				for _, v := range pending {
					fmt.Println("pending", v)
				}
				fmt.Printf("%d pending migration(s)\n", len(pending))
				return nil
			}
			applied, err := migrate.Run(ctx, pool, dir, logger)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", len(applied))
			return nil
		},
	}
	cmd.Flags().String("dir", "migrations", "Path to migrations directory")
	cmd.Flags().Bool("status", false, "Only list pending migrations")
	return cmd
}

// tokenCmd assina um JWT local para desenvolvimento (o login real é externo).
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development JWT",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			user, _ := cmd.Flags().GetString("user")
			doctor, _ := cmd.Flags().GetString("doctor")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if !auth.ValidRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			var doctorID *string
			if doctor != "" {
				doctorID = &doctor
			}
			tok, err := auth.BuildJWT([]byte(cfg.JWTSecret), user, role, doctorID, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().String("role", auth.RoleDoctor, "DOCTOR, RECEPTION or ADMIN")
	cmd.Flags().String("user", "dev", "User id")
	cmd.Flags().String("doctor", "", "Doctor id (agenda medico.id)")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func runServer(migrationsDir string, skipMigrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	ctx := context.Background()
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBMaxConnLifetime())
	if err != nil {
		return err
	}
	defer pool.Close()
	if !skipMigrate {
		if _, err := migrate.Run(ctx, pool, migrationsDir, logger); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}

	reg, err := registry.Open(cfg.RegistryDatabaseURL, logger)
	if err != nil {
		return err
	}
	defer reg.Close()
	if cfg.RegistryAutoMigrate {
		if err := reg.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("registry automigrate: %w", err)
		}
		logger.Warn().Msg("registry auto-migrate enabled (dev only)")
	}

	scheduleCache := cache.New(cfg.ScheduleCacheTTL())
	defer scheduleCache.Close()
	agenda := schedule.NewCached(schedule.NewClient(schedule.Config{
		BaseURL: cfg.ScheduleAPIURL,
		APIKey:  cfg.ScheduleAPIKey,
		Timeout: cfg.ScheduleTimeout(),
	}, logger), scheduleCache)
	if cfg.ScheduleAPIURL == "" {
		logger.Warn().Msg("SCHEDULE_API_URL empty: agenda integration disabled")
	}

	resolver := identity.NewResolver(reg, logger)
	patients := patient.NewSynchronizer(repo.PatientStore{Pool: pool}, logger)
	records := repo.MedicalRecordStore{Pool: pool}
	manager := consultation.NewManager(consultation.Deps{
		Store:    repo.ConsultationStore{Pool: pool},
		Records:  records,
		Patients: patients,
		Resolver: resolver,
		Agenda:   agenda,
		Log:      logger,
	})

	edits := autosave.New[uuid.UUID, consultation.Patch](
		func(ctx context.Context, id uuid.UUID, p consultation.Patch) error {
			_, err := manager.Update(ctx, id, p)
			return err
		},
		consultation.Patch.Merge,
		autosave.Options{
			Delay: cfg.AutosaveDelay(),
			Permanent: func(err error) bool {
				return errors.Is(err, apperr.ErrValidation) || errors.Is(err, apperr.ErrNotFound)
			},
			Log: logger,
		},
	)
	manager.SetPendingEdits(edits)

	h := &api.Handler{
		Consultations: manager,
		Autosave:      edits,
		Identity:      resolver,
		Registry:      reg,
		Patients:      patients,
		Records:       records,
		Agenda:        agenda,
		Audit:         repo.AuditLog{Pool: pool},
		Ready: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("local db: %w", err)
			}
			return reg.Ping(ctx)
		},
		Log: logger,
	}
	r := h.Router([]byte(cfg.JWTSecret))

	chain := middleware.Recover(logger)(
		middleware.RequestID(
			middleware.AccessLog(logger)(
				middleware.Timeout(cfg.RequestTimeout())(
					middleware.CORS(cfg.CORSOrigins)(
						middleware.Gzip(r))))))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout() + 5*time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	// nenhuma edição pendente é descartada no desligamento
	if err := edits.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("flush pending edits on shutdown")
	}
	logger.Info().Int("pending_edits", edits.Len()).Msg("server stopped")
	return nil
}
