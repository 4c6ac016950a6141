package hydractl

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hydra-mesh/hydra/audit"
	"github.com/hydra-mesh/hydra/config"
	"github.com/hydra-mesh/hydra/constant"
	"github.com/hydra-mesh/hydra/coordinator"
	"github.com/hydra-mesh/hydra/coordinator/memcoord"
	"github.com/hydra-mesh/hydra/coordinator/natscoord"
	"github.com/hydra-mesh/hydra/httpapi"
	"github.com/hydra-mesh/hydra/hydra"
	"github.com/hydra-mesh/hydra/logger"
)

var (
	serveCoordinator string
	serveNatsServers string
	serveNatsEmbed   bool
	serveNatsBucket  string
	serveHTTPAddr    string
	serveRoutes      []string
	serveJWTSecret   string
	serveAuditType   string
	serveAuditDSN    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Register this instance on the mesh and serve its introspection API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveCoordinator, "coordinator", "mem", "coordinator backend: mem or nats")
	serveCmd.Flags().StringVar(&serveNatsServers, "nats-servers", "", "comma-separated NATS server URLs (nats coordinator only)")
	serveCmd.Flags().BoolVar(&serveNatsEmbed, "nats-embedded", true, "start an in-process NATS server when --nats-servers is empty")
	serveCmd.Flags().StringVar(&serveNatsBucket, "nats-bucket", "hydra", "JetStream key/value bucket name (nats coordinator only)")
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http-addr", ":8080", "address the introspection API listens on")
	serveCmd.Flags().StringSliceVar(&serveRoutes, "route", nil, "route pattern to register, e.g. \"[get]/v1/charge\" (repeatable)")
	serveCmd.Flags().StringVar(&serveJWTSecret, "jwt-secret", "", "require this bearer secret on the introspection API")
	serveCmd.Flags().StringVar(&serveAuditType, "audit", "", "enable an audit trail: sqlite or postgres")
	serveCmd.Flags().StringVar(&serveAuditDSN, "audit-dsn", "hydra-audit.db", "audit trail DSN")
}

func loadServeConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.Load(cfgPath)
	}
	return config.LoadFromEnv("HYDRA_")
}

func connectCoordinator(ctx context.Context) (coordinator.Coordinator, func() error, error) {
	switch serveCoordinator {
	case "", "mem":
		c := memcoord.New()
		return c, func() error { return c.Close() }, nil
	case "nats":
		c, err := natscoord.Connect(ctx, natscoord.Options{
			Servers:  serveNatsServers,
			Embedded: serveNatsEmbed && serveNatsServers == "",
			Bucket:   serveNatsBucket,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats coordinator: %w", err)
		}
		return c, c.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown --coordinator %q (want mem or nats)", serveCoordinator)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord, closeCoord, err := connectCoordinator(ctx)
	if err != nil {
		return err
	}
	defer closeCoord()

	if err := cfg.ResolveConfigLabel(ctx, coord, constant.DefaultKeyPrefix); err != nil {
		return err
	}

	var auditor *audit.Trail
	if serveAuditType != "" {
		auditor, err = audit.Open(audit.Config{Type: audit.DbType(serveAuditType), DSN: serveAuditDSN})
		if err != nil {
			return fmt.Errorf("open audit trail: %w", err)
		}
	}

	f, err := hydra.New(cfg, coord, hydra.Options{Auditor: auditor})
	if err != nil {
		return err
	}

	name, ip, port, err := f.RegisterService(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("registered %s at %s:%s (instance %s)\n", name, ip, port, f.InstanceID())

	if len(serveRoutes) > 0 {
		if err := f.RegisterRoutes(ctx, serveRoutes); err != nil {
			return fmt.Errorf("register routes: %w", err)
		}
		fmt.Printf("registered routes: %s\n", strings.Join(serveRoutes, ", "))
	}

	var jwtSecret []byte
	if serveJWTSecret != "" {
		jwtSecret = []byte(serveJWTSecret)
	}
	apiServer := httpapi.New(f, logger.NewLogger(cfg.Hydra.ServiceName+".httpapi", cfg.LogLevel), jwtSecret)

	httpSrv := &http.Server{Addr: serveHTTPAddr, Handler: apiServer.Router()}
	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("introspection API listening on %s\n", serveHTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	fmt.Println("shutting down")
	apiServer.Shutdown()
	_ = httpSrv.Shutdown(context.Background())
	return f.Shutdown(context.Background())
}
