package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cohortkit/contexts"
	gam "cohortkit/middleware"
	"cohortkit/models"
	batchesMvc "cohortkit/mvc/batches"
	serviceInfoMvc "cohortkit/mvc/service-info"
	batchesRepo "cohortkit/repositories/batches"
	"cohortkit/services"
	"cohortkit/services/sanitation"

	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
	"github.com/spf13/cobra"
)

func init() {
	batchCmd.AddCommand(batchServeCmd)
}

var batchServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the batch API, executing submitted batches on this machine",

	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Using : \n"+
			"\tDebug : %t \n\n"+

			"\tDatabase Path : %s \n"+
			"\tScratch Directory : %s \n"+
			"\tWorkers per Batch : %d\n"+
			"\tConcurrent Batches : %d\n"+
			"\tRetention (hours) : %d\n\n"+

			"\tAuthorization Enabled : %t\n\n"+

			"Running on Port : %s\n",

			cfg.Debug,
			cfg.Server.DbPath, cfg.Server.ScratchDir,
			cfg.Server.Workers, cfg.Server.ConcurrentBatches,
			cfg.Server.RetentionHours,
			cfg.Server.AuthzEnabled,
			cfg.Server.Port)

		store, err := batchesRepo.Open(cfg.Server.DbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		// Service Singletons
		az := services.NewAuthzService(&cfg)
		bs := services.NewBatchService(&cfg, store, newStore(), log)
		bs.Init()
		defer bs.Shutdown()

		ss := sanitation.NewSanitationService(store, &cfg, log)
		if err := ss.Init(); err != nil {
			return err
		}
		defer ss.Stop()

		e := newServer(&cfg, az, bs)
		return serve(cmd.Context(), e, ":"+cfg.Server.Port)
	},
}

func newServer(cfg *models.Config, az *services.AuthzService, bs *services.BatchService) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Configure Server
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.PUT, echo.POST, echo.PATCH, echo.DELETE},
	}))

	// -- Override handlers with the custom context
	//		to be able to provide variables and global singletons
	e.Use(func(h echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &contexts.CohortContext{
				Context:      c,
				Config:       cfg,
				BatchService: bs,
			}
			return h(cc)
		}
	})

	// Begin MVC Routes
	// -- Root
	e.GET("/", serviceInfoMvc.GetWelcome)

	// -- Service Info
	e.GET("/service-info", serviceInfoMvc.GetServiceInfo)

	// -- Batches
	api := e.Group("/api/v1", az.MandateAuthorizationTokensMiddleware)
	api.POST("/batches", batchesMvc.SubmitBatch)
	api.GET("/batches", batchesMvc.GetBatches)
	api.GET("/batches/:id", batchesMvc.GetBatch,
		// middleware
		gam.MandateBatchIdAttribute)
	api.GET("/batches/:id/jobs", batchesMvc.GetBatchJobs,
		// middleware
		gam.MandateBatchIdAttribute)
	api.PATCH("/batches/:id/cancel", batchesMvc.CancelBatch,
		// middleware
		gam.MandateBatchIdAttribute)

	return e
}

// serve runs e until ctx is done, then drains in-flight requests
func serve(ctx context.Context, e *echo.Echo, address string) error {
	errs := make(chan error, 1)
	go func() {
		errs <- e.Start(address)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
