package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/plan"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/planstore"
	"github.com/ngoclaw/ngoclaw/gateway/internal/interfaces/websocket"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "local HTTP control-plane over the plan store: GET /plan, POST /plan/retry/:id, live updates over /ws",
		RunE:  runServe,
	}
	serveCmd.Flags().String("plan-file", "", "plan JSON path (defaults to <workspace>/.ngoclaw/plan.json)")
	serveCmd.Flags().Int("port", 8765, "listen port")
	return serveCmd
}

// runServe exposes a thin transport adapter over the same planstore.Store
// the "plan" subcommand drives directly: a read/retry HTTP surface, and a
// websocket relay so a UI can watch subtask status changes live instead of
// polling. It never runs subtasks itself — retry just flips a subtask back
// to pending for the next "ngoclaw-core plan" pass to pick up.
func runServe(cmd *cobra.Command, args []string) error {
	workspace, _ := cmd.Flags().GetString("workspace")
	if workspace == "" {
		workspace, _ = os.Getwd()
	}
	planFile, _ := cmd.Flags().GetString("plan-file")
	if planFile == "" {
		planFile = filepath.Join(workspace, ".ngoclaw", "plan.json")
	}
	port, _ := cmd.Flags().GetInt("port")

	c, err := buildCore(workspace, true)
	if err != nil {
		return err
	}
	defer c.log.Sync()

	store := planstore.New(planFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	hub := websocket.NewHub(c.log)
	go hub.Run(ctx)
	wsHandler := websocket.NewHandler(hub, c.log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/plan", func(gc *gin.Context) {
		current, err := store.Load(gc.Request.Context())
		if err != nil {
			gc.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if current == nil {
			gc.JSON(http.StatusNotFound, gin.H{"error": "no plan at " + planFile})
			return
		}
		gc.JSON(http.StatusOK, current)
	})

	router.POST("/plan/retry/:id", func(gc *gin.Context) {
		id := gc.Param("id")
		err := store.Mutate(gc.Request.Context(), func(current *plan.TaskPlan) (*plan.TaskPlan, error) {
			if current == nil {
				return nil, fmt.Errorf("no plan at %s", planFile)
			}
			st := current.ByID(id)
			if st == nil {
				return nil, fmt.Errorf("subtask %s not found", id)
			}
			plan.Retry(st)
			return current, nil
		})
		if err != nil {
			gc.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		hub.SendToSession(id, &websocket.WSMessage{Type: websocket.MessageTypeToolResult, ID: id, Content: "retry armed"})
		gc.JSON(http.StatusOK, gin.H{"status": "retry armed"})
	})

	router.GET("/ws", gin.WrapF(wsHandler.ServeWS))

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	c.log.Info("plan control-plane listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
