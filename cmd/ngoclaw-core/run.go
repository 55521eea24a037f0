package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/agentcore"
	"github.com/ngoclaw/ngoclaw/gateway/internal/interfaces/cli"
)

var (
	toolNameStyle = lipgloss.NewStyle().Foreground(cli.ColorCyan).Bold(true)
	toolDimStyle  = lipgloss.NewStyle().Foreground(cli.ColorGray)
	toolOKStyle   = lipgloss.NewStyle().Foreground(cli.ColorGreen)
	toolFailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
)

// runRun drives one complete_with_tools conversation through agentcore.Loop
// directly, printing the final answer through the same glamour/lipgloss
// renderer used by cmd/ngoclaw-core's other terminal output.
func runRun(cmd *cobra.Command, args []string) error {
	workspace, _ := cmd.Flags().GetString("workspace")
	if workspace == "" {
		workspace, _ = os.Getwd()
	}
	yolo, _ := cmd.Flags().GetBool("yolo")
	modelOverride, _ := cmd.Flags().GetString("model")

	c, err := buildCore(workspace, yolo)
	if err != nil {
		return err
	}
	defer c.log.Sync()

	model := c.cfg.Agent.DefaultModel
	if modelOverride != "" {
		model = modelOverride
	}

	if len(args) == 0 {
		return fmt.Errorf("usage: %s [message...]", coreName)
	}
	prompt := strings.Join(args, " ")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	loop := c.newLoop()
	messages := []agentcore.Message{
		{Role: "system", Content: fmt.Sprintf("You are NGOClaw, an autonomous coding agent working in %s.", workspace)},
		{Role: "user", Content: prompt},
	}

	result := loop.Run(ctx, model, workspace, messages, agentcore.Callbacks{
		OnIteration: func(n int) {
			c.log.Debug("iteration", zap.Int("n", n))
		},
		OnToolStart: func(call agentcore.ToolCallInfo) {
			fmt.Printf("%s %s%s\n", toolDimStyle.Render("→"), toolNameStyle.Render(call.Name), toolDimStyle.Render("("+call.Arguments+")"))
		},
		OnToolDone: func(call agentcore.ToolCallInfo, resultJSON string, failed bool) {
			status := toolOKStyle.Render("ok")
			if failed {
				status = toolFailStyle.Render("failed")
			}
			fmt.Printf("  %s: %s\n", status, toolDimStyle.Render(truncate(resultJSON, 200)))
		},
	})

	if result.StopReason != agentcore.StopNone {
		return fmt.Errorf("agent stopped without a final answer: %s (after %d iterations)", result.StopReason, result.Iterations)
	}

	width, _, err2 := term.GetSize(int(os.Stdout.Fd()))
	if err2 != nil || width <= 0 {
		width = 100
	}
	renderer := cli.NewRenderer(width)
	fmt.Println(renderer.RenderMarkdown(result.FinalText))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
