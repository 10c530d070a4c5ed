package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"presence/internal/apiclient"
	"presence/internal/logging"
	"presence/internal/rotator"
)

var presentCmd = &cobra.Command{
	Use:   "present <course-id>",
	Short: "Project today's rotating code for a course",
	Long: `Open today's session for the course and keep rotating its code,
showing the current code, a terminal QR and a countdown until it expires.
Press Ctrl+C to stop; the server-side session stays open unless --close.

With --follow the command only mirrors the code of a session another
device is rotating, e.g. a second projector in a large hall.

Examples:
  attendctl present 6f1c... --token $API_TOKEN
  attendctl present 6f1c... --follow --every 5s`,
	Args: cobra.ExactArgs(1),
	RunE: runPresent,
}

func init() {
	presentCmd.Flags().String("api", "", "API base URL (default: API_BASE_URL)")
	presentCmd.Flags().String("token", "", "Bearer token (default: API_TOKEN)")
	presentCmd.Flags().Duration("every", 30*time.Second, "Rotation interval")
	presentCmd.Flags().Bool("qr", true, "Render the code as a terminal QR")
	presentCmd.Flags().Bool("close", false, "Close the session on exit")
	presentCmd.Flags().Bool("follow", false, "Mirror the current code without rotating it")
}

func runPresent(cmd *cobra.Command, args []string) error {
	courseID := args[0]
	baseURL, _ := cmd.Flags().GetString("api")
	token, _ := cmd.Flags().GetString("token")
	every, _ := cmd.Flags().GetDuration("every")
	showQR, _ := cmd.Flags().GetBool("qr")
	closeOnExit, _ := cmd.Flags().GetBool("close")
	follow, _ := cmd.Flags().GetBool("follow")
	if baseURL == "" {
		baseURL = cfg.APIBaseURL
	}
	if token == "" {
		token = cfg.APIToken
	}
	if token == "" {
		return errors.New("a professor token is required (--token or API_TOKEN)")
	}

	client := apiclient.New(baseURL, token)
	healthCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	err := client.Health(healthCtx)
	cancel()
	if err != nil {
		return err
	}

	fetch := client.Activate
	if follow {
		fetch = client.CurrentCode
		if !cmd.Flags().Changed("every") {
			every = 5 * time.Second
		}
	}
	var date string
	src := rotator.SourceFunc(func(ctx context.Context, id string) (rotator.Code, error) {
		res, err := fetch(ctx, id)
		if err != nil {
			return rotator.Code{}, err
		}
		date = res.Date
		return rotator.Code{CourseID: res.CourseID, Value: res.Code, ExpiresAt: res.ExpiresAt}, nil
	})

	var shown string
	ctl := rotator.New(src, rotator.Options{
		RotateEvery: every,
		OnCode: func(c rotator.Code) {
			if c.Value != shown {
				shown = c.Value
				showCode(c, showQR)
			}
		},
		OnTick: func(_ rotator.Code, remaining time.Duration) {
			fmt.Printf("\r  expires in %2ds ", int(remaining.Round(time.Second)/time.Second))
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "\nrotation failed: %v\n", err)
		},
		Logger: logging.WithComponent("rotator"),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctl.Select(ctx, courseID); err != nil {
		return err
	}
	<-ctx.Done()
	ctl.Stop()
	fmt.Println()

	if closeOnExit && date != "" {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.CloseSession(closeCtx, courseID, date); err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}
		fmt.Println("✓ Session closed")
	}
	return nil
}

// showCode clears the terminal and prints the code, with a QR when asked.
func showCode(c rotator.Code, withQR bool) {
	fmt.Print("\033[H\033[2J")
	if withQR {
		if q, err := qrcode.New(c.Value, qrcode.Medium); err == nil {
			fmt.Println(q.ToSmallString(false))
		}
	}
	fmt.Printf("  Course %s\n\n  CODE  %s\n\n", c.CourseID, c.Value)
}
