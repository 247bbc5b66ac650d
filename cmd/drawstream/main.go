package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"drawstream/internal/app"
	"drawstream/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "drawstream",
	Short: "Donation-driven pixel drawing pipeline",
	Long: `drawstream turns stream donations into animated pixel drawings.
Donations arrive over a push channel with a polling fallback, pass a content
gatekeeper, get a drawing plan from a text-completion backend, and render one
at a time on a small canvas. An HTTP API exposes the queue, skip/clear
commands, manual donations, and a live status stream.`,
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("api", "http://127.0.0.1:8080", "control API base URL")
	rootCmd.PersistentFlags().String("token", "", "bearer token for mutating commands")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("api", rootCmd.PersistentFlags().Lookup("api"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(skipCmd())
	rootCmd.AddCommand(clearCmd())
	rootCmd.AddCommand(donateCmd())
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the full pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
			slog.SetDefault(log)

			a, err := app.New(cfg, log)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue and renderer status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body struct {
				Phase            string  `json:"phase"`
				Caption          string  `json:"caption"`
				Progress         float64 `json:"progress"`
				StepIndex        int     `json:"step_index"`
				StepCount        int     `json:"step_count"`
				HoldRemainingSec float64 `json:"hold_remaining_sec"`
				QueueSize        int     `json:"queue_size"`
				FPS              float64 `json:"fps"`
				Active           *struct {
					Donor    string `json:"donor"`
					Message  string `json:"message"`
					Amount   string `json:"amount"`
					Currency string `json:"currency"`
				} `json:"active"`
				NextUp []struct {
					Donor   string  `json:"donor"`
					Message string  `json:"message"`
					ETASec  float64 `json:"eta_sec"`
				} `json:"next_up"`
			}
			if err := apiCall(cmd.Context(), http.MethodGet, "/queue", nil, &body); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(body)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"field", "value"})
			tw.AppendRow(table.Row{"phase", body.Phase})
			if body.Active != nil {
				tw.AppendRow(table.Row{"donor", body.Active.Donor})
				tw.AppendRow(table.Row{"message", body.Active.Message})
				tw.AppendRow(table.Row{"amount", body.Active.Amount + " " + body.Active.Currency})
				tw.AppendRow(table.Row{"caption", body.Caption})
				tw.AppendRow(table.Row{"step", fmt.Sprintf("%d/%d (%.0f%%)", body.StepIndex+1, body.StepCount, body.Progress*100)})
			}
			if body.HoldRemainingSec > 0 {
				tw.AppendRow(table.Row{"hold", fmt.Sprintf("%.0fs", body.HoldRemainingSec)})
			}
			tw.AppendRow(table.Row{"queue", body.QueueSize})
			tw.AppendRow(table.Row{"fps", fmt.Sprintf("%.0f", body.FPS)})
			tw.Render()

			if len(body.NextUp) > 0 {
				nt := table.NewWriter()
				nt.SetOutputMirror(os.Stdout)
				nt.AppendHeader(table.Row{"#", "donor", "message", "eta"})
				for i, e := range body.NextUp {
					nt.AppendRow(table.Row{i + 1, e.Donor, e.Message, fmt.Sprintf("~%.0fs", e.ETASec)})
				}
				nt.Render()
			}
			return nil
		},
	}
}

func skipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skip",
		Short: "Skip the active drawing",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body struct {
				Status string `json:"status"`
			}
			if err := apiCall(cmd.Context(), http.MethodPost, "/queue/skip", nil, &body); err != nil {
				return err
			}
			fmt.Println("skipped")
			return nil
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop all pending donations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body struct {
				Removed int `json:"removed"`
			}
			if err := apiCall(cmd.Context(), http.MethodPost, "/queue/clear", nil, &body); err != nil {
				return err
			}
			fmt.Printf("removed %d pending donation(s)\n", body.Removed)
			return nil
		},
	}
}

func donateCmd() *cobra.Command {
	var donor, amount, currency string
	cmd := &cobra.Command{
		Use:   "donate <message>",
		Short: "Inject a manual donation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{
				"message":  args[0],
				"donor":    donor,
				"amount":   amount,
				"currency": currency,
			}
			var body struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			}
			if err := apiCall(cmd.Context(), http.MethodPost, "/commands/donate", req, &body); err != nil {
				return err
			}
			fmt.Printf("accepted %s\n", body.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&donor, "donor", "", "donor name")
	cmd.Flags().StringVar(&amount, "amount", "0", "donation amount")
	cmd.Flags().StringVar(&currency, "currency", "USD", "donation currency")
	return cmd
}

func apiCall(ctx context.Context, method, path string, payload any, out any) error {
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, viper.GetString("api")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := viper.GetString("token"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode >= 300 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
			return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return errors.New(http.StatusText(res.StatusCode))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
