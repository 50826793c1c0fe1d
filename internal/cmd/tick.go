package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/orbis/fab/internal/fab"
	"github.com/orbis/fab/internal/window"
)

func init() {
	tickCmd.Flags().Int("ticks", 1, "Number of ticks to run")
	tickCmd.Flags().Int64("seed", 0, "Session seed")
	tickCmd.Flags().String("session", "local", "Session id")
	tickCmd.Flags().String("slice", "", "Path to a ZSlice JSON file (stdin when omitted)")
	tickCmd.Flags().Float64("stress", 0.1, "Stress signal applied each step")
	tickCmd.Flags().Float64("presence", 0.9, "Self-presence signal applied each step")
	tickCmd.Flags().Float64("error-rate", 0, "Error-rate signal applied each step")
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run the control loop locally for a few ticks",
	Long: `Run a local session against a candidate slice and print the final
mix diagnostics as JSON. Useful for tuning without a server.`,
	Example: `
# One tick from a slice file
fabd tick --slice slice.json

# Ten ticks under sustained calm signals
fabd tick --slice slice.json --ticks 10 --stress 0.1 --presence 0.9
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.Log)

		slice, err := readSlice(cmd)
		if err != nil {
			return err
		}

		ticks, _ := cmd.Flags().GetInt("ticks")
		seed, _ := cmd.Flags().GetInt64("seed")
		sessionID, _ := cmd.Flags().GetString("session")
		stress, _ := cmd.Flags().GetFloat64("stress")
		presence, _ := cmd.Flags().GetFloat64("presence")
		errorRate, _ := cmd.Flags().GetFloat64("error-rate")

		session := cfg.SessionConfig(sessionID, seed)
		session.Logger = logger
		core, err := fab.New(session, nil)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		var result *fab.MixResult
		for i := 0; i < ticks; i++ {
			if err := core.InitTick(""); err != nil {
				return err
			}
			if err := core.Fill(ctx, slice); err != nil {
				return err
			}
			if result, err = core.Mix(); err != nil {
				return err
			}
			if _, err := core.Step(stress, presence, errorRate); err != nil {
				return err
			}
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	},
}

func readSlice(cmd *cobra.Command) (*window.ZSlice, error) {
	path, _ := cmd.Flags().GetString("slice")

	var data []byte
	var err error
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = readStdin()
	}
	if err != nil {
		return nil, fmt.Errorf("read slice: %w", err)
	}

	var slice window.ZSlice
	if err := json.Unmarshal(data, &slice); err != nil {
		return nil, fmt.Errorf("parse slice: %w", err)
	}
	return &slice, nil
}

func readStdin() ([]byte, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return nil, fmt.Errorf("no slice file given and stdin is a terminal")
	}
	return io.ReadAll(os.Stdin)
}
